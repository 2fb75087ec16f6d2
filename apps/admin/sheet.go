package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/sheets/core/sheet"
)

func (cli *commandLine) lock(ctx context.Context, tenantID, sheetID, actorID string) error {
	sh, err := cli.sheetSvc.Lock(ctx, tenantID, sheetID, actorID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "sheet %s (%s) is %s\n", sh.ID, sh.ScopeKey, sh.Status)
	return nil
}

func (cli *commandLine) unlock(ctx context.Context, tenantID, sheetID, actorID string) error {
	sh, err := cli.sheetSvc.Unlock(ctx, tenantID, sheetID, actorID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "sheet %s (%s) is %s\n", sh.ID, sh.ScopeKey, sh.Status)
	return nil
}

func (cli *commandLine) audit(ctx context.Context, tenantID, sheetID string) error {
	entries, err := cli.sheetSvc.AuditTrail(ctx, tenantID, sheetID)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		diff, err := auditDiff(entry)
		if err != nil {
			return err
		}
		subject := "sheet"
		if entry.RecordID != nil {
			subject = "record " + *entry.RecordID
		}
		fmt.Fprintf(cli.out, "#%d %s %s %s by %s\n%s\n", i+1, entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), entry.Action, subject, entry.ActorID, diff)
	}
	return nil
}

// auditDiff renders the change recorded by entry as a unified diff of indented JSON.
func auditDiff(entry sheet.AuditEntry) (string, error) {
	before, err := indentJSON(entry.Before)
	if err != nil {
		return "", err
	}
	after, err := indentJSON(entry.After)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
}

func indentJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", errors.Wrap(err, "indenting audit snapshot")
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
