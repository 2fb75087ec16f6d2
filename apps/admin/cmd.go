package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/sheets/core/sheet"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp    = errors.New("help provided")
	errAborted = errors.New("aborted")
)

type commandLine struct {
	db       *sqlx.DB
	sheetSvc *sheet.Service
	roster   sheet.RosterEditor
	in       io.Reader
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                          - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  lock -tenant T -sheet S [-actor A] [-yes]       - permanently lock a sheet")
	fmt.Fprintln(cli.out, "  unlock -tenant T -sheet S [-actor A] [-yes]     - make a closed sheet editable again")
	fmt.Fprintln(cli.out, "  audit -tenant T -sheet S                        - print the audit trail of a sheet")
	fmt.Fprintln(cli.out, "  roster -tenant T -kind K -group G [-inactive] ENTITY...  - enrol (or withdraw) entities")
}

// sheetFlags are shared by the commands acting on one sheet.
type sheetFlags struct {
	set      *flag.FlagSet
	tenantID *string
	sheetID  *string
	actorID  *string
	yes      *bool
}

func newSheetFlags(name string, withActor bool) sheetFlags {
	f := sheetFlags{set: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.tenantID = f.set.String("tenant", "", "The tenant owning the sheet.")
	f.sheetID = f.set.String("sheet", "", "The sheet ID.")
	if withActor {
		f.actorID = f.set.String("actor", sheet.SystemActor, "The actor recorded in the audit trail.")
		f.yes = f.set.Bool("yes", false, "Do not ask for confirmation.")
	}
	return f
}

func (f sheetFlags) parse(args []string) error {
	if err := f.set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return err
	}
	if *f.tenantID == "" || *f.sheetID == "" {
		f.set.Usage()
		return errHelp
	}
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	ctx := context.Background()
	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "lock", "unlock":
		f := newSheetFlags(args[1], true)
		f.set.SetOutput(cli.out)
		if err := f.parse(args[2:]); err != nil {
			return err
		}
		if !*f.yes && !cli.confirm(fmt.Sprintf("%s sheet %s of tenant %s?", args[1], *f.sheetID, *f.tenantID)) {
			return errAborted
		}
		if args[1] == "lock" {
			return cli.lock(ctx, *f.tenantID, *f.sheetID, *f.actorID)
		}
		return cli.unlock(ctx, *f.tenantID, *f.sheetID, *f.actorID)
	case "audit":
		f := newSheetFlags(args[1], false)
		f.set.SetOutput(cli.out)
		if err := f.parse(args[2:]); err != nil {
			return err
		}
		return cli.audit(ctx, *f.tenantID, *f.sheetID)
	case "roster":
		return cli.runRoster(ctx, args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks a yes/no question when stdin is a terminal; scripts are not prompted.
func (cli *commandLine) confirm(question string) bool {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Fprintf(cli.out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
