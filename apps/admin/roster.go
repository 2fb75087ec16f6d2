package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
)

func (cli *commandLine) runRoster(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("roster", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	tenantID := cmd.String("tenant", "", "The tenant.")
	kind := cmd.String("kind", "attendance", "The sheet kind.")
	group := cmd.String("group", "", "The class or exam session.")
	inactive := cmd.Bool("inactive", false, "Withdraw the entities instead of enrolling them.")
	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return err
	}

	entityIDs := make([]string, 0, cmd.NArg())
	for _, id := range cmd.Args() {
		if id = core.CleanString(id); id != "" {
			entityIDs = append(entityIDs, id)
		}
	}
	if *tenantID == "" || *group == "" || len(entityIDs) == 0 {
		cmd.Usage()
		return errHelp
	}

	k := core.CleanString(*kind, true /* lower */)
	if err := cli.roster.SetActive(ctx, *tenantID, k, *group, !*inactive, entityIDs...); err != nil {
		return err
	}
	active, err := cli.roster.ActiveEntities(ctx, *tenantID, sheet.Scope{Kind: k, Group: *group})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d active in %s/%s\n", len(active), k, *group)
	return nil
}
