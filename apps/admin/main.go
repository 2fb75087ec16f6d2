package main

import (
	"log"
	"os"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
	logsvc "github.com/trezcool/sheets/services/logger"
	"github.com/trezcool/sheets/storage/database"
	sqlxrepos "github.com/trezcool/sheets/storage/database/sqlx"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	rl := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	rl.Enable(!conf.Debug)
	logger = rl

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	roster := sqlxrepos.NewRoster(db)
	translator := core.NewTranslator()
	sheetSvc := sheet.NewService(
		sqlxrepos.NewSheetRepository(db),
		roster,
		logger,
		conf.Sheet,
		core.NewValidator(translator),
		translator,
	)

	// start CLI
	cli := commandLine{
		db:       db,
		sheetSvc: sheetSvc,
		roster:   roster,
		in:       os.Stdin,
		out:      os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("\nerror: "+err.Error(), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
