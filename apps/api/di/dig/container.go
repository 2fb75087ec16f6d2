package dig_container

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/sheets/apps/api/echo"
	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/entitlement"
	"github.com/trezcool/sheets/core/sheet"
	logsvc "github.com/trezcool/sheets/services/logger"
	"github.com/trezcool/sheets/storage/database"
	inmemdb "github.com/trezcool/sheets/storage/database/inmem"
	sqlxrepos "github.com/trezcool/sheets/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage is what the sheet service persists to; Closer releases its connections.
type Storage struct {
	dig.Out
	Repo   sheet.Repository
	Roster sheet.Roster
	Closer io.Closer
}

type serverParams struct {
	dig.In
	Conf     *core.Config
	Logger   core.Logger
	SheetSvc *sheet.Service
	Gate     entitlement.Gate
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.InMemory {
		loggerParam.Logger.Warn("using the in-memory database: nothing will be persisted")
		db, err := inmemdb.Open()
		if err != nil {
			loggerParam.Logger.Fatal(fmt.Sprintf("opening in-memory database: %v", err), err)
		}
		return Storage{
			Repo:   inmemdb.NewSheetRepository(db),
			Roster: inmemdb.NewRoster(db),
			Closer: closerFunc(func() error { return nil }),
		}
	}

	db, err := setUpDB(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{
		Repo:   sqlxrepos.NewSheetRepository(db),
		Roster: sqlxrepos.NewRoster(db),
		Closer: db,
	}
}

func newSheetConfig(conf *core.Config) core.SheetConfig {
	return conf.Sheet
}

func newGate(conf *core.Config) entitlement.Gate {
	return entitlement.NewConfigGate(conf.Entitlement)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:     p.Conf,
		Logger:   p.Logger,
		SheetSvc: p.SheetSvc,
		Gate:     p.Gate,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))
	must(c.Provide(newSheetConfig))
	must(c.Provide(sheet.NewService))
	must(c.Provide(newGate))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
