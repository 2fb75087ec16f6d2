package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
	"github.com/trezcool/sheets/storage/database"
)

// PrepareDB returns a migrated, empty Postgres database.
// Tests using it only run with ENV=TEST; everything else skips them.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conf := core.NewConfig()
	if !conf.TestMode {
		t.Skip("set ENV=TEST to run the database tests")
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.Exec("TRUNCATE sheet_audit, sheet_records, sheets, sheet_roster"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// OpenSheet enrols entityIDs in group and opens the attendance sheet of group for day.
func OpenSheet(
	t *testing.T,
	svc *sheet.Service,
	roster sheet.RosterEditor,
	tenantID, actorID, group string,
	day time.Time,
	entityIDs ...string,
) sheet.Sheet {
	t.Helper()

	ctx := context.Background()
	if err := roster.SetActive(ctx, tenantID, "attendance", group, true, entityIDs...); err != nil {
		t.Fatalf("OpenSheet() failed: %v", err)
	}
	sh, err := svc.Ensure(ctx, tenantID, actorID, sheet.NewSheet{
		Scope: sheet.Scope{Kind: "attendance", Group: group, Date: day},
	})
	if err != nil {
		t.Fatalf("OpenSheet() failed: %v", err)
	}
	return sh
}
