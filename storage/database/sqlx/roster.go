package sqlxrepos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core/sheet"
)

// Roster reads the entities expected on a sheet from the sheet_roster table.
type Roster struct {
	db *sqlx.DB
}

var _ sheet.RosterEditor = (*Roster)(nil) // interface compliance check

func NewRoster(db *sqlx.DB) *Roster {
	return &Roster{db: db}
}

func (r *Roster) ActiveEntities(ctx context.Context, tenantID string, scope sheet.Scope) ([]string, error) {
	ids := make([]string, 0)
	q := r.db.Rebind(`
		SELECT entity_id FROM sheet_roster
		WHERE tenant_id = ? AND kind = ? AND scope_group = ? AND active
		ORDER BY entity_id`)
	if err := r.db.SelectContext(ctx, &ids, q, tenantID, scope.Kind, scope.Group); err != nil {
		return nil, errors.Wrap(err, "selecting roster")
	}
	return ids, nil
}

// setActiveQuery renders one upsert for entityIDs, with "?" placeholders.
func setActiveQuery(tenantID, kind, group string, active bool, entityIDs []string) (string, []interface{}) {
	values := make([]string, 0, len(entityIDs))
	args := make([]interface{}, 0, 5*len(entityIDs))
	for _, id := range entityIDs {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, tenantID, kind, group, id, active)
	}
	q := "INSERT INTO sheet_roster (tenant_id, kind, scope_group, entity_id, active) VALUES " +
		strings.Join(values, ", ") +
		" ON CONFLICT (tenant_id, kind, scope_group, entity_id) DO UPDATE SET active = EXCLUDED.active"
	return q, args
}

func setActiveQueries(tenantID, kind, group string, active bool, entityIDs []string) []batchQuery {
	bounds := batchBounds(len(entityIDs))
	queries := make([]batchQuery, 0, len(bounds))
	for _, b := range bounds {
		q, args := setActiveQuery(tenantID, kind, group, active, entityIDs[b[0]:b[1]])
		queries = append(queries, batchQuery{query: q, args: args})
	}
	return queries
}

// SetActive enrols (or withdraws) entities of a group, all or none.
func (r *Roster) SetActive(ctx context.Context, tenantID, kind, group string, active bool, entityIDs ...string) (err error) {
	if len(entityIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, bq := range setActiveQueries(tenantID, kind, group, active, entityIDs) {
		if _, err = tx.ExecContext(ctx, tx.Rebind(bq.query), bq.args...); err != nil {
			return errors.Wrap(err, "updating roster")
		}
	}
	return errors.Wrap(tx.Commit(), "committing roster")
}
