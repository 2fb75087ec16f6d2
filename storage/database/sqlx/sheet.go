package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
)

const (
	sheetColumns  = "id, tenant_id, kind, scope_group, scope_subject, scope_date, scope_key, status, created_at, updated_at, submitted_at, locked_at"
	recordColumns = "id, tenant_id, sheet_id, entity_id, payload, created_at, updated_at, updated_by"
	auditColumns  = "id, tenant_id, sheet_id, record_id, actor_id, action, before, after, created_at"

	uniqueViolation = "23505"
)

type (
	sheetRow struct {
		ID          string    `db:"id"`
		TenantID    string    `db:"tenant_id"`
		Kind        string    `db:"kind"`
		Group       string    `db:"scope_group"`
		Subject     string    `db:"scope_subject"`
		Date        time.Time `db:"scope_date"`
		ScopeKey    string    `db:"scope_key"`
		Status      string    `db:"status"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
		SubmittedAt null.Time `db:"submitted_at"`
		LockedAt    null.Time `db:"locked_at"`
	}

	recordRow struct {
		ID        string         `db:"id"`
		TenantID  string         `db:"tenant_id"`
		SheetID   string         `db:"sheet_id"`
		EntityID  string         `db:"entity_id"`
		Payload   types.JSONText `db:"payload"`
		CreatedAt time.Time      `db:"created_at"`
		UpdatedAt time.Time      `db:"updated_at"`
		UpdatedBy string         `db:"updated_by"`
	}

	auditRow struct {
		ID        string         `db:"id"`
		TenantID  string         `db:"tenant_id"`
		SheetID   string         `db:"sheet_id"`
		RecordID  null.String    `db:"record_id"`
		ActorID   string         `db:"actor_id"`
		Action    string         `db:"action"`
		Before    null.JSON      `db:"before"`
		After     types.JSONText `db:"after"`
		CreatedAt time.Time      `db:"created_at"`
	}
)

func toSheetRow(sh sheet.Sheet) sheetRow {
	return sheetRow{
		ID:          sh.ID,
		TenantID:    sh.TenantID,
		Kind:        sh.Scope.Kind,
		Group:       sh.Scope.Group,
		Subject:     sh.Scope.Subject,
		Date:        sh.Scope.Date.UTC(),
		ScopeKey:    sh.ScopeKey,
		Status:      string(sh.Status),
		CreatedAt:   sh.CreatedAt.UTC(),
		UpdatedAt:   sh.UpdatedAt.UTC(),
		SubmittedAt: null.TimeFromPtr(sh.SubmittedAt),
		LockedAt:    null.TimeFromPtr(sh.LockedAt),
	}
}

func (row sheetRow) sheet() sheet.Sheet {
	y, m, d := row.Date.Date()
	return sheet.Sheet{
		ID:       row.ID,
		TenantID: row.TenantID,
		Scope: sheet.Scope{
			Kind:    row.Kind,
			Group:   row.Group,
			Subject: row.Subject,
			Date:    time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		},
		ScopeKey:    row.ScopeKey,
		Status:      sheet.Status(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		SubmittedAt: utcPtr(row.SubmittedAt),
		LockedAt:    utcPtr(row.LockedAt),
	}
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func toRecordRow(rec sheet.Record) (recordRow, error) {
	payload, err := json.Marshal(rec.Values)
	if err != nil {
		return recordRow{}, errors.Wrap(err, "encoding record values")
	}
	return recordRow{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		SheetID:   rec.SheetID,
		EntityID:  rec.EntityID,
		Payload:   payload,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
		UpdatedBy: rec.UpdatedBy,
	}, nil
}

func (row recordRow) record() (sheet.Record, error) {
	rec := sheet.Record{
		ID:        row.ID,
		TenantID:  row.TenantID,
		SheetID:   row.SheetID,
		EntityID:  row.EntityID,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
		UpdatedBy: row.UpdatedBy,
	}
	if err := row.Payload.Unmarshal(&rec.Values); err != nil {
		return sheet.Record{}, errors.Wrapf(err, "decoding values of record %s", row.ID)
	}
	return rec, nil
}

func (row auditRow) entry() sheet.AuditEntry {
	entry := sheet.AuditEntry{
		ID:        row.ID,
		TenantID:  row.TenantID,
		SheetID:   row.SheetID,
		RecordID:  row.RecordID.Ptr(),
		ActorID:   row.ActorID,
		Action:    sheet.Action(row.Action),
		After:     json.RawMessage(row.After),
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.Before.Valid {
		entry.Before = json.RawMessage(row.Before.JSON)
	}
	return entry
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// trapNoRowsErr maps "no rows" to a core.NotFoundError.
func trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Resource: "sheet"}
	}
	return errors.Wrap(err, msg)
}

type sheetRepository struct {
	store
	db *sqlx.DB
}

var _ sheet.Repository = (*sheetRepository)(nil) // interface compliance check

func NewSheetRepository(db *sqlx.DB) sheet.Repository {
	return &sheetRepository{store: store{exec: db}, db: db}
}

func (repo *sheetRepository) Tx(ctx context.Context, fn func(ctx context.Context, st sheet.Store) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(ctx, store{exec: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// store runs its queries on a *sqlx.DB or on a *sqlx.Tx.
type store struct {
	exec sqlx.ExtContext
}

var _ sheet.Store = store{}

func (st store) getSheet(ctx context.Context, forUpdate bool, where string, args ...interface{}) (sheet.Sheet, error) {
	q := "SELECT " + sheetColumns + " FROM sheets WHERE " + where
	if forUpdate {
		q += " FOR UPDATE"
	}
	var row sheetRow
	if err := sqlx.GetContext(ctx, st.exec, &row, st.exec.Rebind(q), args...); err != nil {
		return sheet.Sheet{}, trapNoRowsErr(err, "selecting sheet")
	}
	return row.sheet(), nil
}

func (st store) GetOrCreateSheet(ctx context.Context, sh sheet.Sheet) (sheet.Sheet, bool, error) {
	res, err := sqlx.NamedExecContext(ctx, st.exec, `
		INSERT INTO sheets (`+sheetColumns+`)
		VALUES (:id, :tenant_id, :kind, :scope_group, :scope_subject, :scope_date, :scope_key, :status, :created_at, :updated_at, :submitted_at, :locked_at)
		ON CONFLICT (tenant_id, kind, scope_key) DO NOTHING`,
		toSheetRow(sh),
	)
	if err != nil {
		return sheet.Sheet{}, false, errors.Wrap(err, "inserting sheet")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sheet.Sheet{}, false, errors.Wrap(err, "inserting sheet")
	}

	stored, err := st.getSheet(ctx, true, "tenant_id = ? AND kind = ? AND scope_key = ?", sh.TenantID, sh.Scope.Kind, sh.ScopeKey)
	if err != nil {
		return sheet.Sheet{}, false, err
	}
	return stored, n == 1, nil
}

func (st store) GetSheet(ctx context.Context, tenantID, sheetID string) (sheet.Sheet, error) {
	if _, err := uuid.Parse(sheetID); err != nil {
		return sheet.Sheet{}, &core.NotFoundError{Resource: "sheet"}
	}
	return st.getSheet(ctx, false, "tenant_id = ? AND id = ?", tenantID, sheetID)
}

func (st store) LockSheet(ctx context.Context, tenantID, sheetID string) (sheet.Sheet, error) {
	if _, err := uuid.Parse(sheetID); err != nil {
		return sheet.Sheet{}, &core.NotFoundError{Resource: "sheet"}
	}
	return st.getSheet(ctx, true, "tenant_id = ? AND id = ?", tenantID, sheetID)
}

func (st store) UpdateSheet(ctx context.Context, sh sheet.Sheet) error {
	res, err := sqlx.NamedExecContext(ctx, st.exec, `
		UPDATE sheets
		SET status = :status, updated_at = :updated_at, submitted_at = :submitted_at, locked_at = :locked_at
		WHERE tenant_id = :tenant_id AND id = :id`,
		toSheetRow(sh),
	)
	if err != nil {
		return errors.Wrap(err, "updating sheet")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "updating sheet")
	} else if n == 0 {
		return &core.NotFoundError{Resource: "sheet"}
	}
	return nil
}

// filterSheetsQuery renders the sheet query of filter, with "?" placeholders.
func filterSheetsQuery(filter sheet.QueryFilter) (string, []interface{}) {
	conds := []string{"tenant_id = ?"}
	args := []interface{}{filter.TenantID}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Group != "" {
		conds = append(conds, "scope_group = ?")
		args = append(args, filter.Group)
	}
	if !filter.Range.From.IsZero() {
		conds = append(conds, "scope_date >= ?")
		args = append(args, filter.Range.From.UTC().Format("2006-01-02"))
	}
	if !filter.Range.To.IsZero() {
		conds = append(conds, "scope_date <= ?")
		args = append(args, filter.Range.To.UTC().Format("2006-01-02"))
	}
	q := "SELECT " + sheetColumns + " FROM sheets WHERE " + strings.Join(conds, " AND ") + " ORDER BY scope_key, id"
	return q, args
}

func (st store) FilterSheets(ctx context.Context, filter sheet.QueryFilter) ([]sheet.Sheet, error) {
	q, args := filterSheetsQuery(filter)
	var rows []sheetRow
	if err := sqlx.SelectContext(ctx, st.exec, &rows, st.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "filtering sheets")
	}
	if len(rows) == 0 {
		return []sheet.Sheet{}, nil
	}

	sheets := make([]sheet.Sheet, 0, len(rows))
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		sheets = append(sheets, row.sheet())
		ids = append(ids, row.ID)
		index[row.ID] = i
	}

	q = "SELECT " + recordColumns + " FROM sheet_records WHERE tenant_id = ? AND sheet_id = ANY(?)"
	args = []interface{}{filter.TenantID, pq.Array(ids)}
	if len(filter.EntityIDs) > 0 {
		q += " AND entity_id = ANY(?)"
		args = append(args, pq.Array(filter.EntityIDs))
	}
	q += " ORDER BY sheet_id, entity_id"

	records, err := st.selectRecords(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		i := index[rec.SheetID]
		sheets[i].Records = append(sheets[i].Records, rec)
	}
	return sheets, nil
}

func (st store) selectRecords(ctx context.Context, q string, args ...interface{}) ([]sheet.Record, error) {
	var rows []recordRow
	if err := sqlx.SelectContext(ctx, st.exec, &rows, st.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting records")
	}
	records := make([]sheet.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (st store) QueryRecords(ctx context.Context, tenantID, sheetID string, entityIDs ...string) ([]sheet.Record, error) {
	if _, err := uuid.Parse(sheetID); err != nil {
		return []sheet.Record{}, nil
	}
	q := "SELECT " + recordColumns + " FROM sheet_records WHERE tenant_id = ? AND sheet_id = ?"
	args := []interface{}{tenantID, sheetID}
	if len(entityIDs) > 0 {
		q += " AND entity_id = ANY(?)"
		args = append(args, pq.Array(entityIDs))
	}
	return st.selectRecords(ctx, q+" ORDER BY entity_id", args...)
}

func (st store) CreateRecord(ctx context.Context, rec sheet.Record) error {
	row, err := toRecordRow(rec)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, st.exec, `
		INSERT INTO sheet_records (`+recordColumns+`)
		VALUES (:id, :tenant_id, :sheet_id, :entity_id, :payload, :created_at, :updated_at, :updated_by)`,
		row,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(err, "record of entity %q already exists", rec.EntityID)
		}
		return errors.Wrap(err, "inserting record")
	}
	return nil
}

func (st store) UpdateRecord(ctx context.Context, rec sheet.Record) error {
	row, err := toRecordRow(rec)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, st.exec, `
		UPDATE sheet_records
		SET payload = :payload, updated_at = :updated_at, updated_by = :updated_by
		WHERE tenant_id = :tenant_id AND sheet_id = :sheet_id AND id = :id`,
		row,
	)
	if err != nil {
		return errors.Wrap(err, "updating record")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "updating record")
	} else if n == 0 {
		return &core.NotFoundError{Resource: "record"}
	}
	return nil
}

// maxBatchRows bounds the rows of one multi-row statement; postgres accepts at most 65535 bind parameters.
const maxBatchRows = 1000

// batchQuery is one statement of a write split by maxBatchRows.
type batchQuery struct {
	query string
	args  []interface{}
}

// batchBounds splits n rows into [start, end) ranges of at most maxBatchRows.
func batchBounds(n int) [][2]int {
	var bounds [][2]int
	for start := 0; start < n; start += maxBatchRows {
		end := start + maxBatchRows
		if end > n {
			end = n
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// appendAuditQuery renders one multi-row insert for entries, with "?" placeholders.
func appendAuditQuery(entries []sheet.AuditEntry) (string, []interface{}) {
	const placeholders = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, 9*len(entries))
	for _, entry := range entries {
		var before null.JSON
		if entry.Before != nil {
			before = null.JSONFrom(entry.Before)
		}
		values = append(values, placeholders)
		args = append(args,
			entry.ID, entry.TenantID, entry.SheetID, null.StringFromPtr(entry.RecordID), entry.ActorID,
			string(entry.Action), before, types.JSONText(entry.After), entry.CreatedAt.UTC(),
		)
	}
	return "INSERT INTO sheet_audit (" + auditColumns + ") VALUES " + strings.Join(values, ", "), args
}

// appendAuditQueries splits entries into inserts small enough for postgres.
// They must run in the same transaction.
func appendAuditQueries(entries []sheet.AuditEntry) []batchQuery {
	bounds := batchBounds(len(entries))
	queries := make([]batchQuery, 0, len(bounds))
	for _, b := range bounds {
		q, args := appendAuditQuery(entries[b[0]:b[1]])
		queries = append(queries, batchQuery{query: q, args: args})
	}
	return queries
}

func (st store) AppendAudit(ctx context.Context, entries ...sheet.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, bq := range appendAuditQueries(entries) {
		if _, err := st.exec.ExecContext(ctx, st.exec.Rebind(bq.query), bq.args...); err != nil {
			return errors.Wrap(err, "inserting audit entries")
		}
	}
	return nil
}

func (st store) QueryAudit(ctx context.Context, tenantID, sheetID string) ([]sheet.AuditEntry, error) {
	if _, err := uuid.Parse(sheetID); err != nil {
		return []sheet.AuditEntry{}, nil
	}
	var rows []auditRow
	q := "SELECT " + auditColumns + " FROM sheet_audit WHERE tenant_id = ? AND sheet_id = ? ORDER BY seq"
	if err := sqlx.SelectContext(ctx, st.exec, &rows, st.exec.Rebind(q), tenantID, sheetID); err != nil {
		return nil, errors.Wrap(err, "selecting audit entries")
	}
	entries := make([]sheet.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}
