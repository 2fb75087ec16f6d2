package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
)

var errDuplicateRecord = errors.New("duplicate key value violates unique constraint (tenant_id, sheet_id, entity_id)")

type sheetRepository struct {
	db *DB
}

var _ sheet.Repository = (*sheetRepository)(nil) // interface compliance check

func NewSheetRepository(db *DB) sheet.Repository {
	return &sheetRepository{db: db}
}

// Tx stages every write of fn and applies them at once when fn succeeds.
// Row locks taken by fn are held until then.
func (repo *sheetRepository) Tx(ctx context.Context, fn func(ctx context.Context, st sheet.Store) error) error {
	tx := &txStore{
		db:      repo.db,
		sheets:  make(map[string]sheet.Sheet),
		records: make(map[string]sheet.Record),
		held:    make(map[string]bool),
	}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "committing")
	}
	tx.commit()
	return nil
}

func (repo *sheetRepository) GetOrCreateSheet(ctx context.Context, sh sheet.Sheet) (stored sheet.Sheet, created bool, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		stored, created, err = st.GetOrCreateSheet(ctx, sh)
		return err
	})
	return stored, created, err
}

func (repo *sheetRepository) GetSheet(ctx context.Context, tenantID, sheetID string) (sh sheet.Sheet, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		sh, err = st.GetSheet(ctx, tenantID, sheetID)
		return err
	})
	return sh, err
}

func (repo *sheetRepository) LockSheet(ctx context.Context, tenantID, sheetID string) (sh sheet.Sheet, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		sh, err = st.LockSheet(ctx, tenantID, sheetID)
		return err
	})
	return sh, err
}

func (repo *sheetRepository) UpdateSheet(ctx context.Context, sh sheet.Sheet) error {
	return repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		return st.UpdateSheet(ctx, sh)
	})
}

func (repo *sheetRepository) FilterSheets(ctx context.Context, filter sheet.QueryFilter) (sheets []sheet.Sheet, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		sheets, err = st.FilterSheets(ctx, filter)
		return err
	})
	return sheets, err
}

func (repo *sheetRepository) QueryRecords(ctx context.Context, tenantID, sheetID string, entityIDs ...string) (records []sheet.Record, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		records, err = st.QueryRecords(ctx, tenantID, sheetID, entityIDs...)
		return err
	})
	return records, err
}

func (repo *sheetRepository) CreateRecord(ctx context.Context, rec sheet.Record) error {
	return repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		return st.CreateRecord(ctx, rec)
	})
}

func (repo *sheetRepository) UpdateRecord(ctx context.Context, rec sheet.Record) error {
	return repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		return st.UpdateRecord(ctx, rec)
	})
}

func (repo *sheetRepository) AppendAudit(ctx context.Context, entries ...sheet.AuditEntry) error {
	return repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		return st.AppendAudit(ctx, entries...)
	})
}

func (repo *sheetRepository) QueryAudit(ctx context.Context, tenantID, sheetID string) (entries []sheet.AuditEntry, err error) {
	err = repo.Tx(ctx, func(ctx context.Context, st sheet.Store) error {
		entries, err = st.QueryAudit(ctx, tenantID, sheetID)
		return err
	})
	return entries, err
}

// txStore reads through its staged writes to the committed tables.
type txStore struct {
	db *DB

	mu      sync.Mutex
	sheets  map[string]sheet.Sheet
	records map[string]sheet.Record
	audit   []sheet.AuditEntry
	held    map[string]bool
}

var _ sheet.Store = (*txStore)(nil)

func (tx *txStore) lock(ctx context.Context, key string) error {
	tx.mu.Lock()
	held := tx.held[key]
	tx.mu.Unlock()
	if held {
		return nil
	}

	if err := tx.db.locks.acquire(ctx, key); err != nil {
		return errors.Wrap(err, "waiting for lock")
	}
	tx.mu.Lock()
	tx.held[key] = true
	tx.mu.Unlock()
	return nil
}

func (tx *txStore) releaseLocks() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for key := range tx.held {
		tx.db.locks.release(key)
	}
	tx.held = nil
}

func (tx *txStore) commit() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tbl := tx.db.sheet
	tbl.Lock()
	defer tbl.Unlock()
	for id, sh := range tx.sheets {
		tbl.sheets[id] = sh
	}
	for id, rec := range tx.records {
		tbl.records[id] = rec
	}
	tbl.audit = append(tbl.audit, tx.audit...)
}

// getSheet must be called with tx.mu held.
func (tx *txStore) getSheet(tenantID, sheetID string) (sheet.Sheet, bool) {
	sh, ok := tx.sheets[sheetID]
	if !ok {
		tx.db.sheet.RLock()
		sh, ok = tx.db.sheet.sheets[sheetID]
		tx.db.sheet.RUnlock()
	}
	if !ok || sh.TenantID != tenantID {
		return sheet.Sheet{}, false
	}
	return sh, true
}

// allSheets must be called with tx.mu held.
func (tx *txStore) allSheets(tenantID string) []sheet.Sheet {
	tx.db.sheet.RLock()
	defer tx.db.sheet.RUnlock()

	sheets := make([]sheet.Sheet, 0, len(tx.db.sheet.sheets)+len(tx.sheets))
	for id, sh := range tx.db.sheet.sheets {
		if _, staged := tx.sheets[id]; !staged && sh.TenantID == tenantID {
			sheets = append(sheets, sh)
		}
	}
	for _, sh := range tx.sheets {
		if sh.TenantID == tenantID {
			sheets = append(sheets, sh)
		}
	}
	return sheets
}

// sheetRecords must be called with tx.mu held.
func (tx *txStore) sheetRecords(tenantID, sheetID string) []sheet.Record {
	tx.db.sheet.RLock()
	defer tx.db.sheet.RUnlock()

	var records []sheet.Record
	for id, rec := range tx.db.sheet.records {
		if _, staged := tx.records[id]; !staged && rec.TenantID == tenantID && rec.SheetID == sheetID {
			records = append(records, rec)
		}
	}
	for _, rec := range tx.records {
		if rec.TenantID == tenantID && rec.SheetID == sheetID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EntityID < records[j].EntityID })
	return records
}

func scopeLockKey(sh sheet.Sheet) string {
	return "scope:" + sh.TenantID + "|" + sh.Scope.Kind + "|" + sh.ScopeKey
}

func sheetLockKey(sheetID string) string {
	return "sheet:" + sheetID
}

func (tx *txStore) GetOrCreateSheet(ctx context.Context, sh sheet.Sheet) (sheet.Sheet, bool, error) {
	if err := tx.lock(ctx, scopeLockKey(sh)); err != nil {
		return sheet.Sheet{}, false, err
	}

	tx.mu.Lock()
	var existing *sheet.Sheet
	for _, s := range tx.allSheets(sh.TenantID) {
		if s.Scope.Kind == sh.Scope.Kind && s.ScopeKey == sh.ScopeKey {
			s := s
			existing = &s
			break
		}
	}
	if existing == nil {
		sh.Records = nil
		tx.sheets[sh.ID] = sh
	}
	tx.mu.Unlock()

	if existing != nil {
		stored, err := tx.LockSheet(ctx, existing.TenantID, existing.ID)
		return stored, false, err
	}
	if err := tx.lock(ctx, sheetLockKey(sh.ID)); err != nil {
		return sheet.Sheet{}, false, err
	}
	return sh, true, nil
}

func (tx *txStore) GetSheet(_ context.Context, tenantID, sheetID string) (sheet.Sheet, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if sh, ok := tx.getSheet(tenantID, sheetID); ok {
		return sh, nil
	}
	return sheet.Sheet{}, &core.NotFoundError{Resource: "sheet"}
}

func (tx *txStore) LockSheet(ctx context.Context, tenantID, sheetID string) (sheet.Sheet, error) {
	if _, err := tx.GetSheet(ctx, tenantID, sheetID); err != nil {
		return sheet.Sheet{}, err
	}
	if err := tx.lock(ctx, sheetLockKey(sheetID)); err != nil {
		return sheet.Sheet{}, err
	}
	// read again: the previous holder may have changed it
	return tx.GetSheet(ctx, tenantID, sheetID)
}

func (tx *txStore) UpdateSheet(_ context.Context, sh sheet.Sheet) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if _, ok := tx.getSheet(sh.TenantID, sh.ID); !ok {
		return &core.NotFoundError{Resource: "sheet"}
	}
	sh.Records = nil
	tx.sheets[sh.ID] = sh
	return nil
}

func (tx *txStore) FilterSheets(_ context.Context, filter sheet.QueryFilter) ([]sheet.Sheet, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	wanted := make(map[string]bool, len(filter.EntityIDs))
	for _, id := range filter.EntityIDs {
		wanted[id] = true
	}

	var sheets []sheet.Sheet
	for _, sh := range tx.allSheets(filter.TenantID) {
		if filter.Kind != "" && sh.Scope.Kind != filter.Kind {
			continue
		}
		if filter.Group != "" && sh.Scope.Group != filter.Group {
			continue
		}
		if !filter.Range.Contains(sh.Scope.Date) {
			continue
		}
		for _, rec := range tx.sheetRecords(filter.TenantID, sh.ID) {
			if len(wanted) == 0 || wanted[rec.EntityID] {
				sh.Records = append(sh.Records, rec)
			}
		}
		sheets = append(sheets, sh)
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].ScopeKey < sheets[j].ScopeKey })
	return sheets, nil
}

func (tx *txStore) QueryRecords(_ context.Context, tenantID, sheetID string, entityIDs ...string) ([]sheet.Record, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	records := tx.sheetRecords(tenantID, sheetID)
	if len(entityIDs) == 0 {
		return records, nil
	}
	wanted := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}
	filtered := make([]sheet.Record, 0, len(entityIDs))
	for _, rec := range records {
		if wanted[rec.EntityID] {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (tx *txStore) CreateRecord(_ context.Context, rec sheet.Record) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if _, ok := tx.getSheet(rec.TenantID, rec.SheetID); !ok {
		return &core.NotFoundError{Resource: "sheet"}
	}
	for _, r := range tx.sheetRecords(rec.TenantID, rec.SheetID) {
		if r.EntityID == rec.EntityID {
			return errDuplicateRecord
		}
	}
	tx.records[rec.ID] = rec
	return nil
}

func (tx *txStore) UpdateRecord(_ context.Context, rec sheet.Record) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, r := range tx.sheetRecords(rec.TenantID, rec.SheetID) {
		if r.ID == rec.ID {
			tx.records[rec.ID] = rec
			return nil
		}
	}
	return &core.NotFoundError{Resource: "record"}
}

func (tx *txStore) AppendAudit(_ context.Context, entries ...sheet.AuditEntry) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.audit = append(tx.audit, entries...)
	return nil
}

func (tx *txStore) QueryAudit(_ context.Context, tenantID, sheetID string) ([]sheet.AuditEntry, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.db.sheet.RLock()
	all := make([]sheet.AuditEntry, 0, len(tx.db.sheet.audit)+len(tx.audit))
	all = append(all, tx.db.sheet.audit...)
	tx.db.sheet.RUnlock()
	all = append(all, tx.audit...)

	var entries []sheet.AuditEntry
	for _, entry := range all {
		if entry.TenantID == tenantID && entry.SheetID == sheetID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
