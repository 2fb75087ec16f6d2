package sheet

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core"
)

type (
	// Store gives tenant-scoped access to sheets, records and audit entries.
	// Every method filters on the tenant id it is given; a sheet of another tenant is reported as not found.
	Store interface {
		// GetOrCreateSheet inserts sh unless a sheet with the same tenant, kind and scope key exists,
		// then returns the stored sheet locked for the rest of the transaction.
		GetOrCreateSheet(ctx context.Context, sh Sheet) (stored Sheet, created bool, err error)
		GetSheet(ctx context.Context, tenantID, sheetID string) (Sheet, error)
		// LockSheet returns the sheet and holds its row lock until the transaction ends.
		LockSheet(ctx context.Context, tenantID, sheetID string) (Sheet, error)
		UpdateSheet(ctx context.Context, sh Sheet) error
		// FilterSheets returns the sheets matching filter with their records, ordered by scope key.
		FilterSheets(ctx context.Context, filter QueryFilter) ([]Sheet, error)

		// QueryRecords returns the records of a sheet ordered by entity id.
		// With no entityIDs, every record of the sheet is returned.
		QueryRecords(ctx context.Context, tenantID, sheetID string, entityIDs ...string) ([]Record, error)
		CreateRecord(ctx context.Context, rec Record) error
		UpdateRecord(ctx context.Context, rec Record) error

		AppendAudit(ctx context.Context, entries ...AuditEntry) error
		QueryAudit(ctx context.Context, tenantID, sheetID string) ([]AuditEntry, error)
	}

	// Repository is a Store that can run a unit of work.
	// Tx commits when fn returns nil and rolls everything back otherwise.
	// Store methods called on the Repository itself run outside of any transaction.
	Repository interface {
		Store
		Tx(ctx context.Context, fn func(ctx context.Context, st Store) error) error
	}

	// Roster knows which entities are currently active in a scope.
	Roster interface {
		ActiveEntities(ctx context.Context, tenantID string, scope Scope) ([]string, error)
	}

	RosterEditor interface {
		Roster
		SetActive(ctx context.Context, tenantID, kind, group string, active bool, entityIDs ...string) error
	}

	// QueryFilter selects sheets for derived views.
	QueryFilter struct {
		TenantID string
		Kind     string
		Group    string
		Range    Range
		// EntityIDs restricts the loaded records, not the sheets.
		EntityIDs []string
	}
)

// Service runs the sheet lifecycle and reconciles record batches.
//
// Callers must check the tenant's entitlement to write the sheet kind before
// calling any mutating method; the service trusts the tenant id it is given.
type Service struct {
	repo       Repository
	roster     Roster
	kinds      Kinds
	validate   *validator.Validate
	translator ut.Translator
	logger     core.Logger
	chunkSize  int
	txTimeout  time.Duration
	now        func() time.Time
}

func NewService(
	repo Repository,
	roster Roster,
	logger core.Logger,
	conf core.SheetConfig,
	validate *validator.Validate,
	translator ut.Translator,
) *Service {
	chunkSize := conf.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 40
	}
	txTimeout := conf.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		roster:     roster,
		kinds:      NewKinds(conf),
		validate:   validate,
		translator: translator,
		logger:     logger,
		chunkSize:  chunkSize,
		txTimeout:  txTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Kinds returns the record kinds the service knows about.
func (svc *Service) Kinds() Kinds {
	return svc.kinds
}

// Kind returns the kind of the sheet, for entitlement checks.
func (svc *Service) Kind(ctx context.Context, tenantID, sheetID string) (string, error) {
	sh, err := svc.repo.GetSheet(ctx, tenantID, sheetID)
	if err != nil {
		return "", svc.fail(ctx, "getting sheet", err)
	}
	return sh.Scope.Kind, nil
}

// Get returns a sheet with all its records.
func (svc *Service) Get(ctx context.Context, tenantID, sheetID string) (Sheet, error) {
	sh, err := svc.repo.GetSheet(ctx, tenantID, sheetID)
	if err != nil {
		return Sheet{}, svc.fail(ctx, "getting sheet", err)
	}
	if sh.Records, err = svc.repo.QueryRecords(ctx, tenantID, sheetID); err != nil {
		return Sheet{}, svc.fail(ctx, "querying records", err)
	}
	return sh, nil
}

// AuditTrail returns the audit entries of a sheet, oldest first.
func (svc *Service) AuditTrail(ctx context.Context, tenantID, sheetID string) ([]AuditEntry, error) {
	if _, err := svc.repo.GetSheet(ctx, tenantID, sheetID); err != nil {
		return nil, svc.fail(ctx, "getting sheet", err)
	}
	entries, err := svc.repo.QueryAudit(ctx, tenantID, sheetID)
	if err != nil {
		return nil, svc.fail(ctx, "querying audit", err)
	}
	return entries, nil
}

// inTx runs fn in one transaction bounded by the service's timeout.
func (svc *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, st Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, svc.txTimeout)
	defer cancel()

	if err := svc.repo.Tx(ctx, fn); err != nil {
		return svc.fail(ctx, op, err)
	}
	return nil
}

// fail classifies err: domain errors are returned as is, anything else means storage let us down.
func (svc *Service) fail(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case core.IsDomain(err), core.IsTimeout(err), core.IsPersistence(err):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &core.TimeoutError{Op: op, Err: err}
	default:
		return &core.PersistenceError{Op: op, Err: err}
	}
}
