package sheet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/sheets/core"
)

// change is one write planned by a reconciliation.
type change struct {
	action Action
	rec    Record
	before *RecordSnapshot
}

// Reconcile brings the records of an EDITABLE sheet to the states described by items.
// Only records that differ are written, each write gets one audit entry and the whole
// batch is applied in a single transaction: it is either fully applied or not at all.
func (svc *Service) Reconcile(ctx context.Context, tenantID, sheetID, actorID string, items []Item) (Sheet, error) {
	items, err := svc.checkBatch(items)
	if err != nil {
		return Sheet{}, err
	}
	entityIDs := make([]string, 0, len(items))
	for _, it := range items {
		entityIDs = append(entityIDs, it.EntityID)
	}

	var sh Sheet
	err = svc.inTx(ctx, "reconciling records", func(ctx context.Context, st Store) error {
		current, err := st.LockSheet(ctx, tenantID, sheetID)
		if err != nil {
			return err
		}
		if current.Status != StatusEditable {
			return &core.NotEditableError{Status: string(current.Status)}
		}
		kind, err := svc.kinds.get(current.Scope.Kind)
		if err != nil {
			return err
		}
		if err = checkItems(kind, items); err != nil {
			return err
		}

		existing, err := st.QueryRecords(ctx, tenantID, sheetID, entityIDs...)
		if err != nil {
			return errors.Wrap(err, "querying records")
		}
		plan, newcomers := svc.diff(kind, current, actorID, items, existing)
		if len(newcomers) > 0 {
			if err = svc.checkActive(ctx, current, newcomers); err != nil {
				return err
			}
		}

		if current, err = svc.apply(ctx, st, current, actorID, plan); err != nil {
			return err
		}
		sh = current
		if sh.Records, err = st.QueryRecords(ctx, tenantID, sheetID); err != nil {
			return errors.Wrap(err, "querying records")
		}

		svc.logger.Debug("records reconciled", map[string]interface{}{
			"sheet":   sheetID,
			"items":   len(items),
			"changes": len(plan),
		})
		return nil
	})
	if err != nil {
		return Sheet{}, err
	}
	return sh, nil
}

// diff plans the creates and updates turning existing into items, in batch order.
// It also returns the entities that get their first record.
func (svc *Service) diff(kind Kind, sh Sheet, actorID string, items []Item, existing []Record) ([]change, []string) {
	byEntity := make(map[string]Record, len(existing))
	for _, rec := range existing {
		byEntity[rec.EntityID] = rec
	}

	now := svc.now()
	var (
		plan      []change
		newcomers []string
	)
	for _, it := range items {
		desired := kind.Normalize(it.values())
		rec, ok := byEntity[it.EntityID]
		if !ok {
			newcomers = append(newcomers, it.EntityID)
			plan = append(plan, change{action: ActionCreateRecord, rec: Record{
				ID:        uuid.New().String(),
				TenantID:  sh.TenantID,
				SheetID:   sh.ID,
				EntityID:  it.EntityID,
				Values:    desired,
				CreatedAt: now,
				UpdatedAt: now,
				UpdatedBy: actorID,
			}})
			continue
		}
		if kind.Equal(rec.Values, desired) {
			continue
		}

		before := rec.snapshot()
		rec.Values = desired
		rec.UpdatedAt = now
		rec.UpdatedBy = actorID
		plan = append(plan, change{action: ActionUpdateRecord, rec: rec, before: &before})
	}
	return plan, newcomers
}

// checkActive makes sure records are only created for entities the tenant's roster knows about.
func (svc *Service) checkActive(ctx context.Context, sh Sheet, entityIDs []string) error {
	active, err := svc.roster.ActiveEntities(ctx, sh.TenantID, sh.Scope)
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	known := make(map[string]bool, len(active))
	for _, id := range active {
		known[id] = true
	}
	for _, id := range entityIDs {
		if !known[id] {
			return &core.NotFoundError{Resource: fmt.Sprintf("entity %q", id)}
		}
	}
	return nil
}

// apply writes plan in chunks. Chunks run one after the other; the writes of a chunk run concurrently.
// The audit entries are appended once every record is written.
func (svc *Service) apply(ctx context.Context, st Store, sh Sheet, actorID string, plan []change) (Sheet, error) {
	if len(plan) == 0 {
		return sh, nil
	}

	for start := 0; start < len(plan); start += svc.chunkSize {
		end := start + svc.chunkSize
		if end > len(plan) {
			end = len(plan)
		}
		if err := ctx.Err(); err != nil {
			return sh, err
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range plan[start:end] {
			c := c
			g.Go(func() error {
				if c.action == ActionCreateRecord {
					return errors.Wrapf(st.CreateRecord(gctx, c.rec), "creating record of entity %q", c.rec.EntityID)
				}
				return errors.Wrapf(st.UpdateRecord(gctx, c.rec), "updating record of entity %q", c.rec.EntityID)
			})
		}
		if err := g.Wait(); err != nil {
			return sh, errors.Wrapf(err, "applying chunk %d", start/svc.chunkSize+1)
		}
	}

	now := svc.now()
	entries := make([]AuditEntry, 0, len(plan))
	for _, c := range plan {
		var before interface{}
		if c.before != nil {
			before = *c.before
		}
		recordID := c.rec.ID
		entry, err := newAuditEntry(sh, &recordID, actorID, c.action, before, c.rec.snapshot(), now)
		if err != nil {
			return sh, err
		}
		entries = append(entries, entry)
	}
	if err := st.AppendAudit(ctx, entries...); err != nil {
		return sh, errors.Wrap(err, "appending audit")
	}

	sh.UpdatedAt = now
	if err := st.UpdateSheet(ctx, sh); err != nil {
		return sh, errors.Wrap(err, "updating sheet")
	}
	return sh, nil
}
