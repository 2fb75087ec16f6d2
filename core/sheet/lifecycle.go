package sheet

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core"
)

// Ensure opens the sheet of a scope, creating it on first call, and gives a record
// to every active entity lacking one. Without EntityIDs the roster decides who is active.
// Records are only created while the sheet is EDITABLE; calling Ensure again is harmless.
func (svc *Service) Ensure(ctx context.Context, tenantID, actorID string, ns NewSheet) (Sheet, error) {
	ns.Scope.clean()
	if err := svc.checkStruct(ns, ""); err != nil {
		return Sheet{}, err
	}
	kind, err := svc.kinds.get(ns.Kind)
	if err != nil {
		return Sheet{}, err
	}

	entityIDs := ns.EntityIDs
	if len(entityIDs) == 0 {
		if entityIDs, err = svc.roster.ActiveEntities(ctx, tenantID, ns.Scope); err != nil {
			return Sheet{}, svc.fail(ctx, "querying roster", err)
		}
	}
	entityIDs = uniqueIDs(entityIDs)

	var sh Sheet
	err = svc.inTx(ctx, "ensuring sheet", func(ctx context.Context, st Store) error {
		now := svc.now()
		candidate := Sheet{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Scope:     ns.Scope,
			ScopeKey:  ns.Scope.Key(),
			Status:    StatusEditable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		stored, created, err := st.GetOrCreateSheet(ctx, candidate)
		if err != nil {
			return errors.Wrap(err, "getting or creating sheet")
		}
		if created {
			svc.logger.Info("sheet opened", map[string]interface{}{"sheet": stored.ID, "scope": stored.ScopeKey}, core.Person{ID: actorID, TenantID: tenantID})
		}

		existing, err := st.QueryRecords(ctx, tenantID, stored.ID)
		if err != nil {
			return errors.Wrap(err, "querying records")
		}
		if stored.Status != StatusEditable {
			sh = stored
			sh.Records = existing
			svc.logger.Debug("sheet is closed: records left untouched", map[string]interface{}{"sheet": stored.ID, "status": stored.Status})
			return nil
		}

		have := make(map[string]bool, len(existing))
		for _, rec := range existing {
			have[rec.EntityID] = true
		}
		var plan []change
		for _, entityID := range entityIDs {
			if have[entityID] {
				continue
			}
			plan = append(plan, change{action: ActionCreateRecord, rec: Record{
				ID:        uuid.New().String(),
				TenantID:  tenantID,
				SheetID:   stored.ID,
				EntityID:  entityID,
				Values:    kind.Default(),
				CreatedAt: now,
				UpdatedAt: now,
				UpdatedBy: actorID,
			}})
		}
		if stored, err = svc.apply(ctx, st, stored, actorID, plan); err != nil {
			return err
		}

		sh = stored
		if sh.Records, err = st.QueryRecords(ctx, tenantID, stored.ID); err != nil {
			return errors.Wrap(err, "querying records")
		}
		return nil
	})
	if err != nil {
		return Sheet{}, err
	}
	return sh, nil
}

// Submit closes an EDITABLE sheet once every active entity has a record.
func (svc *Service) Submit(ctx context.Context, tenantID, sheetID, actorID string) (Sheet, error) {
	return svc.transition(ctx, tenantID, sheetID, actorID, ActionSubmit, func(ctx context.Context, sh *Sheet, records []Record) (bool, error) {
		if sh.Status != StatusEditable {
			return false, &core.NotEditableError{Status: string(sh.Status)}
		}

		active, err := svc.roster.ActiveEntities(ctx, tenantID, sh.Scope)
		if err != nil {
			return false, errors.Wrap(err, "querying roster")
		}
		have := make(map[string]bool, len(records))
		for _, rec := range records {
			have[rec.EntityID] = true
		}
		var missing []string
		for _, entityID := range uniqueIDs(active) {
			if !have[entityID] {
				missing = append(missing, entityID)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return false, &core.IncompleteError{Missing: missing}
		}

		now := svc.now()
		sh.Status = StatusSubmitted
		sh.SubmittedAt = &now
		return true, nil
	})
}

// Unlock reopens a SUBMITTED or LOCKED sheet. Who may call it is decided by the caller.
func (svc *Service) Unlock(ctx context.Context, tenantID, sheetID, actorID string) (Sheet, error) {
	return svc.transition(ctx, tenantID, sheetID, actorID, ActionUnlock, func(_ context.Context, sh *Sheet, _ []Record) (bool, error) {
		if sh.Status == StatusEditable {
			return false, &core.TransitionError{From: string(sh.Status), Action: "unlock"}
		}
		sh.Status = StatusEditable
		sh.LockedAt = nil
		return true, nil
	})
}

// Lock finalizes a sheet from any status.
// Locking a LOCKED sheet is a no-op: lockedAt is kept and no audit entry is appended.
func (svc *Service) Lock(ctx context.Context, tenantID, sheetID, actorID string) (Sheet, error) {
	return svc.transition(ctx, tenantID, sheetID, actorID, ActionLock, func(_ context.Context, sh *Sheet, _ []Record) (bool, error) {
		if sh.Status == StatusLocked {
			return false, nil
		}
		now := svc.now()
		sh.Status = StatusLocked
		sh.LockedAt = &now
		return true, nil
	})
}

type transitionFunc func(ctx context.Context, sh *Sheet, records []Record) (changed bool, err error)

// transition locks the sheet, lets fn move it and records the move in the audit trail.
func (svc *Service) transition(ctx context.Context, tenantID, sheetID, actorID string, action Action, fn transitionFunc) (Sheet, error) {
	var sh Sheet
	err := svc.inTx(ctx, "changing sheet status", func(ctx context.Context, st Store) error {
		current, err := st.LockSheet(ctx, tenantID, sheetID)
		if err != nil {
			return err
		}
		records, err := st.QueryRecords(ctx, tenantID, sheetID)
		if err != nil {
			return errors.Wrap(err, "querying records")
		}

		before := current.snapshot()
		next := current
		changed, err := fn(ctx, &next, records)
		if err != nil {
			return err
		}
		if changed {
			next.UpdatedAt = svc.now()
			if err = st.UpdateSheet(ctx, next); err != nil {
				return errors.Wrap(err, "updating sheet")
			}
			entry, err := newAuditEntry(next, nil, actorID, action, before, next.snapshot(), next.UpdatedAt)
			if err != nil {
				return err
			}
			if err = st.AppendAudit(ctx, entry); err != nil {
				return errors.Wrap(err, "appending audit")
			}
			svc.logger.Info("sheet "+string(next.Status), map[string]interface{}{"sheet": next.ID, "from": before.Status}, core.Person{ID: actorID, TenantID: tenantID})
		}

		sh = next
		sh.Records = records
		return nil
	})
	if err != nil {
		return Sheet{}, err
	}
	return sh, nil
}

func newAuditEntry(sh Sheet, recordID *string, actorID string, action Action, before, after interface{}, at time.Time) (AuditEntry, error) {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		TenantID:  sh.TenantID,
		SheetID:   sh.ID,
		RecordID:  recordID,
		ActorID:   actorID,
		Action:    action,
		CreatedAt: at,
	}
	var err error
	if before != nil {
		if entry.Before, err = json.Marshal(before); err != nil {
			return AuditEntry{}, errors.Wrap(err, "encoding audit snapshot")
		}
	}
	if entry.After, err = json.Marshal(after); err != nil {
		return AuditEntry{}, errors.Wrap(err, "encoding audit snapshot")
	}
	return entry, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = core.CleanString(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}
