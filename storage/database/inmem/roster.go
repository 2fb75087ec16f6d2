package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/sheets/core/sheet"
)

type Roster struct {
	db *rosterTable
}

var _ sheet.RosterEditor = (*Roster)(nil) // interface compliance check

func NewRoster(db *DB) *Roster {
	return &Roster{db: db.roster}
}

// SetActive marks entities as active (or inactive) in a group.
func (r *Roster) SetActive(_ context.Context, tenantID, kind, group string, active bool, entityIDs ...string) error {
	r.db.Lock()
	defer r.db.Unlock()

	key := rosterKey{tenantID: tenantID, kind: kind, group: group}
	entities, ok := r.db.table[key]
	if !ok {
		entities = make(map[string]bool)
		r.db.table[key] = entities
	}
	for _, id := range entityIDs {
		entities[id] = active
	}
	return nil
}

func (r *Roster) ActiveEntities(_ context.Context, tenantID string, scope sheet.Scope) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var ids []string
	for id, active := range r.db.table[rosterKey{tenantID: tenantID, kind: scope.Kind, group: scope.Group}] {
		if active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
