package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/sheets/core/sheet"
)

type (
	DB struct {
		sheet  *sheetTables
		roster *rosterTable
		locks  *lockTable
	}

	sheetTables struct {
		sync.RWMutex
		sheets  map[string]sheet.Sheet  // by id, without records
		records map[string]sheet.Record // by id
		audit   []sheet.AuditEntry
	}

	rosterTable struct {
		sync.RWMutex
		table map[rosterKey]map[string]bool // entity id -> active
	}

	rosterKey struct {
		tenantID, kind, group string
	}

	// lockTable emulates row locks: a key is held by one transaction at a time.
	lockTable struct {
		sync.Mutex
		table map[string]chan struct{}
	}
)

func Open() (*DB, error) {
	db := &DB{
		sheet: &sheetTables{
			sheets:  make(map[string]sheet.Sheet),
			records: make(map[string]sheet.Record),
		},
		roster: &rosterTable{table: make(map[rosterKey]map[string]bool)},
		locks:  &lockTable{table: make(map[string]chan struct{})},
	}
	return db, nil
}

// acquire blocks until key is free or ctx is done.
func (lt *lockTable) acquire(ctx context.Context, key string) error {
	lt.Lock()
	ch, ok := lt.table[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.table[key] = ch
	}
	lt.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (lt *lockTable) release(key string) {
	lt.Lock()
	ch := lt.table[key]
	lt.Unlock()
	<-ch
}
