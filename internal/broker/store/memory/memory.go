// Package memory is an in-memory RecordStore implementation for tests and
// local development. All data is lost on restart.
//
// Grounded on dittofs's pkg/store/identity/memory/store.go: a mutex-guarded
// map keyed by a composite string, returning defensive copies so callers
// cannot mutate stored state through an aliased map entry.
package memory

import (
	"context"
	"sync"

	"github.com/gcp-broker/tokenbroker/internal/broker/store"
)

// Store is a thread-safe in-memory RecordStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Fields
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]store.Fields)}
}

func key(kind store.Kind, id string) string {
	return string(kind) + ":" + id
}

func copyFields(f store.Fields) store.Fields {
	cp := make(store.Fields, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return cp
}

func (s *Store) Save(_ context.Context, kind store.Kind, id string, fields store.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(kind, id)] = copyFields(fields)
	return nil
}

func (s *Store) Get(_ context.Context, kind store.Kind, id string) (store.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.records[key(kind, id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyFields(fields), nil
}

func (s *Store) Delete(_ context.Context, kind store.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(kind, id))
	return nil
}

func (s *Store) Close() error { return nil }

var _ store.RecordStore = (*Store)(nil)
