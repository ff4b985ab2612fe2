// Package badger implements store.RecordStore on an embedded BadgerDB,
// following the CRUD shape of dittofs's pkg/metadata/store/badger: thin
// db.View/db.Update wrappers around JSON-encoded values, no business logic.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/gcp-broker/tokenbroker/internal/broker/store"
)

// Store is a store.RecordStore backed by an on-disk BadgerDB instance.
type Store struct {
	db *badgerdb.DB
}

// Open opens (creating if absent) a BadgerDB at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func recordKey(kind store.Kind, id string) []byte {
	return []byte(string(kind) + ":" + id)
}

func (s *Store) Save(_ context.Context, kind store.Kind, id string, fields store.Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("badger store: marshal %s/%s: %w", kind, id, err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(recordKey(kind, id), data)
	})
}

func (s *Store) Get(_ context.Context, kind store.Kind, id string) (store.Fields, error) {
	var fields store.Fields
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(recordKey(kind, id))
		if err == badgerdb.ErrKeyNotFound {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fields)
		})
	})
	if err != nil {
		if err == store.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("badger store: get %s/%s: %w", kind, id, err)
	}
	return fields, nil
}

func (s *Store) Delete(_ context.Context, kind store.Kind, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(recordKey(kind, id))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Healthcheck verifies the database is reachable by starting a read
// transaction, mirroring dittofs's BadgerMetadataStore.Healthcheck.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
}

var _ store.RecordStore = (*Store)(nil)
