// Package store defines the generic record-store contract (§6) that
// the session package layers the Session and RefreshToken types on top of.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for (kind, id).
var ErrNotFound = errors.New("store: record not found")

// Kind namespaces records by type so a single backend can host several
// record shapes (sessions, refresh tokens) without key collisions.
type Kind string

const (
	KindSession      Kind = "session"
	KindRefreshToken Kind = "refresh_token"
)

// Fields is the wire shape a record is marshalled to/from. Concrete types
// (Session, RefreshToken) convert to and from Fields at their store
// boundary; the backend itself is agnostic to their Go types.
type Fields map[string]any

// RecordStore is the backend contract every session/refresh-token store
// implementation satisfies.
type RecordStore interface {
	Save(ctx context.Context, kind Kind, id string, fields Fields) error
	Get(ctx context.Context, kind Kind, id string) (Fields, error)
	Delete(ctx context.Context, kind Kind, id string) error
	Close() error
}
