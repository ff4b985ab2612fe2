// Package session implements the persisted Session record and
// the thin store layered on top of the generic RecordStore contract.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gcp-broker/tokenbroker/internal/broker/store"
)

// passwordBytes is the minimum entropy (before base64 expansion) of a
// session password, at least 24 bytes of base64url-encoded entropy.
const passwordBytes = 24

// Session is the broker's durable record binding (owner, renewer, target,
// scope) and a secret to an opaque id that clients carry as a session
// token. id and password are set at construction and never mutated.
type Session struct {
	ID           string
	Password     []byte
	Owner        string
	Renewer      string
	Target       string
	Scope        string
	ExpiresAt    int64 // ms since epoch
	CreationTime int64 // ms since epoch, immutable
}

// Lifetimes bounds how long a session may live, read from configuration.
type Lifetimes struct {
	MaxLifetime time.Duration // SESSION_MAXIMUM_LIFETIME
	RenewPeriod time.Duration // SESSION_RENEW_PERIOD
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// New constructs a new session with a freshly generated id and password,
// and an initial expiry set by extendLifetime.
func New(owner, renewer, target, scope string, lifetimes Lifetimes) (*Session, error) {
	password := make([]byte, passwordBytes)
	if _, err := rand.Read(password); err != nil {
		return nil, fmt.Errorf("session: generating password: %w", err)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Password:     password,
		Owner:        owner,
		Renewer:      renewer,
		Target:       target,
		Scope:        scope,
		CreationTime: nowMillis(),
	}
	s.ExtendLifetime(lifetimes)
	return s, nil
}

// ExtendLifetime sets expires_at to now + min(RenewPeriod, remaining ceiling
// to creation_time + MaxLifetime). Both
// invariants (expires_at - now ≤ RenewPeriod, expires_at - creation_time ≤
// MaxLifetime) hold after this call.
func (s *Session) ExtendLifetime(lifetimes Lifetimes) {
	now := nowMillis()
	ceiling := s.CreationTime + lifetimes.MaxLifetime.Milliseconds()
	candidate := now + lifetimes.RenewPeriod.Milliseconds()
	if candidate > ceiling {
		candidate = ceiling
	}
	s.ExpiresAt = candidate
}

// IsExpired compares expires_at against the current wall clock. A session
// whose expires_at <= now is treated as absent by authentication even if
// still present in the store.
func (s *Session) IsExpired() bool {
	return s.ExpiresAt <= nowMillis()
}

// PasswordB64 returns the URL-safe base64 encoding of the password, the
// form the session-token codec encrypts.
func (s *Session) PasswordB64() string {
	return base64.RawURLEncoding.EncodeToString(s.Password)
}

func toFields(s *Session) store.Fields {
	return store.Fields{
		"id":            s.ID,
		"password":      s.Password,
		"owner":         s.Owner,
		"renewer":       s.Renewer,
		"target":        s.Target,
		"scope":         s.Scope,
		"expires_at":    s.ExpiresAt,
		"creation_time": s.CreationTime,
	}
}

func fromFields(f store.Fields) (*Session, error) {
	s := &Session{}
	var ok bool
	if s.ID, ok = f["id"].(string); !ok {
		return nil, fmt.Errorf("session: missing id field")
	}
	switch pw := f["password"].(type) {
	case []byte:
		s.Password = pw
	case string:
		// backends that round-trip through JSON/text store []byte as base64 string
		decoded, err := base64.StdEncoding.DecodeString(pw)
		if err != nil {
			return nil, fmt.Errorf("session: decoding password field: %w", err)
		}
		s.Password = decoded
	default:
		return nil, fmt.Errorf("session: missing password field")
	}
	s.Owner, _ = f["owner"].(string)
	s.Renewer, _ = f["renewer"].(string)
	s.Target, _ = f["target"].(string)
	s.Scope, _ = f["scope"].(string)
	s.ExpiresAt = toInt64(f["expires_at"])
	s.CreationTime = toInt64(f["creation_time"])
	return s, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Store is the session-shaped facade over a generic RecordStore.
type Store struct {
	records store.RecordStore
}

// NewStore wraps a RecordStore as a session Store.
func NewStore(records store.RecordStore) *Store {
	return &Store{records: records}
}

// Save persists the session keyed by its id.
func (st *Store) Save(ctx context.Context, s *Session) error {
	return st.records.Save(ctx, store.KindSession, s.ID, toFields(s))
}

// Get rehydrates a session by id, or fails with store.ErrNotFound.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := st.records.Get(ctx, store.KindSession, id)
	if err != nil {
		return nil, err
	}
	return fromFields(fields)
}

// Delete hard-deletes a session. Natural-expiry tombstoning policy is left
// to the backend.
func (st *Store) Delete(ctx context.Context, id string) error {
	return st.records.Delete(ctx, store.KindSession, id)
}
