package session

import (
	"context"

	"github.com/gcp-broker/tokenbroker/internal/broker/store"
)

// RefreshToken is created by the external authorizer (out of scope) and is
// read-only from the core's perspective: id is the owner's cloud-domain
// identity string, value is ciphertext under the refresh-token KMS key.
type RefreshToken struct {
	ID    string
	Value []byte
}

// RefreshTokenStore is the read-only facade the refresh-token provider
// uses to look up a stored grant.
type RefreshTokenStore struct {
	records store.RecordStore
}

func NewRefreshTokenStore(records store.RecordStore) *RefreshTokenStore {
	return &RefreshTokenStore{records: records}
}

func (st *RefreshTokenStore) Get(ctx context.Context, id string) (*RefreshToken, error) {
	fields, err := st.records.Get(ctx, store.KindRefreshToken, id)
	if err != nil {
		return nil, err
	}
	rt := &RefreshToken{ID: id}
	switch v := fields["value"].(type) {
	case []byte:
		rt.Value = v
	default:
		return nil, store.ErrNotFound
	}
	return rt, nil
}
