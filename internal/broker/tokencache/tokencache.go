// Package tokencache implements the two-tier, stampede-safe
// cache of minted OAuth2 access tokens.
package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gcp-broker/tokenbroker/internal/broker/cache"
	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/metrics"
)

// AccessToken is the plaintext payload minted by a provider and
// carried through both cache tiers.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // ms since epoch
}

// Minter mints a fresh access token for (owner, scope) on a cache miss.
// Implemented by internal/broker/provider.
type Minter interface {
	GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error)
}

type localEntry struct {
	token     AccessToken
	expiresAt time.Time
}

// Cache is the L1+L2 access-token cache. L1 is a local TTL map; L2 is a
// shared cache.Cache holding ciphertext under the access-token-cache KMS
// key.
type Cache struct {
	remote   cache.Cache
	kms      crypto.KMS
	minter   Minter
	localTTL time.Duration

	mu    sync.Mutex
	local map[string]localEntry
}

// New builds a Cache. localTTL is ACCESS_TOKEN_LOCAL_CACHE_TIME; the
// remote TTL is passed per-call to GetOrMint since it is also used as the
// provider-minted token's own cache lifetime.
func New(remote cache.Cache, kms crypto.KMS, minter Minter, localTTL time.Duration) *Cache {
	return &Cache{
		remote:   remote,
		kms:      kms,
		minter:   minter,
		localTTL: localTTL,
		local:    make(map[string]localEntry),
	}
}

// Fingerprint builds the cache key for (owner, scope). It intentionally
// omits target, following the original broker's
// cache-key formula.
func Fingerprint(owner, scope string) string {
	return "access-token-" + owner + "-" + scope
}

func (c *Cache) getLocal(fingerprint string) (*AccessToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.local[fingerprint]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.local, fingerprint)
		return nil, false
	}
	tok := e.token
	return &tok, true
}

func (c *Cache) setLocal(fingerprint string, tok AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[fingerprint] = localEntry{token: tok, expiresAt: time.Now().Add(c.localTTL)}
}

func (c *Cache) remoteTokenBytes(ctx context.Context, fingerprint string) (*AccessToken, []byte, error) {
	ciphertext, err := c.remote.Get(ctx, fingerprint)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := c.kms.Decrypt(ctx, crypto.KeyAccessTokenCache, ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("tokencache: decrypting cached token: %w", err)
	}
	var tok AccessToken
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return nil, nil, fmt.Errorf("tokencache: unmarshalling cached token: %w", err)
	}
	return &tok, ciphertext, nil
}

// GetOrMint implements the lookup algorithm: L1 hit, else L2
// hit (promoting to L1), else a locked mint-and-populate path that holds a
// named distributed lock for the duration of at most one provider call.
// remoteTTL bounds how long the minted token lives in L2.
func (c *Cache) GetOrMint(ctx context.Context, owner, scope string, remoteTTL time.Duration) (*AccessToken, error) {
	fingerprint := Fingerprint(owner, scope)

	if tok, ok := c.getLocal(fingerprint); ok {
		metrics.RecordTokenCacheResult("local", true)
		return tok, nil
	}
	metrics.RecordTokenCacheResult("local", false)

	if tok, _, err := c.remoteTokenBytes(ctx, fingerprint); err == nil {
		metrics.RecordTokenCacheResult("remote", true)
		c.setLocal(fingerprint, *tok)
		return tok, nil
	} else if err != cache.ErrNotFound {
		return nil, err
	}
	metrics.RecordTokenCacheResult("remote", false)

	lock, err := c.remote.AcquireLock(ctx, fingerprint+"_lock", remoteTTL)
	if err != nil {
		return nil, fmt.Errorf("tokencache: acquiring lock for %q: %w", fingerprint, err)
	}
	defer lock.Release(ctx)

	// Re-check L2 now that we hold the lock: another worker may have
	// populated it while we were waiting.
	if tok, _, err := c.remoteTokenBytes(ctx, fingerprint); err == nil {
		c.setLocal(fingerprint, *tok)
		return tok, nil
	} else if err != cache.ErrNotFound {
		return nil, err
	}

	tok, err := c.minter.GetAccessToken(ctx, owner, scope)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("tokencache: marshalling minted token: %w", err)
	}
	ciphertext, err := c.kms.Encrypt(ctx, crypto.KeyAccessTokenCache, plaintext)
	if err != nil {
		return nil, fmt.Errorf("tokencache: encrypting minted token: %w", err)
	}
	if err := c.remote.Set(ctx, fingerprint, ciphertext, remoteTTL); err != nil {
		return nil, fmt.Errorf("tokencache: populating L2: %w", err)
	}

	c.setLocal(fingerprint, *tok)
	return tok, nil
}
