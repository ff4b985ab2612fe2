package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWhitelistTrimsAndDropsEmpty(t *testing.T) {
	w := NewWhitelist(" alice@EXAMPLE.COM, bob@EXAMPLE.COM ,,")
	assert.True(t, w.Contains("alice@EXAMPLE.COM"))
	assert.True(t, w.Contains("bob@EXAMPLE.COM"))
	assert.False(t, w.Contains(""))
	assert.Len(t, w, 2)
}

func TestCheckImpersonationSameOwnerAlwaysAllowed(t *testing.T) {
	w := NewWhitelist("")
	assert.NoError(t, CheckImpersonation(w, "alice@EXAMPLE.COM", "alice@EXAMPLE.COM"))
	assert.NoError(t, CheckImpersonation(w, "alice@EXAMPLE.COM", ""))
}

func TestCheckImpersonationRequiresWhitelist(t *testing.T) {
	w := NewWhitelist("admin@EXAMPLE.COM")
	assert.NoError(t, CheckImpersonation(w, "admin@EXAMPLE.COM", "alice@EXAMPLE.COM"))
	assert.Error(t, CheckImpersonation(w, "mallory@EXAMPLE.COM", "alice@EXAMPLE.COM"))
}

func TestCheckScope(t *testing.T) {
	allowed := NewWhitelist("scope-a,scope-b")
	assert.NoError(t, CheckScope(allowed, "scope-a,scope-b"))
	assert.Error(t, CheckScope(allowed, "scope-a,scope-c"))
}
