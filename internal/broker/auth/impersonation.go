package auth

import (
	"fmt"
	"strings"
)

// Whitelist is a flat set membership check used both for the impersonation
// whitelist (PROXY_USER_WHITELIST) and the scope whitelist
// (SCOPE_WHITELIST), both configured as comma-separated strings.
type Whitelist map[string]struct{}

// NewWhitelist parses a comma-separated list into a Whitelist, trimming
// whitespace and dropping empty entries.
func NewWhitelist(csv string) Whitelist {
	w := make(Whitelist)
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			w[entry] = struct{}{}
		}
	}
	return w
}

// Contains reports whether v is a member.
func (w Whitelist) Contains(v string) bool {
	_, ok := w[v]
	return ok
}

// CheckImpersonation enforces the impersonation rule: if owner
// differs from the authenticated principal, the principal must be in the
// impersonator whitelist.
func CheckImpersonation(impersonators Whitelist, authenticatedUser, owner string) error {
	if owner == "" || owner == authenticatedUser {
		return nil
	}
	if !impersonators.Contains(authenticatedUser) {
		return fmt.Errorf("%s is not a whitelisted impersonator", authenticatedUser)
	}
	return nil
}

// CheckScope enforces that every comma-separated scope in requested is a
// member of allowed.
func CheckScope(allowed Whitelist, requested string) error {
	for _, scope := range strings.Split(requested, ",") {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if !allowed.Contains(scope) {
			return fmt.Errorf("scope %q is not in the allowed scope list", scope)
		}
	}
	return nil
}
