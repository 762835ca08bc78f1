package auth

import (
	"strings"
	"time"
)

// Token represents an access credential with an optional paired refresh
// token. The refresh token outlives the access token and can mint a
// replacement pair exactly once.
//
// ID and RefreshToken are the plaintext secrets. They are populated only
// when a pair is minted; at rest only their SHA-256 hashes exist, so
// tokens loaded from the store carry Hash and Display instead.
type Token struct {
	ID               string     `json:"-"`
	RefreshToken     string     `json:"-"`
	Hash             string     `json:"hash"`
	Display          string     `json:"display"`
	Name             string     `json:"name"`
	Scope            string     `json:"scope"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}

// Scope constants
const (
	ScopeAdmin  = "admin"
	ScopeClient = "client"
)

// ScopeWorkspace returns a workspace-scoped scope string
func ScopeWorkspace(workspaceID string) string {
	return "workspace:" + workspaceID
}

// IsAdminScope returns true if scope grants admin surface access
func IsAdminScope(scope string) bool {
	return scope == ScopeAdmin
}

// IsWorkspaceScope returns true if scope is workspace:<id>
func IsWorkspaceScope(scope string) bool {
	return strings.HasPrefix(scope, "workspace:")
}

// ExtractWorkspaceID extracts the workspace ID from a workspace scope,
// returns empty if not a workspace scope
func ExtractWorkspaceID(scope string) string {
	if !IsWorkspaceScope(scope) {
		return ""
	}
	return scope[len("workspace:"):]
}

// CanAccessWorkspace checks whether the token's scope covers a workspace.
// Admin and plain client scopes cover every workspace; workspace scopes
// cover only their own.
func (t *Token) CanAccessWorkspace(workspaceID string) bool {
	if t.Scope == ScopeAdmin || t.Scope == ScopeClient {
		return true
	}
	if IsWorkspaceScope(t.Scope) {
		return ExtractWorkspaceID(t.Scope) == workspaceID
	}
	return false
}

// Expired reports whether the access token has passed its expiry.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// AboutToExpire reports whether the access token expires within margin.
func (t *Token) AboutToExpire(now time.Time, margin time.Duration) bool {
	return t.ExpiresAt != nil && now.Add(margin).After(*t.ExpiresAt)
}
