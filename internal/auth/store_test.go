package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndValidateToken(t *testing.T) {
	store := newTestStore(t)

	ttl := time.Hour
	refreshTTL := 24 * time.Hour
	token, err := store.CreateToken("alice-laptop", ScopeClient, &ttl, &refreshTTL)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if token.ID == "" || token.RefreshToken == "" {
		t.Fatal("CreateToken() returned empty credentials")
	}
	if token.ID[:len(tokenPrefix)] != tokenPrefix {
		t.Errorf("token %q missing prefix %q", token.ID, tokenPrefix)
	}
	if token.RefreshToken[:len(refreshPrefix)] != refreshPrefix {
		t.Errorf("refresh token %q missing prefix %q", token.RefreshToken, refreshPrefix)
	}

	got, err := store.ValidateToken(token.ID)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if got.Name != "alice-laptop" || got.Scope != ScopeClient {
		t.Errorf("ValidateToken() = %+v, want name=alice-laptop scope=client", got)
	}
	if got.ID != "" || got.RefreshToken != "" {
		t.Error("validated token must not carry plaintext secrets")
	}
	if got.Hash != HashToken(token.ID) {
		t.Errorf("Hash = %s, want SHA-256 of the presented secret", got.Hash)
	}
	if got.Display == "" || got.Display == token.ID {
		t.Errorf("Display = %q, want a masked form", got.Display)
	}
}

func TestValidateTokenErrors(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("bad prefix: err = %v, want ErrInvalidToken", err)
	}
	if _, err := store.ValidateToken(tokenPrefix + "0000"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("unknown token: err = %v, want ErrTokenNotFound", err)
	}

	negTTL := -time.Minute
	refreshTTL := time.Hour
	token, err := store.CreateToken("expired", ScopeClient, &negTTL, &refreshTTL)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if _, err := store.ValidateToken(token.ID); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: err = %v, want ErrTokenExpired", err)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	store := newTestStore(t)

	ttl := time.Hour
	refreshTTL := 24 * time.Hour
	orig, err := store.CreateToken("bob", ScopeClient, &ttl, &refreshTTL)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}

	fresh, err := store.RefreshToken(orig.RefreshToken, &ttl, &refreshTTL)
	if err != nil {
		t.Fatalf("RefreshToken() error: %v", err)
	}
	if fresh.ID == orig.ID {
		t.Error("refresh should mint a new access token")
	}
	if fresh.RefreshToken == orig.RefreshToken {
		t.Error("refresh should rotate the refresh token")
	}
	if fresh.Name != orig.Name || fresh.Scope != orig.Scope {
		t.Error("refresh should preserve name and scope")
	}

	// Old pair is retired.
	if _, err := store.ValidateToken(orig.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("old access token: err = %v, want ErrTokenNotFound", err)
	}
	if _, err := store.RefreshToken(orig.RefreshToken, &ttl, &refreshTTL); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("replayed refresh: err = %v, want ErrTokenNotFound", err)
	}

	// New access token works.
	if _, err := store.ValidateToken(fresh.ID); err != nil {
		t.Errorf("new access token: err = %v, want nil", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	store := newTestStore(t)

	negTTL := -time.Minute
	token, err := store.CreateToken("stale", ScopeClient, &negTTL, &negTTL)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	ttl := time.Hour
	if _, err := store.RefreshToken(token.RefreshToken, &ttl, &ttl); !errors.Is(err, ErrRefreshExpired) {
		t.Errorf("expired refresh: err = %v, want ErrRefreshExpired", err)
	}
}

func TestRevokeToken(t *testing.T) {
	store := newTestStore(t)

	token, err := store.CreateToken("revoke-me", ScopeAdmin, nil, nil)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if err := store.RevokeToken(token.ID); err != nil {
		t.Fatalf("RevokeToken() error: %v", err)
	}
	if _, err := store.ValidateToken(token.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("revoked token: err = %v, want ErrTokenNotFound", err)
	}
	if err := store.RevokeToken(token.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("double revoke: err = %v, want ErrTokenNotFound", err)
	}

	// Revocation also accepts the stored hash, which is what listings show.
	byHash, err := store.CreateToken("revoke-by-hash", ScopeAdmin, nil, nil)
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if err := store.RevokeToken(byHash.Hash); err != nil {
		t.Fatalf("RevokeToken(hash) error: %v", err)
	}
	if _, err := store.ValidateToken(byHash.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("hash-revoked token: err = %v, want ErrTokenNotFound", err)
	}
}

func TestListTokens(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"one", "two", "three"} {
		if _, err := store.CreateToken(name, ScopeClient, nil, nil); err != nil {
			t.Fatalf("CreateToken(%s) error: %v", name, err)
		}
	}
	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens() error: %v", err)
	}
	if len(tokens) != 3 {
		t.Errorf("ListTokens() returned %d tokens, want 3", len(tokens))
	}
	for _, tok := range tokens {
		if tok.ID != "" || tok.RefreshToken != "" {
			t.Errorf("token %s: listing must not expose plaintext secrets", tok.Name)
		}
		if tok.Hash == "" || tok.Display == "" {
			t.Errorf("token %s: listing missing hash or display", tok.Name)
		}
	}
}

func TestPruneExpired(t *testing.T) {
	store := newTestStore(t)

	negTTL := -time.Minute
	ttl := time.Hour
	if _, err := store.CreateToken("dead", ScopeClient, &negTTL, &negTTL); err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	// Refresh window still open, must survive the prune.
	if _, err := store.CreateToken("refreshable", ScopeClient, &negTTL, &ttl); err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if _, err := store.CreateToken("live", ScopeClient, &ttl, &ttl); err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}

	pruned, err := store.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired() error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneExpired() = %d, want 1", pruned)
	}

	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens() error: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("after prune: %d tokens remain, want 2", len(tokens))
	}
}
