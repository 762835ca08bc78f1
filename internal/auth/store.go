// Package auth persists access and refresh tokens in SQLite and applies
// per-client rate limits. Token secrets are hashed at rest; only the
// SHA-256 digest and a masked display form ever touch the database.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	tokenPrefix   = "ccl_"
	refreshPrefix = "cclr_"
)

var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrInvalidToken   = errors.New("invalid token format")
)

// Store handles token persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "auth.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		hash TEXT PRIMARY KEY,
		display TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		scope TEXT NOT NULL,
		refresh_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME,
		expires_at DATETIME,
		refresh_expires_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_scope ON tokens(scope);
	CREATE INDEX IF NOT EXISTS idx_tokens_refresh ON tokens(refresh_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a token secret. This is
// the form tokens take at rest and in listings.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// CreateToken mints a new access/refresh token pair. A nil accessTTL or
// refreshTTL produces a non-expiring credential. The returned Token is
// the only holder of the plaintext secrets.
func (s *Store) CreateToken(name, scope string, accessTTL, refreshTTL *time.Duration) (*Token, error) {
	tokenID, err := randomToken(tokenPrefix)
	if err != nil {
		return nil, err
	}
	refreshID, err := randomToken(refreshPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := &Token{
		ID:           tokenID,
		RefreshToken: refreshID,
		Hash:         HashToken(tokenID),
		Display:      maskToken(tokenID),
		Name:         name,
		Scope:        scope,
		CreatedAt:    now,
	}
	if accessTTL != nil {
		exp := now.Add(*accessTTL)
		token.ExpiresAt = &exp
	}
	if refreshTTL != nil {
		exp := now.Add(*refreshTTL)
		token.RefreshExpiresAt = &exp
	}

	_, err = s.db.Exec(
		`INSERT INTO tokens (hash, display, name, scope, refresh_hash, created_at, expires_at, refresh_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Hash, token.Display, token.Name, token.Scope, HashToken(refreshID),
		token.CreatedAt, token.ExpiresAt, token.RefreshExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token: %w", err)
	}

	return token, nil
}

func scanToken(scan func(dest ...any) error) (*Token, error) {
	var token Token
	var lastUsedAt, expiresAt, refreshExpiresAt sql.NullTime

	err := scan(&token.Hash, &token.Display, &token.Name, &token.Scope,
		&token.CreatedAt, &lastUsedAt, &expiresAt, &refreshExpiresAt)
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	if refreshExpiresAt.Valid {
		token.RefreshExpiresAt = &refreshExpiresAt.Time
	}
	return &token, nil
}

const tokenColumns = `hash, display, name, scope, created_at, last_used_at, expires_at, refresh_expires_at`

// ValidateToken validates a presented access token and returns its
// details. The presented secret is hashed and compared in constant time
// against the stored digest. Expired tokens fail with ErrTokenExpired
// but remain in the store so a refresh can still succeed.
func (s *Store) ValidateToken(tokenID string) (*Token, error) {
	if len(tokenID) < len(tokenPrefix) || tokenID[:len(tokenPrefix)] != tokenPrefix {
		return nil, ErrInvalidToken
	}

	presented := HashToken(tokenID)
	row := s.db.QueryRow(
		`SELECT `+tokenColumns+` FROM tokens WHERE hash = ?`, presented,
	)
	token, err := scanToken(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token.Hash)) != 1 {
		return nil, ErrTokenNotFound
	}

	if token.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}

	// Update last used time
	go s.updateLastUsed(token.Hash)

	return token, nil
}

func (s *Store) updateLastUsed(hash string) {
	_, _ = s.db.Exec(`UPDATE tokens SET last_used_at = ? WHERE hash = ?`, time.Now(), hash)
}

// RefreshToken exchanges a refresh token for a fresh access/refresh pair.
// The old pair is removed in the same transaction so a replayed refresh
// cannot mint a second pair.
func (s *Store) RefreshToken(refreshID string, accessTTL, refreshTTL *time.Duration) (*Token, error) {
	if len(refreshID) < len(refreshPrefix) || refreshID[:len(refreshPrefix)] != refreshPrefix {
		return nil, ErrInvalidToken
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin refresh: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	presented := HashToken(refreshID)
	row := tx.QueryRow(
		`SELECT `+tokenColumns+`, refresh_hash FROM tokens WHERE refresh_hash = ?`, presented,
	)
	var old Token
	var lastUsedAt, expiresAt, refreshExpiresAt sql.NullTime
	var refreshHash string
	err = row.Scan(&old.Hash, &old.Display, &old.Name, &old.Scope,
		&old.CreatedAt, &lastUsedAt, &expiresAt, &refreshExpiresAt, &refreshHash)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	if refreshExpiresAt.Valid {
		old.RefreshExpiresAt = &refreshExpiresAt.Time
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(refreshHash)) != 1 {
		return nil, ErrTokenNotFound
	}

	now := time.Now()
	if old.RefreshExpiresAt != nil && now.After(*old.RefreshExpiresAt) {
		return nil, ErrRefreshExpired
	}

	newID, err := randomToken(tokenPrefix)
	if err != nil {
		return nil, err
	}
	newRefresh, err := randomToken(refreshPrefix)
	if err != nil {
		return nil, err
	}

	token := &Token{
		ID:           newID,
		RefreshToken: newRefresh,
		Hash:         HashToken(newID),
		Display:      maskToken(newID),
		Name:         old.Name,
		Scope:        old.Scope,
		CreatedAt:    now,
	}
	if accessTTL != nil {
		exp := now.Add(*accessTTL)
		token.ExpiresAt = &exp
	}
	if refreshTTL != nil {
		exp := now.Add(*refreshTTL)
		token.RefreshExpiresAt = &exp
	}

	if _, err := tx.Exec(`DELETE FROM tokens WHERE hash = ?`, old.Hash); err != nil {
		return nil, fmt.Errorf("failed to retire old token: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO tokens (hash, display, name, scope, refresh_hash, created_at, expires_at, refresh_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Hash, token.Display, token.Name, token.Scope, HashToken(newRefresh),
		token.CreatedAt, token.ExpiresAt, token.RefreshExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert refreshed token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return token, nil
}

// ListTokens returns all tokens ordered by creation time. Entries carry
// the stored hash and masked display form, never the plaintext secret.
func (s *Store) ListTokens() ([]*Token, error) {
	rows, err := s.db.Query(
		`SELECT ` + tokenColumns + ` FROM tokens ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		token, err := scanToken(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// RevokeToken deletes a token. ref may be the plaintext secret or the
// stored hash as shown by ListTokens.
func (s *Store) RevokeToken(ref string) error {
	hash := ref
	if strings.HasPrefix(ref, tokenPrefix) {
		hash = HashToken(ref)
	}
	result, err := s.db.Exec(`DELETE FROM tokens WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// PruneExpired deletes tokens whose refresh window has also closed.
// Returns the number of rows removed.
func (s *Store) PruneExpired() (int64, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`DELETE FROM tokens
		 WHERE expires_at IS NOT NULL AND expires_at < ?
		   AND (refresh_expires_at IS NULL OR refresh_expires_at < ?)`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", err)
	}
	return result.RowsAffected()
}
