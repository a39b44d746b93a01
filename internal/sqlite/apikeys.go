package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/overseer/internal/repository"
)

// APIKeyRepository stores hashed bearer tokens and the principal they
// authenticate as. Raw tokens are never persisted.
type APIKeyRepository struct {
	db  *DB
	now func() time.Time
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db, now: time.Now}
}

// Add registers token for principal.
func (r *APIKeyRepository) Add(ctx context.Context, token, principal, description string) error {
	token = strings.TrimSpace(token)
	principal = strings.TrimSpace(principal)
	if token == "" || principal == "" {
		return fmt.Errorf("api key: token and principal are required")
	}

	return withBusyRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO api_keys (key_hash, principal, description, created_at) VALUES (?, ?, ?, ?)`,
			HashToken(token), principal, description, formatTime(r.now()),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("api key already registered: %w", repository.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert api key: %w", err)
		}
		return nil
	})
}

// ResolvePrincipal returns the principal for token and stamps last_used.
func (r *APIKeyRepository) ResolvePrincipal(ctx context.Context, token string) (string, error) {
	hash := HashToken(token)
	var principal string
	err := r.db.QueryRowContext(ctx, `SELECT principal FROM api_keys WHERE key_hash = ?`, hash).Scan(&principal)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && principal == "") {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve api key: %w", err)
	}

	// last_used is informational; a locked database must not fail the request.
	_, _ = r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, formatTime(r.now()), hash)
	return principal, nil
}

// HashToken returns the hex SHA-256 of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
