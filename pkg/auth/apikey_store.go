package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// APIKey is a stored API key. The plaintext key is never persisted.
type APIKey struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	KeyHash        string     `json:"-"`
	KeyPrefix      string     `json:"key_prefix"`
	UserID         string     `json:"user_id,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Active reports whether the key is neither revoked nor expired at now
func (k *APIKey) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// APIKeyLookup is what APIKeyStrategy needs from the store
type APIKeyLookup interface {
	LookupByHash(ctx context.Context, keyHash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// APIKeyStore persists API keys
type APIKeyStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAPIKeyStore creates a new API key store
func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const apiKeyColumns = `id, name, key_hash, key_prefix, user_id, organization_id, expires_at, revoked_at, last_used_at, created_at`

// CreateAPIKey generates a key for the given owner and returns the record
// together with the plaintext key. The plaintext is shown once.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, name, userID, orgID string, expiresAt *time.Time) (*APIKey, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("%w: api key name is required", apierr.ErrInvalidInput)
	}

	key, keyHash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate api key: %w", err)
	}

	record := &APIKey{
		ID:             uuid.New().String(),
		Name:           name,
		KeyHash:        keyHash,
		KeyPrefix:      prefix,
		UserID:         userID,
		OrganizationID: orgID,
		ExpiresAt:      expiresAt,
		CreatedAt:      s.now(),
	}

	query := `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, user_id, organization_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Name,
		record.KeyHash,
		record.KeyPrefix,
		nullString(record.UserID),
		nullString(record.OrganizationID),
		nullTime(record.ExpiresAt),
		record.CreatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}

	return record, key, nil
}

// LookupByHash returns the key with the given hash, active or not
func (s *APIKeyStore) LookupByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	key, err := scanAPIKey(s.db.QueryRowContext(ctx, query, keyHash))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: api key", apierr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup api key: %w", err)
	}
	return key, nil
}

// GetAPIKey retrieves a key by ID
func (s *APIKeyStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	key, err := scanAPIKey(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: api key %s", apierr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// RevokeAPIKey marks a key revoked and returns it so callers can drop cached
// sessions by hash. Revoking twice keeps the first revocation time.
func (s *APIKeyStore) RevokeAPIKey(ctx context.Context, id string) (*APIKey, error) {
	key, err := s.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.RevokedAt != nil {
		return key, nil
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke api key: %w", err)
	}

	key.RevokedAt = &now
	return key, nil
}

// TouchLastUsed records a successful authentication
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update api key last use: %w", err)
	}
	return nil
}

// ListAPIKeys lists a user's keys, newest first, including revoked ones
func (s *APIKeyStore) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// CleanupExpired deletes keys that expired or were revoked before cutoff
func (s *APIKeyStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE (expires_at IS NOT NULL AND expires_at < $1) OR (revoked_at IS NOT NULL AND revoked_at < $1)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup api keys: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup api keys: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var key APIKey
	var userID, orgID sql.NullString
	var expiresAt, revokedAt, lastUsedAt sql.NullTime

	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&userID,
		&orgID,
		&expiresAt,
		&revokedAt,
		&lastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	key.UserID = userID.String
	key.OrganizationID = orgID.String
	key.ExpiresAt = timePtr(expiresAt)
	key.RevokedAt = timePtr(revokedAt)
	key.LastUsedAt = timePtr(lastUsedAt)
	return &key, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
