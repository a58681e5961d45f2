package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// ErrInvalidToken is returned for unknown, malformed, revoked or expired
// tokens. It unwraps to rbac.ErrNotAuthenticated.
var ErrInvalidToken = fmt.Errorf("invalid or expired token: %w", rbac.ErrNotAuthenticated)

// TokenStore persists API tokens by hash
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// TokenStoreOption configures a TokenStore
type TokenStoreOption func(*TokenStore)

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenStoreOption {
	return func(s *TokenStore) {
		s.now = now
	}
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		db:        db,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const tokenColumns = `id, user_id, token_hash, token_prefix, name, description,
	expires_at, last_used_at, created_at, revoked_at, revoked_by, revoke_reason`

func scanToken(row interface{ Scan(...interface{}) error }) (*APIToken, error) {
	var (
		t                                APIToken
		expiresAt, lastUsedAt, revokedAt sql.NullTime
		revokedBy                        sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name, &t.Description,
		&expiresAt, &lastUsedAt, &t.CreatedAt, &revokedAt, &revokedBy, &t.RevokeReason)
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = nullTime(expiresAt)
	t.LastUsedAt = nullTime(lastUsedAt)
	t.RevokedAt = nullTime(revokedAt)
	if revokedBy.Valid {
		id := revokedBy.Int64
		t.RevokedBy = &id
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// Create issues a new token for userID. The plaintext is only available on
// the returned value.
func (s *TokenStore) Create(ctx context.Context, userID int64, req CreateTokenRequest) (*CreatedToken, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, rbac.Invalid("name", "is required")
	}
	if req.ExpiresIn < 0 {
		return nil, rbac.Invalid("expires_in", "must not be negative")
	}

	token, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
	}
	if req.ExpiresIn > 0 {
		expires := now.Add(req.ExpiresIn)
		apiToken.ExpiresAt = &expires
	}

	var expiresAt interface{}
	if apiToken.ExpiresAt != nil {
		expiresAt = *apiToken.ExpiresAt
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, description, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, userID, hash, prefix, apiToken.Name, apiToken.Description, expiresAt, now).Scan(&apiToken.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("token hash collision: %w", rbac.ErrConflictingState)
		}
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	return &CreatedToken{APIToken: apiToken, Token: token}, nil
}

// Get retrieves a token by ID
func (s *TokenStore) Get(ctx context.Context, id int64) (*APIToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NewNotFound("token", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// Validate resolves a plaintext token to its record and stamps last_used_at.
// Unknown, revoked and expired tokens all yield ErrInvalidToken.
func (s *TokenStore) Validate(ctx context.Context, token string) (*APIToken, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	hash := s.generator.HashToken(token)
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now().UTC()
	if t.IsRevoked() || t.IsExpired(now) {
		return nil, ErrInvalidToken
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, t.ID); err != nil {
		return nil, fmt.Errorf("failed to update token usage: %w", err)
	}
	t.LastUsedAt = &now
	return t, nil
}

// Revoke marks a token revoked. Revoking twice is a conflicting state.
func (s *TokenStore) Revoke(ctx context.Context, id, revokedBy int64, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE id = $4 AND revoked_at IS NULL
	`, s.now().UTC(), revokedBy, strings.TrimSpace(reason), id)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("token %d already revoked: %w", id, rbac.ErrConflictingState)
	}
	return nil
}

// ListForUser lists a user's tokens newest first, revoked ones included
func (s *TokenStore) ListForUser(ctx context.Context, userID int64) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []APIToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// CleanupExpired deletes tokens that expired before now and returns how
// many were removed
func (s *TokenStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired tokens: %w", err)
	}
	return result.RowsAffected()
}
