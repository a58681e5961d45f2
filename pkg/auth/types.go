package auth

import "time"

// APIToken is a bearer credential bound to one user. The plaintext token is
// returned once at creation; only its SHA256 hash is stored.
type APIToken struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	TokenHash    string     `json:"-"` // Never expose hash
	TokenPrefix  string     `json:"token_prefix"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *int64     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// IsRevoked reports whether the token was revoked
func (t *APIToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token expired at or before now
func (t *APIToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// CreateTokenRequest describes a new token. A zero ExpiresIn never expires.
type CreateTokenRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ExpiresIn   time.Duration `json:"-"`
}

// CreatedToken carries the plaintext token alongside its stored record
type CreatedToken struct {
	*APIToken
	Token string `json:"token"`
}
