package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage/sqlitetest"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type testEnv struct {
	store  *TokenStore
	users  *rbac.Store
	clock  *clock
	userID int64
}

func setupStore(t *testing.T) *testEnv {
	t.Helper()
	db := sqlitetest.Open(t, rbac.Migrations(), Migrations())
	c := &clock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
	users := rbac.NewStore(db)

	user := &rbac.User{Username: "clerk", IsActive: true}
	require.NoError(t, users.CreateUser(context.Background(), user))

	return &testEnv{
		store:  NewTokenStore(db, WithClock(c.Now)),
		users:  users,
		clock:  c,
		userID: user.ID,
	}
}

func TestTokenStore_CreateAndValidate(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()

	created, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: " laptop ", ExpiresIn: time.Hour})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "laptop", created.Name)
	assert.Equal(t, created.TokenPrefix, NewTokenGenerator().ExtractPrefix(created.Token))
	require.NotNil(t, created.ExpiresAt)
	assert.Equal(t, env.clock.now.Add(time.Hour), *created.ExpiresAt)

	env.clock.now = env.clock.now.Add(10 * time.Minute)
	token, err := env.store.Validate(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, env.userID, token.UserID)
	require.NotNil(t, token.LastUsedAt)

	stored, err := env.store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(env.clock.now))
}

func TestTokenStore_ValidateRejects(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()

	expiring, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "short", ExpiresIn: time.Minute})
	require.NoError(t, err)
	revoked, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "revoked"})
	require.NoError(t, err)
	require.NoError(t, env.store.Revoke(ctx, revoked.ID, env.userID, "lost"))

	env.clock.now = env.clock.now.Add(time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"malformed", "not-a-token"},
		{"unknown", "pd_c29tZXRoaW5nLWVsc2U"},
		{"expired", expiring.Token},
		{"revoked", revoked.Token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.store.Validate(ctx, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.ErrorIs(t, err, rbac.ErrNotAuthenticated)
		})
	}
}

func TestTokenStore_CreateValidation(t *testing.T) {
	env := setupStore(t)

	_, err := env.store.Create(context.Background(), env.userID, CreateTokenRequest{Name: "  "})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)

	_, err = env.store.Create(context.Background(), env.userID, CreateTokenRequest{Name: "x", ExpiresIn: -time.Hour})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
}

func TestTokenStore_Revoke(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()

	created, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "ci"})
	require.NoError(t, err)

	require.NoError(t, env.store.Revoke(ctx, created.ID, env.userID, " rotated "))
	token, err := env.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, token.IsRevoked())
	assert.Equal(t, "rotated", token.RevokeReason)
	require.NotNil(t, token.RevokedBy)
	assert.Equal(t, env.userID, *token.RevokedBy)

	err = env.store.Revoke(ctx, created.ID, env.userID, "")
	assert.ErrorIs(t, err, rbac.ErrConflictingState)

	err = env.store.Revoke(ctx, 999, env.userID, "")
	assert.True(t, rbac.IsNotFound(err))
}

func TestTokenStore_ListAndCleanup(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()

	_, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "old", ExpiresIn: time.Hour})
	require.NoError(t, err)
	env.clock.now = env.clock.now.Add(time.Minute)
	_, err = env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "forever"})
	require.NoError(t, err)

	tokens, err := env.store.ListForUser(ctx, env.userID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "forever", tokens[0].Name)
	assert.Equal(t, "old", tokens[1].Name)

	env.clock.now = env.clock.now.Add(2 * time.Hour)
	removed, err := env.store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	tokens, err = env.store.ListForUser(ctx, env.userID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "forever", tokens[0].Name)
}

func TestTokenStore_LookupError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM api_tokens WHERE token_hash").
		WillReturnError(errors.New("connection reset"))

	store := NewTokenStore(db)
	_, err = store.Validate(context.Background(), "pd_c29tZXRoaW5nLWVsc2U")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}
