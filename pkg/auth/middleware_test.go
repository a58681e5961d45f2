package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/contextkeys"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := rbac.UserFromContext(r.Context())
		if user == nil {
			w.Write([]byte("anonymous"))
			return
		}
		assert.Equal(t, "1", contextkeys.GetUserID(r.Context()))
		w.Write([]byte(user.Username))
	})
}

func TestAuthenticator_Handler(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()
	created, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "laptop"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		optional bool
		header   string
		wantCode int
		wantBody string
	}{
		{"valid token", false, "Bearer " + created.Token, http.StatusOK, "clerk"},
		{"anonymous optional", true, "", http.StatusOK, "anonymous"},
		{"anonymous required", false, "", http.StatusUnauthorized, "missing authorization header"},
		{"basic scheme", true, "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", true, "Bearer ", http.StatusUnauthorized, "invalid authorization header format"},
		{"unknown token", true, "Bearer pd_c29tZXRoaW5nLWVsc2U", http.StatusUnauthorized, "invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthenticator(env.store, env.users, tt.optional).Handler(echoUser(t))
			req := httptest.NewRequest("GET", "/permits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthenticator_InactiveUser(t *testing.T) {
	env := setupStore(t)
	ctx := context.Background()
	created, err := env.store.Create(ctx, env.userID, CreateTokenRequest{Name: "laptop"})
	require.NoError(t, err)
	require.NoError(t, env.users.SetUserActive(ctx, env.userID, false))

	handler := NewAuthenticator(env.store, env.users, true).Handler(echoUser(t))
	req := httptest.NewRequest("GET", "/permits", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
