package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/permitdesk/pkg/contextkeys"
	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// UserLookup loads the user a token belongs to
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*rbac.User, error)
}

// Authenticator resolves the bearer token of a request into an *rbac.User
// and stores it under contextkeys.UserKey
type Authenticator struct {
	tokens   *TokenStore
	users    UserLookup
	optional bool // If true, allow requests without auth
}

// NewAuthenticator creates a new authentication middleware. With optional
// set, requests without an Authorization header continue anonymously and
// the authorization engine decides what they may reach.
func NewAuthenticator(tokens *TokenStore, users UserLookup, optional bool) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		users:    users,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		user, err := a.authenticate(r.Context(), parts[1])
		if err != nil {
			if errors.Is(err, rbac.ErrNotAuthenticated) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			httputil.WriteDomainError(w, r, err)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*rbac.User, error) {
	apiToken, err := a.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(ctx, apiToken.UserID)
	if rbac.IsNotFound(err) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		observability.FromContext(ctx).WithField("user_id", user.ID).Warn("token presented for inactive user")
		return nil, ErrInvalidToken
	}
	return user, nil
}
