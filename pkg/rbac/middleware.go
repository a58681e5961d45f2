package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/permitdesk/pkg/contextkeys"
	"github.com/platinummonkey/permitdesk/pkg/httputil"
)

// UserFromContext returns the authenticated user stored by the
// authentication middleware, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(contextkeys.UserKey).(*User)
	return user
}

// PermissionMiddleware guards routes with class-level authorization checks.
// Object-level checks (ownership) need the loaded record and are done by
// the handlers through the Engine.
type PermissionMiddleware struct {
	engine *Engine
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(engine *Engine) *PermissionMiddleware {
	return &PermissionMiddleware{engine: engine}
}

// Require allows the request through only when Authorize allows action on
// resource for the caller
func (pm *PermissionMiddleware) Require(resource ResourceType, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := pm.engine.Require(r.Context(), UserFromContext(r.Context()), Request{Resource: resource, Action: action})
			if err != nil {
				httputil.WriteDomainError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny allows the request through when the caller's role has at least
// one of codes
func (pm *PermissionMiddleware) RequireAny(codes ...FeatureCode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if !user.IsAuthenticated() {
				httputil.WriteDomainError(w, r, ErrNotAuthenticated)
				return
			}
			ok, err := pm.engine.AuthorizeAny(r.Context(), user, codes...)
			if err != nil {
				httputil.WriteDomainError(w, r, err)
				return
			}
			if !ok {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperuser allows only superusers through
func (pm *PermissionMiddleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if !user.IsAuthenticated() {
			httputil.WriteDomainError(w, r, ErrNotAuthenticated)
			return
		}
		if !user.IsSuperuser {
			httputil.WriteForbidden(w, "Superuser access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
