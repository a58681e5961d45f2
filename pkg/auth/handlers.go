package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Handlers lets authenticated users manage their own API tokens
type Handlers struct {
	tokens *TokenStore
}

// NewHandlers creates new token handlers
func NewHandlers(tokens *TokenStore) *Handlers {
	return &Handlers{tokens: tokens}
}

// RegisterRoutes registers the token routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/tokens", h.ListTokens).Methods("GET")
	router.HandleFunc("/auth/tokens", h.CreateToken).Methods("POST")
	router.HandleFunc("/auth/tokens/{id:[0-9]+}", h.RevokeToken).Methods("DELETE")
}

func caller(w http.ResponseWriter, r *http.Request) (*rbac.User, bool) {
	user := rbac.UserFromContext(r.Context())
	if !user.IsAuthenticated() {
		httputil.WriteDomainError(w, r, rbac.ErrNotAuthenticated)
		return nil, false
	}
	return user, true
}

// ListTokens lists the caller's tokens
func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	tokens, err := h.tokens.ListForUser(r.Context(), user.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tokens)
}

type createTokenRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// CreateToken issues a token for the caller. The plaintext is in the
// response body and cannot be retrieved again.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := h.tokens.Create(r.Context(), user.ID, CreateTokenRequest{
		Name:        req.Name,
		Description: req.Description,
		ExpiresIn:   time.Duration(req.ExpiresInDays) * 24 * time.Hour,
	})
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithField("token_prefix", created.TokenPrefix).Info("api token created")
	httputil.WriteCreated(w, created)
}

// RevokeToken revokes one of the caller's tokens. Superusers may revoke any
// token; other users get 404 for tokens they do not own.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !httputil.ParseOptionalJSON(w, r, &req) {
		return
	}

	token, err := h.tokens.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if token.UserID != user.ID && !user.IsSuperuser {
		httputil.WriteDomainError(w, r, rbac.NewNotFound("token", id))
		return
	}

	if err := h.tokens.Revoke(r.Context(), id, user.ID, req.Reason); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithField("token_id", id).Info("api token revoked")
	httputil.WriteNoContent(w)
}
