package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Handlers provides HTTP handlers for role, feature and user administration
type Handlers struct {
	store  *Store
	engine *Engine
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, engine *Engine) *Handlers {
	return &Handlers{store: store, engine: engine}
}

// RegisterRoutes registers all RBAC routes behind class-level permission checks
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *PermissionMiddleware) {
	guard := func(resource ResourceType, action Action, fn http.HandlerFunc) http.Handler {
		return pm.Require(resource, action)(fn)
	}

	router.Handle("/rbac/features", guard(ResourceRole, ActionList, h.ListFeatures)).Methods("GET")

	// Role management
	router.Handle("/rbac/roles", guard(ResourceRole, ActionList, h.ListRoles)).Methods("GET")
	router.Handle("/rbac/roles", guard(ResourceRole, ActionCreate, h.CreateRole)).Methods("POST")
	router.Handle("/rbac/roles/{id}", guard(ResourceRole, ActionView, h.GetRole)).Methods("GET")
	router.Handle("/rbac/roles/{id}", guard(ResourceRole, ActionEdit, h.UpdateRole)).Methods("PUT")
	router.Handle("/rbac/roles/{id}/activate", guard(ResourceRole, ActionChangeStatus, h.ActivateRole)).Methods("POST")
	router.Handle("/rbac/roles/{id}/deactivate", guard(ResourceRole, ActionChangeStatus, h.DeactivateRole)).Methods("POST")
	router.Handle("/rbac/roles/{id}/features", guard(ResourceRole, ActionEdit, h.SetRoleFeatures)).Methods("PUT")
	router.Handle("/rbac/roles/{id}/features/{code}", guard(ResourceRole, ActionEdit, h.AddRoleFeature)).Methods("PUT")
	router.Handle("/rbac/roles/{id}/features/{code}", guard(ResourceRole, ActionEdit, h.RemoveRoleFeature)).Methods("DELETE")

	// User administration
	router.Handle("/rbac/users", guard(ResourceUser, ActionList, h.ListUsers)).Methods("GET")
	router.Handle("/rbac/users", guard(ResourceUser, ActionCreate, h.CreateUser)).Methods("POST")
	router.Handle("/rbac/users/unassigned", guard(ResourceUser, ActionList, h.ListUnassignedUsers)).Methods("GET")
	router.Handle("/rbac/users/{id}/role", guard(ResourceUser, ActionView, h.GetUserRole)).Methods("GET")
	router.Handle("/rbac/users/{id}/role", guard(ResourceUser, ActionAssign, h.AssignRole)).Methods("PUT")
	router.Handle("/rbac/users/{id}/role", guard(ResourceUser, ActionAssign, h.RemoveRole)).Methods("DELETE")
	router.Handle("/rbac/users/{id}/activate", guard(ResourceUser, ActionChangeStatus, h.ActivateUser)).Methods("POST")
	router.Handle("/rbac/users/{id}/deactivate", guard(ResourceUser, ActionChangeStatus, h.DeactivateUser)).Methods("POST")

	// Caller introspection, no feature required
	router.HandleFunc("/rbac/me", h.Me).Methods("GET")
	router.HandleFunc("/rbac/check", h.Check).Methods("POST")
}

// ListFeatures lists the feature catalog
func (h *Handlers) ListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.store.ListFeatures(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, features)
}

// ListRoles lists all roles with their features
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

type createRoleRequest struct {
	Name        RoleName      `json:"name"`
	Description string        `json:"description"`
	Features    []FeatureCode `json:"features"`
}

// CreateRole creates a new role, active by default
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, string(req.Name), "name") {
		return
	}

	role := &Role{Name: req.Name, Description: req.Description, IsActive: true, Features: req.Features}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithField("role", role.Name).Info("role created")
	httputil.WriteCreated(w, role)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole changes a role's description
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.store.UpdateRole(r.Context(), id, req.Description); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	h.writeRole(w, r, id)
}

// ActivateRole re-enables a role
func (h *Handlers) ActivateRole(w http.ResponseWriter, r *http.Request) {
	h.setRoleActive(w, r, true)
}

// DeactivateRole disables a role; its users are denied from the next request
func (h *Handlers) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	h.setRoleActive(w, r, false)
}

func (h *Handlers) setRoleActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.SetRoleActive(r.Context(), id, active); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"role_id": id,
		"active":  active,
	}).Info("role status changed")
	h.writeRole(w, r, id)
}

// AddRoleFeature grants one feature; granting twice is a no-op
func (h *Handlers) AddRoleFeature(w http.ResponseWriter, r *http.Request) {
	h.mutateFeature(w, r, h.store.AddFeature)
}

// RemoveRoleFeature revokes one feature; revoking an absent feature is a no-op
func (h *Handlers) RemoveRoleFeature(w http.ResponseWriter, r *http.Request) {
	h.mutateFeature(w, r, h.store.RemoveFeature)
}

func (h *Handlers) mutateFeature(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, roleID int64, code FeatureCode) error) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	if err := fn(r.Context(), id, FeatureCode(code)); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	h.writeRole(w, r, id)
}

// SetRoleFeatures replaces the feature set of a role
func (h *Handlers) SetRoleFeatures(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Features []FeatureCode `json:"features"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.store.SetFeatures(r.Context(), id, req.Features); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	h.writeRole(w, r, id)
}

func (h *Handlers) writeRole(w http.ResponseWriter, r *http.Request, id int64) {
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// ListUsers lists all users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// ListUnassignedUsers lists active users without an active role
func (h *Handlers) ListUnassignedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsersWithoutRole(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// CreateUser creates an active user bound to the default role
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}
	user := &User{Username: req.Username, Email: req.Email, FullName: req.FullName, IsActive: true}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// GetUserRole returns the binding of a user
func (h *Handlers) GetUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	binding, err := h.store.GetBinding(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, binding)
}

type assignRoleRequest struct {
	Role  RoleName `json:"role"`
	Notes string   `json:"notes"`
}

// AssignRole binds a user to a role, replacing any previous role
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, string(req.Role), "role") {
		return
	}

	binding, err := h.store.AssignRole(r.Context(), id, req.Role, actorID(r), req.Notes)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"target_user_id": id,
		"role":           req.Role,
	}).Info("role assigned")
	httputil.WriteSuccess(w, binding)
}

// RemoveRole deactivates a user's binding
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	notes := httputil.ParseQueryString(r, "notes", "")
	if err := h.store.RemoveRole(r.Context(), id, actorID(r), notes); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithField("target_user_id", id).Info("role removed")
	httputil.WriteNoContent(w)
}

// ActivateUser re-enables a user
func (h *Handlers) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, true)
}

// DeactivateUser disables a user
func (h *Handlers) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, false)
}

func (h *Handlers) setUserActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.SetUserActive(r.Context(), id, active); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type meResponse struct {
	User     *User         `json:"user"`
	Role     RoleName      `json:"role,omitempty"`
	Features []FeatureCode `json:"features"`
}

// Me describes the caller and the features of its active role
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if !user.IsAuthenticated() {
		httputil.WriteDomainError(w, r, ErrNotAuthenticated)
		return
	}
	resp := meResponse{User: user, Features: []FeatureCode{}}
	if user.IsSuperuser {
		resp.Features = AllFeatureCodes()
	}
	role, err := h.engine.RoleOf(r.Context(), user)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if role != nil {
		resp.Role = role.Name
		if !user.IsSuperuser {
			resp.Features = role.Features
		}
	}
	httputil.WriteSuccess(w, resp)
}

type checkRequest struct {
	Resource   ResourceType `json:"resource"`
	Action     Action       `json:"action"`
	CreatedBy  *int64       `json:"created_by,omitempty"`
	AssignedTo *int64       `json:"assigned_to,omitempty"`
}

// Check evaluates an authorization request for the caller and returns the
// decision without performing anything
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	authzReq := Request{Resource: req.Resource, Action: req.Action}
	if req.CreatedBy != nil || req.AssignedTo != nil {
		authzReq.Object = &Object{CreatedBy: req.CreatedBy, AssignedTo: req.AssignedTo}
	}
	decision, err := h.engine.Authorize(r.Context(), UserFromContext(r.Context()), authzReq)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

func actorID(r *http.Request) *int64 {
	if user := UserFromContext(r.Context()); user != nil {
		id := user.ID
		return &id
	}
	return nil
}
