package permits

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Handlers provides HTTP handlers for permits. Authorization happens in
// the service, which sees the loaded permit.
type Handlers struct {
	service *Service
}

// NewHandlers creates new permit handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all permit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permits", h.ListPermits).Methods("GET")
	router.HandleFunc("/permits", h.CreatePermit).Methods("POST")
	router.HandleFunc("/permits/lookup", h.Lookup).Methods("GET")
	router.HandleFunc("/permits/stats", h.Stats).Methods("GET")
	router.HandleFunc("/permits/assignable-users", h.AssignableUsers).Methods("GET")

	router.HandleFunc("/permits/{id:[0-9]+}", h.GetPermit).Methods("GET")
	router.HandleFunc("/permits/{id:[0-9]+}", h.UpdatePermit).Methods("PUT", "PATCH")
	router.HandleFunc("/permits/{id:[0-9]+}", h.DeletePermit).Methods("DELETE")
	router.HandleFunc("/permits/{id:[0-9]+}/history", h.History).Methods("GET")
	router.HandleFunc("/permits/{id:[0-9]+}/assign", h.AssignPermit).Methods("POST")
	router.HandleFunc("/permits/{id:[0-9]+}/activate", h.ActivatePermit).Methods("POST")
	router.HandleFunc("/permits/{id:[0-9]+}/deactivate", h.DeactivatePermit).Methods("POST")
	router.HandleFunc("/permits/{id:[0-9]+}/cancel", h.CancelPermit).Methods("POST")
	router.HandleFunc("/permits/{id:[0-9]+}/renew", h.RenewPermit).Methods("POST")
	router.HandleFunc("/permits/{id:[0-9]+}/extend", h.ExtendPermit).Methods("POST")
}

// ListPermits handles GET /permits
func (h *Handlers) ListPermits(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Status:        Status(httputil.ParseQueryString(r, "status", "")),
		VehicleNumber: httputil.ParseQueryString(r, "vehicle_number", ""),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteBadRequest(w, "unknown status")
		return
	}
	if raw := r.URL.Query().Get("assigned_to"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid assigned_to")
			return
		}
		filter.AssignedTo = &id
	}

	var err error
	if filter.Unassigned, err = httputil.ParseQueryBool(r, "unassigned", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	permits, err := h.service.List(r.Context(), rbac.UserFromContext(r.Context()), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permits": permits,
		"count":   len(permits),
		"limit":   clampLimit(filter.Limit),
		"offset":  filter.Offset,
	})
}

type permitRequest struct {
	Authority     Authority `json:"authority"`
	PermitType    string    `json:"permit_type"`
	VehicleNumber string    `json:"vehicle_number"`
	VehicleType   string    `json:"vehicle_type"`
	OwnerName     string    `json:"owner_name"`
	OwnerPhone    string    `json:"owner_phone"`
	OwnerCNIC     string    `json:"owner_cnic"`
	ValidFrom     string    `json:"valid_from"`
	ValidTo       string    `json:"valid_to"`
	Description   string    `json:"description"`
	Remarks       string    `json:"remarks"`
}

// CreatePermit handles POST /permits
func (h *Handlers) CreatePermit(w http.ResponseWriter, r *http.Request) {
	var req permitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	in := CreateInput{
		Authority:     req.Authority,
		PermitType:    req.PermitType,
		VehicleNumber: req.VehicleNumber,
		VehicleType:   req.VehicleType,
		OwnerName:     req.OwnerName,
		OwnerPhone:    req.OwnerPhone,
		OwnerCNIC:     req.OwnerCNIC,
		Description:   req.Description,
		Remarks:       req.Remarks,
	}
	var err error
	if in.ValidFrom, err = parseDate("valid_from", req.ValidFrom); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if in.ValidTo, err = parseDate("valid_to", req.ValidTo); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	permit, err := h.service.Create(r.Context(), rbac.UserFromContext(r.Context()), in)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, permit)
}

// GetPermit handles GET /permits/{id}
func (h *Handlers) GetPermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permit, err := h.service.Get(r.Context(), rbac.UserFromContext(r.Context()), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permit)
}

type updatePermitRequest struct {
	PermitType  *string `json:"permit_type"`
	VehicleType *string `json:"vehicle_type"`
	OwnerName   *string `json:"owner_name"`
	OwnerPhone  *string `json:"owner_phone"`
	OwnerCNIC   *string `json:"owner_cnic"`
	ValidFrom   *string `json:"valid_from"`
	ValidTo     *string `json:"valid_to"`
	Description *string `json:"description"`
	Remarks     *string `json:"remarks"`
	Status      *Status `json:"status"`
	AssignedTo  *int64  `json:"assigned_to"`
	Unassign    bool    `json:"unassign"`
	Notes       string  `json:"notes"`
}

// UpdatePermit handles PUT/PATCH /permits/{id}
func (h *Handlers) UpdatePermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req updatePermitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	in := UpdateInput{
		PermitType:  req.PermitType,
		VehicleType: req.VehicleType,
		OwnerName:   req.OwnerName,
		OwnerPhone:  req.OwnerPhone,
		OwnerCNIC:   req.OwnerCNIC,
		Description: req.Description,
		Remarks:     req.Remarks,
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
		Unassign:    req.Unassign,
		Notes:       req.Notes,
	}
	for _, field := range []struct {
		name string
		raw  *string
		dest **time.Time
	}{
		{"valid_from", req.ValidFrom, &in.ValidFrom},
		{"valid_to", req.ValidTo, &in.ValidTo},
	} {
		if field.raw == nil {
			continue
		}
		t, err := parseDate(field.name, *field.raw)
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		*field.dest = &t
	}

	permit, err := h.service.Update(r.Context(), rbac.UserFromContext(r.Context()), id, in)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permit)
}

// DeletePermit handles DELETE /permits/{id}
func (h *Handlers) DeletePermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), rbac.UserFromContext(r.Context()), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// History handles GET /permits/{id}/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	records, err := h.service.History(r.Context(), rbac.UserFromContext(r.Context()), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, records)
}

type assignRequest struct {
	AssignedTo *int64 `json:"assigned_to"`
	Notes      string `json:"notes"`
}

// AssignPermit handles POST /permits/{id}/assign; a null assigned_to
// clears the assignee
func (h *Handlers) AssignPermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	permit, err := h.service.Assign(r.Context(), rbac.UserFromContext(r.Context()), id, req.AssignedTo, req.Notes)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permit)
}

type statusRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// ActivatePermit handles POST /permits/{id}/activate
func (h *Handlers) ActivatePermit(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, func(actor *rbac.User, id int64, req statusRequest) (*Permit, error) {
		return h.service.Activate(r.Context(), actor, id, req.Notes)
	})
}

// DeactivatePermit handles POST /permits/{id}/deactivate
func (h *Handlers) DeactivatePermit(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, func(actor *rbac.User, id int64, req statusRequest) (*Permit, error) {
		return h.service.Deactivate(r.Context(), actor, id, req.Notes)
	})
}

// CancelPermit handles POST /permits/{id}/cancel
func (h *Handlers) CancelPermit(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, func(actor *rbac.User, id int64, req statusRequest) (*Permit, error) {
		return h.service.Cancel(r.Context(), actor, id, req.Reason)
	})
}

func (h *Handlers) changeStatus(w http.ResponseWriter, r *http.Request, fn func(actor *rbac.User, id int64, req statusRequest) (*Permit, error)) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !httputil.ParseOptionalJSON(w, r, &req) {
		return
	}
	permit, err := fn(rbac.UserFromContext(r.Context()), id, req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permit)
}

// RenewPermit handles POST /permits/{id}/renew. The body may carry
// valid_from; the renewed permit starts today otherwise.
func (h *Handlers) RenewPermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ValidFrom string `json:"valid_from"`
	}
	if !httputil.ParseOptionalJSON(w, r, &req) {
		return
	}
	validFrom, err := parseDate("valid_from", req.ValidFrom)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	permit, err := h.service.Renew(r.Context(), rbac.UserFromContext(r.Context()), id, validFrom)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, permit)
}

// ExtendPermit handles POST /permits/{id}/extend with valid_to and
// optional notes
func (h *Handlers) ExtendPermit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ValidTo string `json:"valid_to"`
		Notes   string `json:"notes"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	validTo, err := parseDate("valid_to", req.ValidTo)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	permit, err := h.service.Extend(r.Context(), rbac.UserFromContext(r.Context()), id, validTo, req.Notes)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permit)
}

// Lookup handles GET /permits/lookup?vehicle_number=, the public search
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	permits, err := h.service.Lookup(r.Context(), r.URL.Query().Get("vehicle_number"))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permits": permits,
		"count":   len(permits),
	})
}

// Stats handles GET /permits/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// AssignableUsers handles GET /permits/assignable-users
func (h *Handlers) AssignableUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.AssignableUsers(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// parseDate parses a YYYY-MM-DD date; empty yields the zero time
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, rbac.Invalid(field, "expected a YYYY-MM-DD date")
	}
	return t, nil
}
