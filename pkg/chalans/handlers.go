package chalans

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Handlers provides HTTP handlers for chalans and vehicle fees
type Handlers struct {
	service *Service
}

// NewHandlers creates new chalan handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all chalan routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chalans", h.ListChalans).Methods("GET")
	router.HandleFunc("/chalans", h.CreateChalan).Methods("POST")
	router.HandleFunc("/chalans/stats", h.Stats).Methods("GET")
	router.HandleFunc("/chalans/assignable-users", h.AssignableUsers).Methods("GET")

	router.HandleFunc("/chalans/{id:[0-9]+}", h.GetChalan).Methods("GET")
	router.HandleFunc("/chalans/{id:[0-9]+}", h.UpdateChalan).Methods("PUT", "PATCH")
	router.HandleFunc("/chalans/{id:[0-9]+}", h.DeleteChalan).Methods("DELETE")
	router.HandleFunc("/chalans/{id:[0-9]+}/history", h.History).Methods("GET")
	router.HandleFunc("/chalans/{id:[0-9]+}/assign", h.AssignChalan).Methods("POST")
	router.HandleFunc("/chalans/{id:[0-9]+}/issue", h.IssueChalan).Methods("POST")
	router.HandleFunc("/chalans/{id:[0-9]+}/mark-paid", h.MarkPaid).Methods("POST")
	router.HandleFunc("/chalans/{id:[0-9]+}/fees", h.UpdateFees).Methods("PATCH")
	router.HandleFunc("/chalans/{id:[0-9]+}/cancel", h.CancelChalan).Methods("POST")
	router.HandleFunc("/chalans/{id:[0-9]+}/dispute", h.DisputeChalan).Methods("POST")
	router.HandleFunc("/chalans/{id:[0-9]+}/resolve", h.ResolveChalan).Methods("POST")

	router.HandleFunc("/vehicle-fees", h.ListFees).Methods("GET")
	router.HandleFunc("/vehicle-fees/{vehicle_type}", h.PutFee).Methods("PUT")
	router.HandleFunc("/vehicle-fees/{vehicle_type}", h.DeleteFee).Methods("DELETE")
}

// ListChalans handles GET /chalans
func (h *Handlers) ListChalans(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Status:    Status(httputil.ParseQueryString(r, "status", "")),
		CarNumber: httputil.ParseQueryString(r, "car_number", ""),
		OwnerCNIC: httputil.ParseQueryString(r, "owner_cnic", ""),
		Search:    httputil.ParseQueryString(r, "search", ""),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteBadRequest(w, "unknown status")
		return
	}
	for _, p := range []struct {
		name string
		dest **int64
	}{
		{"assigned_to", &filter.AssignedTo},
		{"permit_id", &filter.PermitID},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid "+p.name)
			return
		}
		*p.dest = &id
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

	chalans, err := h.service.List(r.Context(), rbac.UserFromContext(r.Context()), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"chalans": chalans,
		"count":   len(chalans),
		"limit":   clampLimit(filter.Limit),
		"offset":  filter.Offset,
	})
}

type chalanRequest struct {
	UserID               *int64 `json:"user_id"`
	OwnerName            string `json:"owner_name"`
	OwnerCNIC            string `json:"owner_cnic"`
	OwnerPhone           string `json:"owner_phone"`
	PermitID             *int64 `json:"permit_id"`
	CarNumber            string `json:"car_number"`
	VehicleType          string `json:"vehicle_type"`
	ViolationDescription string `json:"violation_description"`
	FeesAmount           Money  `json:"fees_amount"`
	AutoCalculateFee     *bool  `json:"auto_calculate_fee"`
	IssueLocation        string `json:"issue_location"`
	Remarks              string `json:"remarks"`
}

// CreateChalan handles POST /chalans. auto_calculate_fee defaults to true.
func (h *Handlers) CreateChalan(w http.ResponseWriter, r *http.Request) {
	var req chalanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	in := CreateInput{
		UserID:               req.UserID,
		OwnerName:            req.OwnerName,
		OwnerCNIC:            req.OwnerCNIC,
		OwnerPhone:           req.OwnerPhone,
		PermitID:             req.PermitID,
		CarNumber:            req.CarNumber,
		VehicleType:          req.VehicleType,
		ViolationDescription: req.ViolationDescription,
		FeesAmount:           req.FeesAmount,
		AutoCalculateFee:     req.AutoCalculateFee == nil || *req.AutoCalculateFee,
		IssueLocation:        req.IssueLocation,
		Remarks:              req.Remarks,
	}
	chalan, err := h.service.Create(r.Context(), rbac.UserFromContext(r.Context()), in)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, chalan)
}

// GetChalan handles GET /chalans/{id}
func (h *Handlers) GetChalan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	chalan, err := h.service.Get(r.Context(), rbac.UserFromContext(r.Context()), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, chalan)
}

type updateChalanRequest struct {
	OwnerName            *string `json:"owner_name"`
	OwnerCNIC            *string `json:"owner_cnic"`
	OwnerPhone           *string `json:"owner_phone"`
	ViolationDescription *string `json:"violation_description"`
	IssueLocation        *string `json:"issue_location"`
	Remarks              *string `json:"remarks"`
	Status               *Status `json:"status"`
	AssignedTo           *int64  `json:"assigned_to"`
	Unassign             bool    `json:"unassign"`
	Notes                string  `json:"notes"`
}

// UpdateChalan handles PUT/PATCH /chalans/{id}
func (h *Handlers) UpdateChalan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req updateChalanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	chalan, err := h.service.Update(r.Context(), rbac.UserFromContext(r.Context()), id, UpdateInput{
		OwnerName:            req.OwnerName,
		OwnerCNIC:            req.OwnerCNIC,
		OwnerPhone:           req.OwnerPhone,
		ViolationDescription: req.ViolationDescription,
		IssueLocation:        req.IssueLocation,
		Remarks:              req.Remarks,
		Status:               req.Status,
		AssignedTo:           req.AssignedTo,
		Unassign:             req.Unassign,
		Notes:                req.Notes,
	})
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, chalan)
}

// DeleteChalan handles DELETE /chalans/{id}
func (h *Handlers) DeleteChalan(w http.ResponseWriter, r *http.Request) {
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

// History handles GET /chalans/{id}/history
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

// AssignChalan handles POST /chalans/{id}/assign
func (h *Handlers) AssignChalan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AssignedTo *int64 `json:"assigned_to"`
		Notes      string `json:"notes"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	chalan, err := h.service.Assign(r.Context(), rbac.UserFromContext(r.Context()), id, req.AssignedTo, req.Notes)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, chalan)
}

type actionRequest struct {
	Notes            string `json:"notes"`
	Reason           string `json:"reason"`
	PaymentAmount    Money  `json:"payment_amount"`
	PaymentReference string `json:"payment_reference"`
	FeesAmount       Money  `json:"fees_amount"`
}

func (h *Handlers) act(w http.ResponseWriter, r *http.Request, fn func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error)) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req actionRequest
	if !httputil.ParseOptionalJSON(w, r, &req) {
		return
	}
	chalan, err := fn(rbac.UserFromContext(r.Context()), id, req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, chalan)
}

// IssueChalan handles POST /chalans/{id}/issue
func (h *Handlers) IssueChalan(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.Issue(r.Context(), actor, id, req.Notes)
	})
}

// MarkPaid handles POST /chalans/{id}/mark-paid
func (h *Handlers) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.MarkPaid(r.Context(), actor, id, Payment{Amount: req.PaymentAmount, Reference: req.PaymentReference})
	})
}

// UpdateFees handles PATCH /chalans/{id}/fees
func (h *Handlers) UpdateFees(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.UpdateFees(r.Context(), actor, id, req.FeesAmount, req.Notes)
	})
}

// CancelChalan handles POST /chalans/{id}/cancel
func (h *Handlers) CancelChalan(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.Cancel(r.Context(), actor, id, req.Reason)
	})
}

// DisputeChalan handles POST /chalans/{id}/dispute
func (h *Handlers) DisputeChalan(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.Dispute(r.Context(), actor, id, req.Reason)
	})
}

// ResolveChalan handles POST /chalans/{id}/resolve
func (h *Handlers) ResolveChalan(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor *rbac.User, id int64, req actionRequest) (*Chalan, error) {
		return h.service.Resolve(r.Context(), actor, id, req.Notes)
	})
}

// Stats handles GET /chalans/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// AssignableUsers handles GET /chalans/assignable-users
func (h *Handlers) AssignableUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.AssignableUsers(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// ListFees handles GET /vehicle-fees
func (h *Handlers) ListFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.service.Fees(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, fees)
}

// PutFee handles PUT /vehicle-fees/{vehicle_type}
func (h *Handlers) PutFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseFee     Money  `json:"base_fee"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	fee, err := h.service.SetFee(r.Context(), rbac.UserFromContext(r.Context()),
		mux.Vars(r)["vehicle_type"], req.BaseFee, req.Description)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, fee)
}

// DeleteFee handles DELETE /vehicle-fees/{vehicle_type}
func (h *Handlers) DeleteFee(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteFee(r.Context(), rbac.UserFromContext(r.Context()), mux.Vars(r)["vehicle_type"]); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
