package assignment

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Handlers exposes the assignment hierarchy over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates new assignment handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the assignment routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/assignment/hierarchy", h.GetHierarchy).Methods("GET")
}

// GetHierarchy handles GET /assignment/hierarchy
func (h *Handlers) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.View(r.Context(), rbac.UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, view)
}
