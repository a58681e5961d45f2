package history

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Handlers provides the reporting API over the ledger
type Handlers struct {
	ledger *Ledger
}

// NewHandlers creates new history handlers
func NewHandlers(ledger *Ledger) *Handlers {
	return &Handlers{ledger: ledger}
}

// RegisterRoutes registers history routes; both need report access
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *rbac.PermissionMiddleware) {
	reports := pm.Require(rbac.ResourceReport, rbac.ActionList)
	router.Handle("/history", reports(http.HandlerFunc(h.listRecords))).Methods("GET")
	router.Handle("/history/export", reports(http.HandlerFunc(h.exportRecords))).Methods("GET")
}

// listRecords handles GET /history
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.ledger.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   clampLimit(filter.Limit, MaxLimit),
		"offset":  filter.Offset,
	})
}

// exportRecords handles GET /history/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	data, err := h.ledger.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=history.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=history.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=history.json")
	}

	w.Write(data)
}

// parseFilter parses a Filter from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	var filter Filter

	switch entity := EntityType(query.Get("entity_type")); entity {
	case "", EntityPermit, EntityChalan:
		filter.EntityType = entity
	default:
		return filter, fmt.Errorf("unknown entity_type %q", entity)
	}

	for _, param := range []struct {
		name string
		dest **int64
	}{
		{"entity_id", &filter.EntityID},
		{"performed_by", &filter.ActorID},
	} {
		if raw := query.Get(param.name); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return filter, fmt.Errorf("invalid %s: %s", param.name, raw)
			}
			*param.dest = &v
		}
	}

	for _, action := range parseCommaSeparated(query.Get("actions")) {
		filter.Actions = append(filter.Actions, Action(action))
	}

	for _, param := range []struct {
		name string
		dest **time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		if raw := query.Get(param.name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, fmt.Errorf("invalid %s: expected RFC 3339 time", param.name)
			}
			*param.dest = &t
		}
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}

	return filter, nil
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(s string) []string {
	var result []string
	for _, val := range strings.Split(s, ",") {
		if val = strings.TrimSpace(val); val != "" {
			result = append(result, val)
		}
	}
	return result
}
