package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/contextkeys"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

func setupHandlers(t *testing.T) (*mux.Router, *rbac.Store, *Ledger, int64) {
	t.Helper()
	db, ledger := setupLedger(t)

	store := rbac.NewStore(db)
	require.NoError(t, store.SeedDefaults(context.Background()))
	pm := rbac.NewPermissionMiddleware(rbac.NewEngine(store))

	router := mux.NewRouter()
	NewHandlers(ledger).RegisterRoutes(router, pm)

	permitID := insertParent(t, db, "permits", "P-1")
	return router, store, ledger, permitID
}

func serve(router http.Handler, user *rbac.User, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if user != nil {
		req = req.WithContext(contextkeys.WithUser(req.Context(), user))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_RequireReportAccess(t *testing.T) {
	router, store, _, _ := setupHandlers(t)

	assert.Equal(t, http.StatusUnauthorized, serve(router, nil, "/history").Code)

	clerk := rbac.Fixture(t, store, "clerk", rbac.RoleJuniorClerk)
	w := serve(router, clerk, "/history")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "report_view")

	senior := rbac.Fixture(t, store, "senior", rbac.RoleSeniorClerk)
	assert.Equal(t, http.StatusOK, serve(router, senior, "/history").Code)
}

func TestHandlers_ListRecords(t *testing.T) {
	router, store, ledger, permitID := setupHandlers(t)
	admin := rbac.Fixture(t, store, "admin", rbac.RoleAdmin)
	ctx := context.Background()

	for _, action := range []Action{ActionCreated, ActionAssigned, ActionActivated} {
		rec := Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: action, PerformedBy: &admin.ID}
		require.NoError(t, ledger.Append(ctx, ledger.db, &rec))
	}

	w := serve(router, admin, "/history?entity_type=permit&actions=assigned,%20activated")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Records []Record `json:"records"`
		Count   int      `json:"count"`
		Limit   int      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, DefaultLimit, resp.Limit)
	assert.Equal(t, ActionAssigned, resp.Records[0].Action)

	for _, bad := range []string{
		"/history?entity_type=vehicle",
		"/history?entity_id=abc",
		"/history?since=yesterday",
		"/history?limit=ten",
	} {
		assert.Equal(t, http.StatusBadRequest, serve(router, admin, bad).Code, bad)
	}
}

func TestHandlers_Export(t *testing.T) {
	router, store, ledger, permitID := setupHandlers(t)
	admin := rbac.Fixture(t, store, "admin", rbac.RoleAdmin)

	rec := Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionCreated}
	require.NoError(t, ledger.Append(context.Background(), ledger.db, &rec))

	tests := []struct {
		format, contentType, filename string
	}{
		{"", "application/json", "history.json"},
		{"csv", "text/csv", "history.csv"},
		{"ndjson", "application/x-ndjson", "history.ndjson"},
	}
	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			w := serve(router, admin, "/history/export?format="+tt.format)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			assert.True(t, strings.HasSuffix(w.Header().Get("Content-Disposition"), tt.filename))
			assert.NotEmpty(t, w.Body.Bytes())
		})
	}

	assert.Equal(t, http.StatusBadRequest, serve(router, admin, "/history/export?format=xml").Code)
}
