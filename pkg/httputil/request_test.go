package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		optional bool
		wantOK   bool
		wantCode int
		wantMsg  string
	}{
		{"valid", `{"notes": "checked"}`, false, true, 0, ""},
		{"empty required", "", false, false, http.StatusBadRequest, "request body is required"},
		{"empty optional", "", true, true, 0, ""},
		{"malformed", `{"notes":`, true, false, http.StatusBadRequest, "invalid JSON"},
		{"wrong type", `{"notes": 5}`, false, false, http.StatusBadRequest, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("POST", "/permits/1/cancel", strings.NewReader(tt.body))

			var req notesRequest
			var ok bool
			if tt.optional {
				ok = ParseOptionalJSON(w, r, &req)
			} else {
				ok = ParseJSONOrError(w, r, &req)
			}

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, decodeErrorBody(t, w).Error, tt.wantMsg)
		})
	}
}

func TestParseJSONOrError_TooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/chalans", strings.NewReader(`{"notes": "`+strings.Repeat("x", 64)+`"}`))
	r.Body = http.MaxBytesReader(w, r.Body, 16)

	var req notesRequest
	assert.False(t, ParseJSONOrError(w, r, &req))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestParsePathParams(t *testing.T) {
	router := mux.NewRouter()
	var gotID int64
	var gotCode string
	router.HandleFunc("/permits/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := ParsePathInt64OrError(w, r, "id")
		if ok {
			gotID = id
			WriteNoContent(w)
		}
	})
	router.HandleFunc("/features/{code}", func(w http.ResponseWriter, r *http.Request) {
		if code, ok := ParsePathStringOrError(w, r, "code"); ok {
			gotCode = code
			WriteNoContent(w)
		}
	})

	tests := []struct {
		path string
		want int
	}{
		{"/permits/42", http.StatusNoContent},
		{"/permits/abc", http.StatusBadRequest},
		{"/permits/0", http.StatusBadRequest},
		{"/permits/99999999999999999999", http.StatusBadRequest},
		{"/features/permit_view", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, int64(42), gotID)
	assert.Equal(t, "permit_view", gotCode)

	w := httptest.NewRecorder()
	ParsePathStringOrError(w, httptest.NewRequest("GET", "/", nil), "code")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/permits?limit=20&offset=-1&unassigned=yes&status=active&page=x", nil)

	assert.Equal(t, "active", ParseQueryString(r, "status", ""))
	assert.Equal(t, "all", ParseQueryString(r, "scope", "all"))

	limit, err := ParseQueryInt(r, "limit", 50)
	assert.NoError(t, err)
	assert.Equal(t, 20, limit)

	def, err := ParseQueryInt(r, "missing", 50)
	assert.NoError(t, err)
	assert.Equal(t, 50, def)

	_, err = ParseQueryInt(r, "offset", 0)
	assert.ErrorContains(t, err, "offset")
	_, err = ParseQueryInt(r, "page", 0)
	assert.Error(t, err)

	_, err = ParseQueryBool(r, "unassigned", false)
	assert.ErrorContains(t, err, "unassigned")
	flag, err := ParseQueryBool(httptest.NewRequest("GET", "/permits?unassigned=true", nil), "unassigned", false)
	assert.NoError(t, err)
	assert.True(t, flag)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "junior_clerk", "role"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "role"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "role is required", decodeErrorBody(t, w).Error)
}
