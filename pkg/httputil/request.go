package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSONOrError decodes the request body into dest. On failure it writes
// the error response and returns false. An empty body is an error.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	return decodeBody(w, r, dest, false)
}

// ParseOptionalJSON is ParseJSONOrError for actions whose body only carries
// optional notes or reasons: an empty body leaves dest untouched.
func ParseOptionalJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	return decodeBody(w, r, dest, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dest)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		if optional {
			return true
		}
		WriteBadRequest(w, "request body is required")
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	default:
		WriteBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
	}
	return false
}

// ParsePathInt64OrError reads a numeric route variable such as a permit or
// chalan id
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := mux.Vars(r)[key]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteBadRequest(w, fmt.Sprintf("invalid %s: %q", key, raw))
		return 0, false
	}
	return id, true
}

// ParsePathStringOrError reads a required route variable such as a feature
// code or vehicle type
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		WriteBadRequest(w, fmt.Sprintf("missing %s", key))
		return "", false
	}
	return raw, true
}

// ParseQueryString returns the query value or def when absent
func ParseQueryString(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}

// ParseQueryInt parses a non-negative paging value such as limit or offset
func ParseQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	return v, nil
}

// ParseQueryBool parses filter switches such as unassigned=true
func ParseQueryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, raw)
	}
	return v, nil
}

// RequireNonEmpty writes a 400 naming field when value is blank
func RequireNonEmpty(w http.ResponseWriter, value, field string) bool {
	if value == "" {
		WriteBadRequest(w, fmt.Sprintf("%s is required", field))
		return false
	}
	return true
}
