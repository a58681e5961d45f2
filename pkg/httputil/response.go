package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the envelope of every error response. RequestID echoes the
// X-Request-ID header when RequestIDMiddleware ran.
type ErrorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes data as JSON with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes data with 200
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a newly created permit, chalan or token with 201
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent answers deletes and revocations
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{
		Error:     message,
		Status:    status,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteBadRequest rejects malformed input before it reaches a service
func WriteBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized answers a missing or unusable API token
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="permitdesk"`)
	writeError(w, http.StatusUnauthorized, message)
}

// WriteForbidden answers an authenticated caller the route guard rejected
func WriteForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message)
}

// WriteNotFoundError answers unknown routes
func WriteNotFoundError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, message)
}

// WriteTooManyRequests answers a caller over its rate limit
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	writeError(w, http.StatusTooManyRequests, message)
}

// WriteServiceUnavailable answers when the rate limit backend is down and
// the limiter fails closed
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, message)
}
