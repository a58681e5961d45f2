package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) StatusCode() int { return e.status }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"coded", &statusErr{http.StatusConflict, "taken"}, http.StatusConflict},
		{"wrapped coded", fmt.Errorf("renew: %w", &statusErr{http.StatusNotFound, "missing"}), http.StatusNotFound},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	t.Run("client error keeps message", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/permits/9", nil)

		WriteDomainError(w, r, &statusErr{http.StatusNotFound, "permit 9 not found"})

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error": "permit 9 not found", "status": 404}`, w.Body.String())
	})

	t.Run("server error is masked and logged", func(t *testing.T) {
		var logs bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &logs)
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/chalans", nil)
		r = r.WithContext(observability.WithLogger(r.Context(), logger))

		WriteDomainError(w, r, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
		assert.Contains(t, logs.String(), "connection refused")
		assert.Contains(t, logs.String(), "/chalans")
	})
}
