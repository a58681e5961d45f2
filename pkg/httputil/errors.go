package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// StatusCoder is implemented by domain errors that know their HTTP status
type StatusCoder interface {
	StatusCode() int
}

// StatusFor returns the HTTP status for err: the status of the first error
// in the chain that implements StatusCoder, 504 for an expired deadline,
// 500 otherwise
func StatusFor(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteDomainError translates err into a JSON error response. Server-side
// failures are logged and answered with a generic message.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
