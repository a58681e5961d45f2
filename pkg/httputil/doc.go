// Package httputil holds the JSON plumbing shared by the permit, chalan,
// history, rbac and token handlers.
//
// Every error leaves through one envelope:
//
//	{"error": "permit 42 not found", "status": 404, "request_id": "..."}
//
// Service errors go through WriteDomainError, which picks the status from
// the error's StatusCode method and masks server-side failures:
//
//	permit, err := h.service.Cancel(r.Context(), user, id, req.Reason)
//	if err != nil {
//		httputil.WriteDomainError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, permit)
//
// Request parsing writes the 400 itself and reports whether to continue:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//	var req cancelRequest
//	if !httputil.ParseOptionalJSON(w, r, &req) {
//		return
//	}
//
// The API server wraps its router with
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)
package httputil
