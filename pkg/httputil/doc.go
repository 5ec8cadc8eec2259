// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Every error response has the shape
//
//	{"error": "integration not found", "code": "NOT_FOUND"}
//
// with an optional "details" object. Handlers return typed errors from
// pkg/apierrors and write them with WriteAPIError:
//
//	integration, err := h.service.Get(r.Context(), id)
//	if err != nil {
//		httputil.WriteAPIError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, integration)
//
// The middleware in this package assigns request ids, attaches a
// request-scoped logger to the context, recovers panics, and applies CORS.
package httputil
