// Package httputil keeps the HTTP surface uniform: one JSON error envelope,
// body and query parsing helpers, and the middleware shared by every route.
//
// # Responses
//
// Handlers write through the Write helpers so every error has the same
// shape:
//
//	httputil.WriteSuccess(w, payment)
//	httputil.WriteValidationError(w, "invoice_id is required")
//	httputil.WriteConflict(w, err.Error())
//
// # Request parsing
//
//	var req confirmRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	limit, err := httputil.ParseQueryInt(r, "limit", 100)
//	since, err := httputil.ParseQueryTime(r, "start_time")
//
// # Middleware
//
// Recovery turns handler panics into 500s, MaxBytes caps request bodies
// (webhook payloads in particular):
//
//	router.Use(httputil.Recovery)
//	router.Handle(path, httputil.MaxBytes(1<<20)(handler))
package httputil
