// Package httputil provides HTTP helpers shared by the API handlers.
//
// # Responses
//
// Every error body has the shape {"error": "...", "kind": "..."}. WriteError
// derives both the kind and the status from the formula error taxonomy:
//
//	ParseError       400
//	NotFoundError    404
//	CycleError       409
//	EvaluationError  422
//	StoreError       503
//	anything else    500
//
// # Requests
//
//	var req CreateFormulaRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// Struct fields are checked with go-playground/validator `validate` tags.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.TimeoutMiddleware(30*time.Second),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
