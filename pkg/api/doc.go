// Package api serves the formula engine over a JSON REST API.
//
// Routes live under /api/v1:
//
//	POST   /formulas                 define or redefine a set, 201 {id}
//	GET    /formulas                 list stored ids
//	GET    /formulas/{id}            the stored set
//	DELETE /formulas/{id}            remove a set, 204
//	POST   /formulas/{id}/run        evaluate with {params}
//	GET    /formulas/{id}/tree       positional node/relation tree
//	GET    /formulas/{id}/cycle      {id, has_cycle}
//	POST   /formulas/calculate       define under a fresh id and evaluate
//
// The graph analysis routes of package dependencies are mounted beside them.
// Errors are written as {error, kind} with the status chosen by
// httputil.StatusForKind.
package api
