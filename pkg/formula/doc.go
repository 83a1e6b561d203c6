// Package formula defines the domain model of formula sets and the parser that
// turns formula text into nodes and dependency edges.
//
// # Overview
//
// A formula set is identified by a formula id and is built from semicolon
// separated statements of the form name=expression. Expressions reference other
// statements with [name]; every distinct reference becomes an edge from the
// defining node (the dependent) to the referenced node (the dependency).
//
//	set, err := formula.Parse("revenue", "a=10;b=20;c=[a]+[b]")
//	if err != nil {
//		var perr *formula.ParseError
//		if errors.As(err, &perr) {
//			log.Printf("statement %d: %s", perr.Index, perr.Kind)
//		}
//	}
//
// Names that are referenced but never defined become Input nodes whose values
// must be supplied when the set is run.
//
// # Errors
//
// The package defines the error taxonomy shared by the engine and stores:
// ParseError, CycleError, NotFoundError, EvaluationError and StoreError. Each
// matches a sentinel with errors.Is.
package formula
