// Package engine is the formula engine façade.
//
// An Engine parses formula text, stores the resulting node and edge set, and
// evaluates it:
//
//	eng := engine.New(storage.NewMemoryStore())
//	h := eng.Form("revenue").Vals("a=10").Vals("b=20").Vals("c=[a]+[b]")
//	if err := h.Save(ctx); err != nil {
//		return err
//	}
//	value, err := h.Run(ctx, nil) // "30"
//
// Every run first asks the CycleDetector to reject cyclic sets, then the
// Scheduler picks the root, orders its dependency closure and evaluates each
// node with pkg/expr.
package engine
