// Package dependencies provides in-process dependency graph analysis for
// formula sets.
//
// # Overview
//
// A DependencyGraph is built from the nodes and edges of a formula set. Edges
// point from a dependent to the dependency it references, so evaluation order
// is the reverse of edge direction: dependencies first.
//
// # Key Features
//
// Cycle Detection: DFS with a recursion stack, reporting the offending chain
// Ordering: DFS post-order for one root, Kahn layering for the whole set
// Longest Paths: one row per reachable (dependent, dependency) pair
// Impact Analysis: every formula affected when a node changes
// Visualization: the positional tree used by front-ends and Cytoscape.js output
//
// # Usage Example
//
//	graph := dependencies.FromSet(set)
//	if cycle, err := graph.DetectCircularDependencies(); err != nil {
//		fmt.Printf("cycle: %s\n", strings.Join(cycle, " -> "))
//	}
//
//	order, err := graph.TopologicalSort("total")
//	// order ends with "total"; every dependency precedes its dependents
//
// # Related Packages
//
//   - pkg/storage: Snapshot answers store queries with this package
//   - pkg/engine: evaluation scheduling
package dependencies
