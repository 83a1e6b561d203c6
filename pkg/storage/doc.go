// Package storage provides pluggable persistence backends for formula sets.
//
// # Overview
//
// This package defines the dependency graph store contract used by the engine
// and the backends that live in process. Networked backends live in
// subpackages and implement the same Store interface.
//
// # Architecture
//
// The storage layer uses interface segregation to compose focused capabilities:
//
//   - SetReader: Exists, Get, List
//   - SetWriter: Replace (atomic per formula id), Delete
//   - GraphQuerier: HasCycle, OrderedSubgraph, DirectEdges
//   - HealthChecker: HealthCheck
//
// Store composes all of them plus io.Closer.
//
// # Implementations
//
//   - MemoryStore: immutable snapshots swapped under a lock (default)
//   - FileSystemStorage: one JSON document per formula id, replaced by rename
//   - postgres.Store: PostgreSQL or SQLite, one transaction per Replace
//   - graphdb.Neo4jStore: Neo4j, Cypher path queries
//   - cache.Store: LRU and Redis read-through decorator over any Store
//
// archive.Archive is not a Store. It keeps the source text of every saved
// formula in S3 for audit.
//
// Stores that persist plain rows answer graph queries through Snapshot, which
// runs the algorithms from pkg/dependencies over one loaded set.
//
// # Usage Example
//
//	store := storage.NewMemoryStore()
//	set, _ := formula.Parse("revenue", "a=10;b=20;c=[a]+[b]")
//	if err := store.Replace(ctx, set); err != nil {
//		return err
//	}
//	rows, err := store.OrderedSubgraph(ctx, "revenue")
//
// # Related Packages
//
//   - pkg/formula: Domain types and error taxonomy
//   - pkg/dependencies: Graph algorithms
//   - pkg/engine: Consumer of the Store contract
package storage
