// Package graphdb stores formula sets in Neo4j.
//
// Every node of a set becomes a (:Formula) vertex carrying formula_id, name,
// formula and node_type; each [name] reference becomes a [:relation] from the
// dependent to the dependency. A (:FormulaSet) vertex per id keeps the source
// text and designated output. Replace runs in one managed write transaction.
//
// Graph queries load the set's vertices and single-hop relations in one read
// transaction and answer through storage.Snapshot. Variable-length Cypher
// patterns enumerate every path, which grows exponentially on stacked
// diamonds, so none are used.
package graphdb
