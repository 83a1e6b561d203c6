// Package postgres stores formula sets in a relational database.
//
// The same Store runs on PostgreSQL (lib/pq) and SQLite (go-sqlite3). Each set
// occupies one row in formula_sets plus its rows in formula_nodes and
// formula_edges. Replace swaps them inside a single transaction, so a failed
// save never leaves a partial graph behind. Cycle checks run as a recursive
// CTE in the database; longest-path and depth queries load the set and use
// storage.Snapshot.
//
// Reads go to a round-robin replica when ConnectionManager has any.
package postgres
