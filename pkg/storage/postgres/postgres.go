package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

const tracerName = "github.com/nauu/lightingbi/pkg/storage/postgres"

// Store implements storage.Store on a relational database. Sets live in three
// tables keyed by formula id; graph queries load the set and answer them
// through storage.Snapshot.
//
// Reads of a set run in one read-only transaction on the primary, so the set
// row, its nodes and its edges come from the same commit and a Replace is
// visible to the very next read. Only List is served by replicas.
type Store struct {
	conn    *ConnectionManager
	metrics *observability.Metrics
	logger  *observability.Logger
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithMetrics records storage operations on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the store logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store on top of an existing connection manager
func New(conn *ConnectionManager, opts ...Option) *Store {
	s := &Store{
		conn:   conn,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database named by cfg (postgres or sqlite) and applies the schema
func Open(ctx context.Context, cfg storage.Config, opts ...Option) (*Store, error) {
	var conn *ConnectionManager
	switch cfg.Type {
	case storage.TypePostgres:
		var err error
		conn, err = NewConnectionManager(ConnectionConfig{
			Driver:      DriverPostgres,
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: cfg.PostgresReplicaURLs,
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
			MaxLifetime: time.Hour,
			MaxIdleTime: 10 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
	case storage.TypeSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		conn = NewConnectionManagerFromDB(DriverSQLite, db)
	default:
		return nil, fmt.Errorf("unsupported sql storage type: %s", cfg.Type)
	}

	s := New(conn, opts...)
	conn.logger = s.logger
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a SQLite database file. ":memory:" gives a private in-memory
// database; the pool is pinned to one connection so it stays alive.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// Conn returns the underlying connection manager
func (s *Store) Conn() *ConnectionManager {
	return s.conn
}

func (s *Store) observe(ctx context.Context, op, formulaID string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, tracerName, "sqlstore."+op,
		attribute.String("db.system", s.conn.Driver()),
		attribute.String("formula.id", formulaID),
	)
	return ctx, func(errp *error) {
		err := *errp
		s.metrics.RecordStorageOp(op, s.conn.Driver(), time.Since(start), err)
		observability.EndSpan(span, err)
	}
}

func storeErr(op, formulaID string, err error) error {
	return &formula.StoreError{Op: op, FormulaID: formulaID, Err: err}
}

// Exists implements storage.SetReader
func (s *Store) Exists(ctx context.Context, formulaID string) (ok bool, err error) {
	ctx, done := s.observe(ctx, "exists", formulaID)
	defer done(&err)

	err = s.conn.Primary().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM formula_sets WHERE formula_id = $1)`, formulaID).Scan(&ok)
	if err != nil {
		return false, storeErr("exists", formulaID, err)
	}
	return ok, nil
}

// Get implements storage.SetReader
func (s *Store) Get(ctx context.Context, formulaID string) (set *formula.Set, err error) {
	ctx, done := s.observe(ctx, "get", formulaID)
	defer done(&err)

	err = s.readTx(ctx, "get", formulaID, func(tx *sql.Tx) error {
		set, err = s.load(ctx, tx, formulaID)
		return err
	})
	return set, err
}

// readOptions returns the transaction options for set reads. Postgres gets a
// repeatable read snapshot; SQLite transactions are serializable already.
func (s *Store) readOptions() *sql.TxOptions {
	if s.conn.Driver() == DriverPostgres {
		return &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}
	return nil
}

// readTx runs fn in a read transaction on the primary and rolls it back
// unless fn succeeds
func (s *Store) readTx(ctx context.Context, op, formulaID string, fn func(*sql.Tx) error) error {
	tx, err := s.conn.Primary().BeginTx(ctx, s.readOptions())
	if err != nil {
		return storeErr(op, formulaID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, formulaID, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) load(ctx context.Context, q querier, formulaID string) (*formula.Set, error) {
	set := &formula.Set{ID: formulaID}
	err := q.QueryRowContext(ctx,
		`SELECT source, output, updated_at FROM formula_sets WHERE formula_id = $1`, formulaID,
	).Scan(&set.Source, &set.Output, &set.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &formula.NotFoundError{FormulaID: formulaID}
	}
	if err != nil {
		return nil, storeErr("get", formulaID, err)
	}

	nodeRows, err := q.QueryContext(ctx,
		`SELECT name, expression, node_type FROM formula_nodes WHERE formula_id = $1 ORDER BY name`, formulaID)
	if err != nil {
		return nil, storeErr("get", formulaID, err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		n := formula.Node{FormulaID: formulaID}
		var nodeType string
		if err := nodeRows.Scan(&n.Name, &n.Expression, &nodeType); err != nil {
			return nil, storeErr("get", formulaID, err)
		}
		n.Type = formula.NodeType(nodeType)
		set.Nodes = append(set.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, storeErr("get", formulaID, err)
	}

	edgeRows, err := q.QueryContext(ctx,
		`SELECT dependent, dependency FROM formula_edges WHERE formula_id = $1 ORDER BY dependent, dependency`, formulaID)
	if err != nil {
		return nil, storeErr("get", formulaID, err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		e := formula.Edge{FormulaID: formulaID}
		if err := edgeRows.Scan(&e.Dependent, &e.Dependency); err != nil {
			return nil, storeErr("get", formulaID, err)
		}
		set.Edges = append(set.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, storeErr("get", formulaID, err)
	}

	set.UpdatedAt = set.UpdatedAt.UTC()
	return set, nil
}

// List implements storage.SetReader
func (s *Store) List(ctx context.Context) (ids []string, err error) {
	ctx, done := s.observe(ctx, "list", "")
	defer done(&err)

	rows, err := s.conn.Replica().QueryContext(ctx, `SELECT formula_id FROM formula_sets ORDER BY formula_id`)
	if err != nil {
		return nil, storeErr("list", "", err)
	}
	defer rows.Close()

	ids = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("list", "", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", "", err)
	}
	return ids, nil
}

// Replace implements storage.SetWriter. The delete and the inserts run in one
// transaction; any failure rolls back and leaves the previous set in place.
func (s *Store) Replace(ctx context.Context, set *formula.Set) (err error) {
	if err := storage.ValidateSet(set); err != nil {
		return fmt.Errorf("invalid formula set: %w", err)
	}

	ctx, done := s.observe(ctx, "replace", set.ID)
	defer done(&err)

	updatedAt := set.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return storeErr("replace", set.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if s.conn.Driver() == DriverPostgres {
		// serialize concurrent replaces of the same id
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, set.ID); err != nil {
			return storeErr("replace", set.ID, err)
		}
	}

	if _, err := deleteSet(ctx, tx, set.ID); err != nil {
		return storeErr("replace", set.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO formula_sets (formula_id, source, output, updated_at) VALUES ($1, $2, $3, $4)`,
		set.ID, set.Source, set.Output, updatedAt.UTC(),
	); err != nil {
		return storeErr("replace", set.ID, fmt.Errorf("failed to insert set: %w", err))
	}

	for _, n := range set.Nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO formula_nodes (formula_id, name, expression, node_type) VALUES ($1, $2, $3, $4)`,
			set.ID, n.Name, n.Expression, string(n.Type),
		); err != nil {
			return storeErr("replace", set.ID, fmt.Errorf("failed to insert node %s: %w", n.Name, err))
		}
	}

	for _, e := range set.Edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO formula_edges (formula_id, dependent, dependency) VALUES ($1, $2, $3)`,
			set.ID, e.Dependent, e.Dependency,
		); err != nil {
			return storeErr("replace", set.ID, fmt.Errorf("failed to insert edge %s->%s: %w", e.Dependent, e.Dependency, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("replace", set.ID, fmt.Errorf("failed to commit: %w", err))
	}

	s.logger.WithFields(map[string]interface{}{
		"formula_id": set.ID,
		"nodes":      len(set.Nodes),
		"edges":      len(set.Edges),
	}).Debug("formula set replaced")
	return nil
}

func deleteSet(ctx context.Context, tx *sql.Tx, formulaID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM formula_edges WHERE formula_id = $1`, formulaID); err != nil {
		return 0, fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM formula_nodes WHERE formula_id = $1`, formulaID); err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM formula_sets WHERE formula_id = $1`, formulaID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete set: %w", err)
	}
	return res.RowsAffected()
}

// Delete implements storage.SetWriter
func (s *Store) Delete(ctx context.Context, formulaID string) (err error) {
	ctx, done := s.observe(ctx, "delete", formulaID)
	defer done(&err)

	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete", formulaID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	removed, err := deleteSet(ctx, tx, formulaID)
	if err != nil {
		return storeErr("delete", formulaID, err)
	}
	if removed == 0 {
		return &formula.NotFoundError{FormulaID: formulaID}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete", formulaID, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// cycleQuery walks the edges of one set with a recursive CTE. Each walk is
// bounded by $2 hops, the node count, which is the longest simple cycle.
const cycleQuery = `
WITH RECURSIVE reach (origin, node, depth) AS (
    SELECT dependent, dependency, 1 FROM formula_edges WHERE formula_id = $1
    UNION
    SELECT r.origin, e.dependency, r.depth + 1
    FROM reach r
    JOIN formula_edges e ON e.formula_id = $1 AND e.dependent = r.node
    WHERE r.depth < $2
)
SELECT EXISTS (SELECT 1 FROM reach WHERE origin = node)`

// HasCycle implements storage.GraphQuerier
func (s *Store) HasCycle(ctx context.Context, formulaID string) (cyclic bool, err error) {
	ctx, done := s.observe(ctx, "has_cycle", formulaID)
	defer done(&err)

	err = s.readTx(ctx, "has_cycle", formulaID, func(tx *sql.Tx) error {
		var nodes int
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM formula_sets WHERE formula_id = $1), (SELECT COUNT(*) FROM formula_nodes WHERE formula_id = $1)`,
			formulaID,
		).Scan(&exists, &nodes)
		if err != nil {
			return storeErr("has_cycle", formulaID, err)
		}
		if !exists {
			return &formula.NotFoundError{FormulaID: formulaID}
		}

		if err := tx.QueryRowContext(ctx, cycleQuery, formulaID, nodes).Scan(&cyclic); err != nil {
			return storeErr("has_cycle", formulaID, err)
		}
		return nil
	})
	return cyclic, err
}

func (s *Store) snapshot(ctx context.Context, formulaID string) (*storage.Snapshot, error) {
	var set *formula.Set
	err := s.readTx(ctx, "get", formulaID, func(tx *sql.Tx) error {
		var err error
		set, err = s.load(ctx, tx, formulaID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return storage.NewSnapshot(set), nil
}

// OrderedSubgraph implements storage.GraphQuerier
func (s *Store) OrderedSubgraph(ctx context.Context, formulaID string) (rows []formula.PathRow, err error) {
	ctx, done := s.observe(ctx, "ordered_subgraph", formulaID)
	defer done(&err)

	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedSubgraph()
}

// DirectEdges implements storage.GraphQuerier
func (s *Store) DirectEdges(ctx context.Context, formulaID string, depth int) (edges []formula.Edge, err error) {
	ctx, done := s.observe(ctx, "direct_edges", formulaID)
	defer done(&err)

	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.DirectEdges(depth), nil
}

// HealthCheck implements storage.HealthChecker
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close closes every pooled connection
func (s *Store) Close() error {
	return s.conn.Close()
}
