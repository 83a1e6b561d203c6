package graphdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

const (
	tracerName = "github.com/nauu/lightingbi/pkg/storage/graphdb"
	backend    = "neo4j"
)

// Neo4jStore implements storage.Store on Neo4j. Each formula node is a
// (:Formula) vertex and each reference a [:relation] from dependent to
// dependency; (:FormulaSet) holds the source text and output.
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	database  string
	fetchSize int
	metrics   *observability.Metrics
	logger    *observability.Logger
}

var _ storage.Store = (*Neo4jStore)(nil)

// Option configures a Neo4jStore
type Option func(*Neo4jStore)

// WithMetrics records storage operations on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Neo4jStore) { s.metrics = m }
}

// WithLogger sets the store logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Neo4jStore) { s.logger = l }
}

// New wraps an existing driver
func New(driver neo4j.DriverWithContext, database string, fetchSize int, opts ...Option) *Neo4jStore {
	s := &Neo4jStore{
		driver:    driver,
		database:  database,
		fetchSize: fetchSize,
		logger:    observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the server named by cfg and creates the lookup indexes
func Open(ctx context.Context, cfg storage.Config, opts ...Option) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURL,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		func(c *config.Config) {
			if cfg.Neo4jMaxConns > 0 {
				c.MaxConnectionPoolSize = cfg.Neo4jMaxConns
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	s := New(driver, cfg.Neo4jDatabase, cfg.Neo4jFetchSize, opts...)
	if err := s.EnsureIndexes(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes used by every query
func (s *Neo4jStore) EnsureIndexes(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, q := range indexQueries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
		FetchSize:    s.fetchSize,
	})
}

func (s *Neo4jStore) observe(ctx context.Context, op, formulaID string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, tracerName, "neo4j."+op,
		attribute.String("db.system", backend),
		attribute.String("formula.id", formulaID),
	)
	return ctx, func(errp *error) {
		err := *errp
		s.metrics.RecordStorageOp(op, backend, time.Since(start), err)
		observability.EndSpan(span, err)
	}
}

func storeErr(op, formulaID string, err error) error {
	return &formula.StoreError{Op: op, FormulaID: formulaID, Err: err}
}

func (s *Neo4jStore) read(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, fn)
}

func (s *Neo4jStore) write(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

// Exists implements storage.SetReader
func (s *Neo4jStore) Exists(ctx context.Context, formulaID string) (ok bool, err error) {
	ctx, done := s.observe(ctx, "exists", formulaID)
	defer done(&err)

	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return setExists(ctx, tx, formulaID)
	})
	if err != nil {
		return false, storeErr("exists", formulaID, err)
	}
	return res.(bool), nil
}

func setExists(ctx context.Context, tx neo4j.ManagedTransaction, formulaID string) (bool, error) {
	result, err := tx.Run(ctx, existsQuery, map[string]any{"formula_id": formulaID})
	if err != nil {
		return false, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, err
	}
	return recordBool(record, "exists"), nil
}

// Get implements storage.SetReader
func (s *Neo4jStore) Get(ctx context.Context, formulaID string) (set *formula.Set, err error) {
	ctx, done := s.observe(ctx, "get", formulaID)
	defer done(&err)

	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return loadSet(ctx, tx, formulaID)
	})
	if err != nil {
		return nil, wrapErr("get", formulaID, err)
	}
	return res.(*formula.Set), nil
}

func loadSet(ctx context.Context, tx neo4j.ManagedTransaction, formulaID string) (*formula.Set, error) {
	params := map[string]any{"formula_id": formulaID}

	result, err := tx.Run(ctx, getSetQuery, params)
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, err
		}
		return nil, &formula.NotFoundError{FormulaID: formulaID}
	}
	set := setFromRecord(formulaID, result.Record())

	result, err = tx.Run(ctx, getNodesQuery, params)
	if err != nil {
		return nil, err
	}
	for result.Next(ctx) {
		set.Nodes = append(set.Nodes, nodeFromRecord(formulaID, result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	result, err = tx.Run(ctx, getEdgesQuery, params)
	if err != nil {
		return nil, err
	}
	set.Edges = make([]formula.Edge, 0)
	for result.Next(ctx) {
		set.Edges = append(set.Edges, edgeFromRecord(formulaID, result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// snapshot loads the set in one read transaction for the graph queries
func (s *Neo4jStore) snapshot(ctx context.Context, op, formulaID string) (*storage.Snapshot, error) {
	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return loadSet(ctx, tx, formulaID)
	})
	if err != nil {
		return nil, wrapErr(op, formulaID, err)
	}
	return storage.NewSnapshot(res.(*formula.Set)), nil
}

// List implements storage.SetReader
func (s *Neo4jStore) List(ctx context.Context) (ids []string, err error) {
	ctx, done := s.observe(ctx, "list", "")
	defer done(&err)

	res, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, listQuery, nil)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0)
		for result.Next(ctx) {
			ids = append(ids, recordString(result.Record(), "formula_id"))
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, storeErr("list", "", err)
	}
	return res.([]string), nil
}

// Replace implements storage.SetWriter. The old vertices are detached and
// the new ones created inside one managed write transaction.
func (s *Neo4jStore) Replace(ctx context.Context, set *formula.Set) (err error) {
	if err := storage.ValidateSet(set); err != nil {
		return fmt.Errorf("invalid formula set: %w", err)
	}

	ctx, done := s.observe(ctx, "replace", set.ID)
	defer done(&err)

	params := replaceParams(set)
	_, err = s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{deleteNodesQuery, upsertSetQuery, createNodesQuery, createEdgesQuery} {
			result, err := tx.Run(ctx, q, params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return storeErr("replace", set.ID, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"formula_id": set.ID,
		"nodes":      len(set.Nodes),
		"edges":      len(set.Edges),
	}).Debug("formula set replaced")
	return nil
}

// Delete implements storage.SetWriter
func (s *Neo4jStore) Delete(ctx context.Context, formulaID string) (err error) {
	ctx, done := s.observe(ctx, "delete", formulaID)
	defer done(&err)

	_, err = s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := setExists(ctx, tx, formulaID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &formula.NotFoundError{FormulaID: formulaID}
		}
		params := map[string]any{"formula_id": formulaID}
		for _, q := range []string{deleteNodesQuery, deleteSetQuery} {
			if _, err := tx.Run(ctx, q, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return wrapErr("delete", formulaID, err)
	}
	return nil
}

// HasCycle implements storage.GraphQuerier
func (s *Neo4jStore) HasCycle(ctx context.Context, formulaID string) (cyclic bool, err error) {
	ctx, done := s.observe(ctx, "has_cycle", formulaID)
	defer done(&err)

	snap, err := s.snapshot(ctx, "has_cycle", formulaID)
	if err != nil {
		return false, err
	}
	return snap.HasCycle(), nil
}

// OrderedSubgraph implements storage.GraphQuerier
func (s *Neo4jStore) OrderedSubgraph(ctx context.Context, formulaID string) (rows []formula.PathRow, err error) {
	ctx, done := s.observe(ctx, "ordered_subgraph", formulaID)
	defer done(&err)

	snap, err := s.snapshot(ctx, "ordered_subgraph", formulaID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedSubgraph()
}

// DirectEdges implements storage.GraphQuerier
func (s *Neo4jStore) DirectEdges(ctx context.Context, formulaID string, depth int) (edges []formula.Edge, err error) {
	ctx, done := s.observe(ctx, "direct_edges", formulaID)
	defer done(&err)

	snap, err := s.snapshot(ctx, "direct_edges", formulaID)
	if err != nil {
		return nil, err
	}
	return snap.DirectEdges(depth), nil
}

// HealthCheck implements storage.HealthChecker
func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Close closes the driver
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}
