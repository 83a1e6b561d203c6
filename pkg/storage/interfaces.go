package storage

import (
	"context"
	"io"
	"time"

	"github.com/nauu/lightingbi/pkg/formula"
)

// SetReader provides read access to stored formula sets
type SetReader interface {
	Exists(ctx context.Context, formulaID string) (bool, error)
	// Get returns a *formula.NotFoundError for unknown ids
	Get(ctx context.Context, formulaID string) (*formula.Set, error)
	// List returns every stored formula id in sorted order
	List(ctx context.Context) ([]string, error)
}

// SetWriter replaces and removes formula sets
type SetWriter interface {
	// Replace atomically swaps the node and edge set stored under set.ID.
	// On failure the previous definition is left untouched.
	Replace(ctx context.Context, set *formula.Set) error
	Delete(ctx context.Context, formulaID string) error
}

// GraphQuerier answers dependency queries scoped to one formula id. Unknown ids
// yield a *formula.NotFoundError.
type GraphQuerier interface {
	HasCycle(ctx context.Context, formulaID string) (bool, error)
	// OrderedSubgraph returns one row per reachable (dependent, dependency) pair
	// with the longest path length, sorted by length descending.
	OrderedSubgraph(ctx context.Context, formulaID string) ([]formula.PathRow, error)
	// DirectEdges returns edges reachable within depth hops; depth <= 1 means immediate edges.
	DirectEdges(ctx context.Context, formulaID string, depth int) ([]formula.Edge, error)
}

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Store is the dependency graph store contract used by the engine
type Store interface {
	SetReader
	SetWriter
	GraphQuerier
	HealthChecker
	io.Closer
}

// Storage backend types
const (
	TypeMemory     = "memory"
	TypeFilesystem = "filesystem"
	TypePostgres   = "postgres"
	TypeSQLite     = "sqlite"
	TypeNeo4j      = "neo4j"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "filesystem", "postgres", "sqlite", "neo4j"

	// Filesystem config
	FilesystemRoot string

	// SQLite config
	SQLitePath string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Neo4j config
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPassword  string
	Neo4jDatabase  string
	Neo4jFetchSize int
	Neo4jMaxConns  int

	// S3 source archive config
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int // entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		FilesystemRoot:   "/tmp/lightingbi",
		SQLitePath:       "lightingbi.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		Neo4jDatabase:    "neo4j",
		Neo4jFetchSize:   200,
		Neo4jMaxConns:    16,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     false,
		CacheTTL:         5 * time.Minute,
		L1CacheSize:      1024,
	}
}
