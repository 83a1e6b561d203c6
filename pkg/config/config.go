package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

// EnvFileVar names the dotenv file read before the environment. It defaults to .env.
const EnvFileVar = "LIGHTINGBI_ENV_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Background jobs
	Jobs JobsConfig

	// Formula file loader
	Loader LoaderConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// JobsConfig controls the periodic cycle audit
type JobsConfig struct {
	AuditEnabled  bool
	AuditSchedule string // standard cron expression or descriptor such as "@every 10m"
}

// LoaderConfig controls loading formula sets from YAML files
type LoaderConfig struct {
	Dir   string
	Watch bool
}

// LoadConfig loads configuration from an optional dotenv file and the environment
func LoadConfig() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Jobs:          loadJobsConfig(),
		Loader:        loadLoaderConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile reads the dotenv file into the process environment. Variables
// already set win. A missing file is not an error.
func loadEnvFile() error {
	path := getEnv(EnvFileVar, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LIGHTINGBI_HOST", "0.0.0.0"),
		Port:            getEnv("LIGHTINGBI_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LIGHTINGBI_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LIGHTINGBI_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LIGHTINGBI_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LIGHTINGBI_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("LIGHTINGBI_REQUEST_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    getEnvInt64("LIGHTINGBI_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("LIGHTINGBI_CORS_ORIGINS"),
		HealthPort:      getEnv("LIGHTINGBI_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("LIGHTINGBI_STORAGE_TYPE", cfg.Type)
	cfg.FilesystemRoot = getEnv("LIGHTINGBI_FILESYSTEM_ROOT", cfg.FilesystemRoot)
	cfg.SQLitePath = getEnv("LIGHTINGBI_SQLITE_PATH", cfg.SQLitePath)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("LIGHTINGBI_POSTGRES_URL", cfg.PostgresURL)
	if replicas := getEnvList("LIGHTINGBI_POSTGRES_REPLICA_URLS"); len(replicas) > 0 {
		cfg.PostgresReplicaURLs = replicas
	}
	if maxConns := getEnvInt("LIGHTINGBI_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("LIGHTINGBI_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("LIGHTINGBI_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Neo4j config
	cfg.Neo4jURL = getEnv("LIGHTINGBI_NEO4J_URL", cfg.Neo4jURL)
	cfg.Neo4jUser = getEnv("LIGHTINGBI_NEO4J_USER", cfg.Neo4jUser)
	cfg.Neo4jPassword = getEnv("LIGHTINGBI_NEO4J_PASSWORD", cfg.Neo4jPassword)
	cfg.Neo4jDatabase = getEnv("LIGHTINGBI_NEO4J_DATABASE", cfg.Neo4jDatabase)
	if fetch := getEnvInt("LIGHTINGBI_NEO4J_FETCH_SIZE", 0); fetch > 0 {
		cfg.Neo4jFetchSize = fetch
	}
	if maxConns := getEnvInt("LIGHTINGBI_NEO4J_MAX_CONNS", 0); maxConns > 0 {
		cfg.Neo4jMaxConns = maxConns
	}

	// S3 source archive
	cfg.S3Endpoint = getEnv("LIGHTINGBI_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("LIGHTINGBI_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("LIGHTINGBI_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("LIGHTINGBI_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("LIGHTINGBI_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3ForcePathStyle = getEnvBool("LIGHTINGBI_S3_FORCE_PATH_STYLE", cfg.S3ForcePathStyle)

	// Redis config
	cfg.RedisURL = getEnv("LIGHTINGBI_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("LIGHTINGBI_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("LIGHTINGBI_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("LIGHTINGBI_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("LIGHTINGBI_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("LIGHTINGBI_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = getEnvDuration("LIGHTINGBI_CACHE_TTL", cfg.CacheTTL)
	if l1CacheSize := getEnvInt("LIGHTINGBI_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LIGHTINGBI_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LIGHTINGBI_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LIGHTINGBI_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LIGHTINGBI_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LIGHTINGBI_OTEL_SERVICE_NAME", "lightingbi"),
		OTelServiceVersion: getEnv("LIGHTINGBI_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LIGHTINGBI_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("LIGHTINGBI_OTEL_SAMPLE_RATIO", 1),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		AuditEnabled:  getEnvBool("LIGHTINGBI_AUDIT_ENABLED", true),
		AuditSchedule: getEnv("LIGHTINGBI_AUDIT_SCHEDULE", "@every 10m"),
	}
}

func loadLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Dir:   getEnv("LIGHTINGBI_FORMULA_DIR", ""),
		Watch: getEnvBool("LIGHTINGBI_FORMULA_WATCH", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if err := validateStorage(c.Storage); err != nil {
		return err
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	if c.Jobs.AuditEnabled {
		if _, err := cron.ParseStandard(c.Jobs.AuditSchedule); err != nil {
			return fmt.Errorf("invalid audit schedule %q: %w", c.Jobs.AuditSchedule, err)
		}
	}

	return nil
}

func validateStorage(s storage.Config) error {
	switch s.Type {
	case storage.TypeMemory:
	case storage.TypeFilesystem:
		if s.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case storage.TypePostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case storage.TypeSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case storage.TypeNeo4j:
		if s.Neo4jURL == "" {
			return fmt.Errorf("neo4j URL is required for neo4j storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, postgres, sqlite, or neo4j)", s.Type)
	}

	if s.CacheEnabled {
		if s.L1CacheSize <= 0 {
			return fmt.Errorf("L1 cache size must be positive when the cache is enabled")
		}
		if s.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when the cache is enabled")
		}
	}

	if s.S3Bucket != "" && (s.S3AccessKey == "") != (s.S3SecretKey == "") {
		return fmt.Errorf("S3 access key and secret key must be set together")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
