// Package config loads application configuration from the environment.
//
// An optional dotenv file (.env, or the path in LIGHTINGBI_ENV_FILE) is read
// first. Variables already present in the environment take precedence.
//
// Server settings:
//
//	LIGHTINGBI_HOST="0.0.0.0"
//	LIGHTINGBI_PORT="8080"
//	LIGHTINGBI_HEALTH_PORT="9090"
//	LIGHTINGBI_REQUEST_TIMEOUT="10s"
//	LIGHTINGBI_CORS_ORIGINS="https://bi.example.com,https://admin.example.com"
//
// Storage settings:
//
//	LIGHTINGBI_STORAGE_TYPE="postgres"  # memory, filesystem, postgres, sqlite, neo4j
//	LIGHTINGBI_POSTGRES_URL="postgres://localhost/lightingbi?sslmode=disable"
//	LIGHTINGBI_SQLITE_PATH="lightingbi.db"
//	LIGHTINGBI_NEO4J_URL="neo4j://localhost:7687"
//	LIGHTINGBI_S3_BUCKET="formula-sources"  # enables the source archive
//
// Cache settings:
//
//	LIGHTINGBI_CACHE_ENABLED="true"
//	LIGHTINGBI_L1_CACHE_SIZE="1024"
//	LIGHTINGBI_REDIS_URL="redis://localhost:6379/0"
//
// Observability, jobs and loader:
//
//	LIGHTINGBI_LOG_LEVEL="info"  # debug, info, warn, error
//	LIGHTINGBI_OTEL_ENABLED="true"
//	LIGHTINGBI_AUDIT_SCHEDULE="@every 10m"
//	LIGHTINGBI_FORMULA_DIR="/etc/lightingbi/formulas"
package config
