package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
	"github.com/nauu/lightingbi/pkg/storage/cache"
	"github.com/nauu/lightingbi/pkg/storage/graphdb"
	"github.com/nauu/lightingbi/pkg/storage/postgres"
)

// backend is the store handed to the engine plus the pieces main needs for
// health checks and pool statistics
type backend struct {
	store storage.Store
	sql   *postgres.Store
	redis *cache.RedisClient
}

// Close closes the store; the cache decorator closes the Redis client with it
func (b *backend) Close() error {
	return b.store.Close()
}

func openBackend(ctx context.Context, cfg storage.Config, metrics *observability.Metrics, logger *observability.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Type {
	case storage.TypeMemory, "":
		b.store = storage.NewMemoryStore()
	case storage.TypeFilesystem:
		fs, err := storage.NewFileSystemStorage(cfg.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		b.store = fs
	case storage.TypePostgres, storage.TypeSQLite:
		s, err := postgres.Open(ctx, cfg, postgres.WithMetrics(metrics), postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.sql = s
		b.store = s
	case storage.TypeNeo4j:
		s, err := graphdb.Open(ctx, cfg, graphdb.WithMetrics(metrics), graphdb.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store = s
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	logger.Infof("Storage initialized: %s", storageLabel(cfg.Type))

	if !cfg.CacheEnabled {
		return b, nil
	}

	opts := []cache.Option{cache.WithMetrics(metrics), cache.WithLogger(logger)}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg)
		if err != nil {
			b.store.Close()
			return nil, err
		}
		b.redis = client
		opts = append(opts, cache.WithRedis(client))
	}
	b.store = cache.New(b.store, cache.Config{Size: cfg.L1CacheSize, TTL: cfg.CacheTTL}, opts...)
	logger.WithField("redis", b.redis != nil).Info("Formula cache enabled")
	return b, nil
}

// collectPoolStats copies SQL pool statistics into the metrics until ctx is done
func (b *backend) collectPoolStats(ctx context.Context, metrics *observability.Metrics, interval time.Duration) {
	if b.sql == nil || metrics == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(b.sql.Conn().Stats().Primary)
		}
	}
}

func storageLabel(t string) string {
	if t == "" {
		return storage.TypeMemory
	}
	return t
}
