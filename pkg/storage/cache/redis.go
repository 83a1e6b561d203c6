package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
)

const (
	setKeyPrefix = "lightingbi:formula:set:"
	genKeyPrefix = "lightingbi:formula:gen:"
)

// RedisClient is the shared L2 tier. Formula sets are stored as JSON documents.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client from the storage config
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClientFromClient(client, config.CacheTTL), nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client, ttl time.Duration) *RedisClient {
	return &RedisClient{client: client, ttl: ttl}
}

// setKey names the entry of one generation of a set. Entries written under an
// older generation are never read again and expire with the TTL.
func setKey(formulaID string, gen int64) string {
	return fmt.Sprintf("%s%s:%d", setKeyPrefix, formulaID, gen)
}

func genKey(formulaID string) string {
	return genKeyPrefix + formulaID
}

// Generation returns the shared generation of a set. An id that was never
// invalidated is at generation 0.
func (c *RedisClient) Generation(ctx context.Context, formulaID string) (int64, error) {
	gen, err := c.client.Get(ctx, genKey(formulaID)).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// GetSet retrieves the entry stored for generation gen. A miss returns (nil, nil).
func (c *RedisClient) GetSet(ctx context.Context, formulaID string, gen int64) (*formula.Set, error) {
	key := setKey(formulaID, gen)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var set formula.Set
	if err := json.Unmarshal(data, &set); err != nil {
		// drop corrupt entries so the next read repopulates them
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal formula set: %w", err)
	}

	return &set, nil
}

// SetSet stores a formula set under generation gen with the configured TTL
func (c *RedisClient) SetSet(ctx context.Context, set *formula.Set, gen int64) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal formula set: %w", err)
	}

	return c.client.Set(ctx, setKey(set.ID, gen), data, c.ttl).Err()
}

// InvalidateSet advances the shared generation of a set and drops the entry of
// the previous one. Every process sharing this Redis sees the new generation
// on its next read. Returns the new generation.
func (c *RedisClient) InvalidateSet(ctx context.Context, formulaID string) (int64, error) {
	gen, err := c.client.Incr(ctx, genKey(formulaID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr generation failed: %w", err)
	}
	if err := c.client.Del(ctx, setKey(formulaID, gen-1)).Err(); err != nil {
		return gen, fmt.Errorf("redis delete failed: %w", err)
	}
	return gen, nil
}

// Client returns the underlying Redis client for health checks
func (c *RedisClient) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
