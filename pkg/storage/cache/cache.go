package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

// Cache tiers used in metrics labels
const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// Config controls the cache decorator
type Config struct {
	Size int           // L1 entries
	TTL  time.Duration // applies to both tiers
}

// DefaultConfig returns a 1024 entry, five minute cache
func DefaultConfig() Config {
	return Config{Size: 1024, TTL: 5 * time.Minute}
}

// Store decorates a storage.Store with an in-process LRU of snapshots and an
// optional Redis tier. Graph queries are answered from the cached snapshot.
// Replace and Delete invalidate both tiers for the id.
//
// With Redis configured every L1 entry is stamped with the shared generation
// of its id and served only while Redis still reports that generation, so a
// write through one process is visible to every other process on its next
// read.
type Store struct {
	inner   storage.Store
	l1      *lru.LRU[string, entry]
	l2      *RedisClient
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger

	// generation is bumped on every local invalidation; loads that started
	// under an older generation do not populate L1
	mu         sync.Mutex
	generation map[string]uint64

	stats stats
}

type entry struct {
	snap   *storage.Snapshot
	shared int64
}

var _ storage.Store = (*Store)(nil)

// Option configures the cache decorator
type Option func(*Store)

// WithRedis enables the L2 tier
func WithRedis(client *RedisClient) Option {
	return func(s *Store) { s.l2 = client }
}

// WithMetrics records hits and misses on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger used for L2 failures
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps inner with the cache
func New(inner storage.Store, config Config, opts ...Option) *Store {
	if config.Size <= 0 {
		config.Size = DefaultConfig().Size
	}

	s := &Store{
		inner:      inner,
		generation: make(map[string]uint64),
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.l1 = lru.NewLRU[string, entry](config.Size, func(string, entry) {
		s.metrics.RecordCacheEviction(TierL1, "evicted")
	}, config.TTL)

	return s
}

func (s *Store) currentGeneration(formulaID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation[formulaID]
}

func (s *Store) invalidate(ctx context.Context, formulaID string) {
	s.mu.Lock()
	s.generation[formulaID]++
	s.l1.Remove(formulaID)
	s.mu.Unlock()

	if s.l2 != nil {
		if _, err := s.l2.InvalidateSet(ctx, formulaID); err != nil {
			s.logger.WithError(err).WithField("formula_id", formulaID).Warn("failed to invalidate redis entry")
		}
	}
}

func (s *Store) remember(formulaID string, gen uint64, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation[formulaID] == gen {
		s.l1.Add(formulaID, e)
	}
}

func (s *Store) hit(tier string) {
	s.stats.record(tier, true)
	s.metrics.RecordCacheHit(tier)
}

func (s *Store) miss(tier string) {
	s.stats.record(tier, false)
	s.metrics.RecordCacheMiss(tier)
}

// sharedGeneration reads the Redis generation of formulaID. Without Redis
// every entry is at generation 0.
func (s *Store) sharedGeneration(ctx context.Context, formulaID string) (int64, error) {
	if s.l2 == nil {
		return 0, nil
	}
	return s.l2.Generation(ctx, formulaID)
}

// snapshot returns the cached snapshot for formulaID, loading it on a miss.
// Concurrent misses for the same id and generation share one load.
func (s *Store) snapshot(ctx context.Context, formulaID string) (*storage.Snapshot, error) {
	shared, err := s.sharedGeneration(ctx, formulaID)
	if err != nil {
		// without the shared generation no cached copy can be trusted
		s.logger.WithError(err).WithField("formula_id", formulaID).Warn("redis generation read failed")
		set, err := s.inner.Get(ctx, formulaID)
		if err != nil {
			return nil, err
		}
		return storage.NewSnapshot(set), nil
	}

	if e, ok := s.l1.Get(formulaID); ok {
		if e.shared == shared {
			s.hit(TierL1)
			return e.snap, nil
		}
		s.l1.Remove(formulaID)
	}
	s.miss(TierL1)

	gen := s.currentGeneration(formulaID)
	key := fmt.Sprintf("%s#%d#%d", formulaID, gen, shared)

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		set, err := s.loadSet(ctx, formulaID, gen, shared)
		if err != nil {
			return nil, err
		}
		snap := storage.NewSnapshot(set)
		s.remember(formulaID, gen, entry{snap: snap, shared: shared})
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Snapshot), nil
}

func (s *Store) loadSet(ctx context.Context, formulaID string, gen uint64, shared int64) (*formula.Set, error) {
	if s.l2 != nil {
		set, err := s.l2.GetSet(ctx, formulaID, shared)
		if err != nil {
			s.logger.WithError(err).WithField("formula_id", formulaID).Warn("redis read failed")
		}
		if set != nil {
			s.hit(TierL2)
			return set, nil
		}
		s.miss(TierL2)
	}

	set, err := s.inner.Get(ctx, formulaID)
	if err != nil {
		return nil, err
	}

	if s.l2 != nil && s.currentGeneration(formulaID) == gen {
		if err := s.l2.SetSet(ctx, set, shared); err != nil {
			s.logger.WithError(err).WithField("formula_id", formulaID).Warn("redis write failed")
		}
	}
	return set, nil
}

// Exists implements storage.SetReader
func (s *Store) Exists(ctx context.Context, formulaID string) (bool, error) {
	// another process may have deleted the id, so L1 only answers without Redis
	if s.l2 == nil && s.l1.Contains(formulaID) {
		return true, nil
	}
	return s.inner.Exists(ctx, formulaID)
}

// Get implements storage.SetReader
func (s *Store) Get(ctx context.Context, formulaID string) (*formula.Set, error) {
	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.Set(), nil
}

// List implements storage.SetReader
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.inner.List(ctx)
}

// Replace implements storage.SetWriter
func (s *Store) Replace(ctx context.Context, set *formula.Set) error {
	if err := s.inner.Replace(ctx, set); err != nil {
		return err
	}
	s.invalidate(ctx, set.ID)
	return nil
}

// Delete implements storage.SetWriter
func (s *Store) Delete(ctx context.Context, formulaID string) error {
	err := s.inner.Delete(ctx, formulaID)
	s.invalidate(ctx, formulaID)
	return err
}

// HasCycle implements storage.GraphQuerier
func (s *Store) HasCycle(ctx context.Context, formulaID string) (bool, error) {
	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return false, err
	}
	return snap.HasCycle(), nil
}

// OrderedSubgraph implements storage.GraphQuerier
func (s *Store) OrderedSubgraph(ctx context.Context, formulaID string) ([]formula.PathRow, error) {
	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedSubgraph()
}

// DirectEdges implements storage.GraphQuerier
func (s *Store) DirectEdges(ctx context.Context, formulaID string, depth int) ([]formula.Edge, error) {
	snap, err := s.snapshot(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.DirectEdges(depth), nil
}

// HealthCheck reports the wrapped store's health. Redis health is reported
// separately since the cache works without it.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.inner.HealthCheck(ctx)
}

// Close purges the cache and closes the wrapped store and Redis client
func (s *Store) Close() error {
	s.l1.Purge()
	err := s.inner.Close()
	if s.l2 != nil {
		if cerr := s.l2.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Stats returns hit and miss counts per tier
func (s *Store) Stats() Stats {
	return Stats{
		L1Hits:   s.stats.l1Hits.Load(),
		L1Misses: s.stats.l1Misses.Load(),
		L2Hits:   s.stats.l2Hits.Load(),
		L2Misses: s.stats.l2Misses.Load(),
		Entries:  s.l1.Len(),
	}
}

// Stats is a point-in-time view of cache effectiveness
type Stats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	Entries  int
}

// HitRate returns L1 hits over L1 lookups
func (s Stats) HitRate() float64 {
	total := s.L1Hits + s.L1Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits) / float64(total)
}

type stats struct {
	l1Hits, l1Misses atomic.Int64
	l2Hits, l2Misses atomic.Int64
}

func (st *stats) record(tier string, hit bool) {
	switch {
	case tier == TierL1 && hit:
		st.l1Hits.Add(1)
	case tier == TierL1:
		st.l1Misses.Add(1)
	case hit:
		st.l2Hits.Add(1)
	default:
		st.l2Misses.Add(1)
	}
}
