package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
	"github.com/nauu/lightingbi/pkg/storage/cache"
	"github.com/nauu/lightingbi/pkg/storage/storagetest"
)

// countingStore counts Get calls. When release is set, each Get reads the
// set and then blocks until release is closed.
type countingStore struct {
	storage.Store
	gets    atomic.Int32
	release chan struct{}
}

func (c *countingStore) Get(ctx context.Context, id string) (*formula.Set, error) {
	c.gets.Add(1)
	set, err := c.Store.Get(ctx, id)
	if c.release != nil {
		<-c.release
	}
	return set, err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, cache.NewRedisClientFromClient(client, time.Minute)
}

func TestCachedStore_ContractL1Only(t *testing.T) {
	storagetest.RunContract(t, func(t *testing.T) storage.Store {
		return cache.New(storage.NewMemoryStore(), cache.DefaultConfig())
	})
}

func TestCachedStore_ContractWithRedis(t *testing.T) {
	storagetest.RunContract(t, func(t *testing.T) storage.Store {
		_, l2 := newRedis(t)
		s := cache.New(storage.NewMemoryStore(), cache.DefaultConfig(), cache.WithRedis(l2))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCachedStore_HitsAfterFirstLoad(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: storage.NewMemoryStore()}
	s := cache.New(inner, cache.DefaultConfig())

	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=1;b=[a]")))

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "f1")
		require.NoError(t, err)
	}
	_, err := s.OrderedSubgraph(ctx, "f1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.gets.Load())
	stats := s.Stats()
	assert.Equal(t, int64(3), stats.L1Hits)
	assert.Equal(t, int64(1), stats.L1Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.75, stats.HitRate(), 1e-9)
}

func TestCachedStore_ReplaceInvalidates(t *testing.T) {
	ctx := context.Background()
	_, l2 := newRedis(t)
	s := cache.New(storage.NewMemoryStore(), cache.DefaultConfig(), cache.WithRedis(l2))

	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=1;b=[a]")))
	cyclic, err := s.HasCycle(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, cyclic)

	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=[b];b=[a]")))
	cyclic, err = s.HasCycle(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, cyclic)

	require.NoError(t, s.Delete(ctx, "f1"))
	_, err = s.Get(ctx, "f1")
	assert.True(t, errors.Is(err, formula.ErrNotFound))
}

func TestCachedStore_SharedRedisTier(t *testing.T) {
	ctx := context.Background()
	_, l2 := newRedis(t)
	inner := &countingStore{Store: storage.NewMemoryStore()}

	first := cache.New(inner, cache.DefaultConfig(), cache.WithRedis(l2))
	second := cache.New(inner, cache.DefaultConfig(), cache.WithRedis(l2))

	require.NoError(t, first.Replace(ctx, storagetest.MustParse(t, "f1", "a=10;b=[a]*2")))

	_, err := first.Get(ctx, "f1")
	require.NoError(t, err)
	got, err := second.Get(ctx, "f1")
	require.NoError(t, err)

	assert.Equal(t, "a=10;b=[a]*2", got.Source)
	assert.Equal(t, int32(1), inner.gets.Load())
	assert.Equal(t, int64(1), second.Stats().L2Hits)
}

func TestCachedStore_RedefinitionSeenAcrossInstances(t *testing.T) {
	ctx := context.Background()
	_, l2 := newRedis(t)
	inner := storage.NewMemoryStore()

	first := cache.New(inner, cache.DefaultConfig(), cache.WithRedis(l2))
	second := cache.New(inner, cache.DefaultConfig(), cache.WithRedis(l2))

	require.NoError(t, first.Replace(ctx, storagetest.MustParse(t, "f1", "a=10;b=20;c=[a]+[b]")))
	got, err := second.Get(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 3)

	// second now holds f1 in its L1
	_, err = second.OrderedSubgraph(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Stats().L1Hits)

	require.NoError(t, first.Replace(ctx, storagetest.MustParse(t, "f1", "x=3;y=[x]*[x]")))

	got, err = second.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "x=3;y=[x]*[x]", got.Source)
	names := make([]string, 0, len(got.Nodes))
	for _, n := range got.Nodes {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"x", "y"}, names)

	rows, err := second.OrderedSubgraph(ctx, "f1")
	require.NoError(t, err)
	for _, row := range rows {
		assert.Contains(t, []string{"x", "y"}, row.Dependent.Name)
		assert.Contains(t, []string{"x", "y"}, row.Dependency.Name)
	}

	require.NoError(t, first.Delete(ctx, "f1"))
	_, err = second.Get(ctx, "f1")
	assert.True(t, errors.Is(err, formula.ErrNotFound))
	exists, err := second.Exists(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCachedStore_CorruptRedisEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	mr, l2 := newRedis(t)
	inner := storage.NewMemoryStore()
	require.NoError(t, inner.Replace(ctx, storagetest.MustParse(t, "f1", "a=1")))

	require.NoError(t, mr.Set("lightingbi:formula:set:f1:0", "{not json"))

	s := cache.New(inner, cache.DefaultConfig(), cache.WithRedis(l2))
	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "a=1", got.Source)

	// repopulated with valid JSON
	raw, err := mr.Get("lightingbi:formula:set:f1:0")
	require.NoError(t, err)
	assert.Contains(t, raw, `"source":"a=1"`)
}

func TestCachedStore_RedisDownIsTolerated(t *testing.T) {
	ctx := context.Background()
	mr, l2 := newRedis(t)
	s := cache.New(storage.NewMemoryStore(), cache.DefaultConfig(), cache.WithRedis(l2))

	mr.Close()

	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=1;b=[a]")))
	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestCachedStore_ConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.Replace(ctx, storagetest.MustParse(t, "f1", "a=1;b=[a]")))

	inner := &countingStore{Store: mem, release: make(chan struct{})}
	s := cache.New(inner, cache.DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(ctx, "f1")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return inner.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.gets.Load())
}

func TestCachedStore_StaleLoadIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.Replace(ctx, storagetest.MustParse(t, "f1", "a=1")))

	inner := &countingStore{Store: mem, release: make(chan struct{})}
	s := cache.New(inner, cache.DefaultConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Get(ctx, "f1")
	}()
	require.Eventually(t, func() bool { return inner.gets.Load() == 1 }, time.Second, time.Millisecond)

	// a replace lands while the load is in flight
	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=2")))
	close(inner.release)
	<-done

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "a=2", got.Source)
}

func TestCachedStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: storage.NewMemoryStore()}
	s := cache.New(inner, cache.Config{Size: 8, TTL: 20 * time.Millisecond})

	require.NoError(t, s.Replace(ctx, storagetest.MustParse(t, "f1", "a=1")))
	_, err := s.Get(ctx, "f1")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = s.Get(ctx, "f1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.gets.Load())
}
