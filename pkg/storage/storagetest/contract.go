// Package storagetest provides a behavioural test suite shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is registered through t.
type Factory func(t *testing.T) storage.Store

// MustParse parses text or fails the test
func MustParse(t *testing.T, id, text string) *formula.Set {
	t.Helper()
	set, err := formula.Parse(id, text)
	require.NoError(t, err)
	return set
}

// RunContract exercises the Store contract against stores produced by newStore
func RunContract(t *testing.T, newStore Factory) {
	t.Run("ReplaceAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		exists, err := store.Exists(ctx, "f1")
		require.NoError(t, err)
		assert.False(t, exists)

		set := MustParse(t, "f1", "a=10;b=20;c=[a]+[b]")
		require.NoError(t, store.Replace(ctx, set))

		exists, err = store.Exists(ctx, "f1")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "f1", got.ID)
		assert.Equal(t, set.Source, got.Source)
		assert.ElementsMatch(t, set.Nodes, got.Nodes)
		assert.ElementsMatch(t, set.Edges, got.Edges)
	})

	t.Run("ReplaceOverwritesPreviousDefinition", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=10;b=20;c=[a]+[b]")))
		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "x=1;y=[x]*2")))

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		names := make([]string, 0)
		for _, n := range got.Nodes {
			names = append(names, n.Name)
		}
		assert.ElementsMatch(t, []string{"x", "y"}, names)
		assert.Equal(t, []formula.Edge{{FormulaID: "f1", Dependent: "y", Dependency: "x"}}, got.Edges)
	})

	t.Run("SetsAreIsolatedByID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=1;b=[a]")))
		require.NoError(t, store.Replace(ctx, MustParse(t, "f2", "a=[b];b=[a]")))

		cyclic, err := store.HasCycle(ctx, "f1")
		require.NoError(t, err)
		assert.False(t, cyclic)

		cyclic, err = store.HasCycle(ctx, "f2")
		require.NoError(t, err)
		assert.True(t, cyclic)

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f2"}, ids)
	})

	t.Run("UnknownID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Get(ctx, "missing")
		assert.True(t, errors.Is(err, formula.ErrNotFound), "Get: %v", err)

		_, err = store.HasCycle(ctx, "missing")
		assert.True(t, errors.Is(err, formula.ErrNotFound), "HasCycle: %v", err)

		_, err = store.OrderedSubgraph(ctx, "missing")
		assert.True(t, errors.Is(err, formula.ErrNotFound), "OrderedSubgraph: %v", err)

		_, err = store.DirectEdges(ctx, "missing", 1)
		assert.True(t, errors.Is(err, formula.ErrNotFound), "DirectEdges: %v", err)

		err = store.Delete(ctx, "missing")
		assert.True(t, errors.Is(err, formula.ErrNotFound), "Delete: %v", err)
	})

	t.Run("OrderedSubgraph", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=10;b=[a];c=[b]+[a]")))

		rows, err := store.OrderedSubgraph(ctx, "f1")
		require.NoError(t, err)
		require.Len(t, rows, 3)

		assert.Equal(t, "c", rows[0].Dependent.Name)
		assert.Equal(t, "a", rows[0].Dependency.Name)
		assert.Equal(t, 2, rows[0].Length)
		assert.Equal(t, "[b]+[a]", rows[0].Dependent.Expression)
		assert.Equal(t, "10", rows[0].Dependency.Expression)

		for i := 1; i < len(rows); i++ {
			assert.GreaterOrEqual(t, rows[i-1].Length, rows[i].Length)
		}
	})

	t.Run("OrderedSubgraphEmptyForSingleNode", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=10")))

		rows, err := store.OrderedSubgraph(ctx, "f1")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("DirectEdges", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=1;b=[a];c=[b]")))

		edges, err := store.DirectEdges(ctx, "f1", 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []formula.Edge{
			{FormulaID: "f1", Dependent: "b", Dependency: "a"},
			{FormulaID: "f1", Dependent: "c", Dependency: "b"},
		}, edges)

		edges, err = store.DirectEdges(ctx, "f1", 2)
		require.NoError(t, err)
		assert.Len(t, edges, 3)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Replace(ctx, MustParse(t, "f1", "a=1")))
		require.NoError(t, store.Delete(ctx, "f1"))

		exists, err := store.Exists(ctx, "f1")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("RejectsInvalidSet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		bad := MustParse(t, "f1", "a=1;b=[a]")
		bad.Edges = append(bad.Edges, formula.Edge{FormulaID: "f1", Dependent: "b", Dependency: "ghost"})
		assert.Error(t, store.Replace(ctx, bad))

		exists, err := store.Exists(ctx, "f1")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ConcurrentReplace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		texts := []string{"a=1;b=[a]", "x=1;y=[x];z=[y]"}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Replace(ctx, MustParse(t, "f1", texts[i%2])))
			}(i)
		}
		wg.Wait()

		got, err := store.Get(ctx, "f1")
		require.NoError(t, err)
		// never a mix of the two definitions
		if len(got.Nodes) == 2 {
			assert.Equal(t, "a=1;b=[a]", got.Source)
			assert.Len(t, got.Edges, 1)
		} else {
			assert.Equal(t, "x=1;y=[x];z=[y]", got.Source)
			assert.Len(t, got.Nodes, 3)
			assert.Len(t, got.Edges, 2)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}
