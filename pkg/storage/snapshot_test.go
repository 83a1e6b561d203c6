package storage

import (
	"errors"
	"testing"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_OrderedSubgraphCycle(t *testing.T) {
	set, err := formula.Parse("f1", "a=[b];b=[a]")
	require.NoError(t, err)

	snap := NewSnapshot(set)
	assert.True(t, snap.HasCycle())

	_, err = snap.OrderedSubgraph()
	var cycleErr *formula.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
}

func TestSnapshot_InputNodesInRows(t *testing.T) {
	set, err := formula.Parse("f1", "total=[price]*[qty]")
	require.NoError(t, err)

	rows, err := NewSnapshot(set).OrderedSubgraph()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, formula.NodeTypeInput, rows[0].Dependency.Type)
	assert.Equal(t, "price", rows[0].Dependency.Name)
}

func TestSnapshot_IsolatedFromCaller(t *testing.T) {
	set, err := formula.Parse("f1", "a=1")
	require.NoError(t, err)

	snap := NewSnapshot(set)
	set.Nodes[0].Expression = "2"
	assert.Equal(t, "1", snap.Set().Nodes[0].Expression)
}

func TestValidateSet(t *testing.T) {
	valid, err := formula.Parse("f1", "a=1;b=[a]")
	require.NoError(t, err)
	assert.NoError(t, ValidateSet(valid))

	assert.Error(t, ValidateSet(nil))

	noID := valid.Clone()
	noID.ID = ""
	assert.Error(t, ValidateSet(noID))

	dup := valid.Clone()
	dup.Nodes = append(dup.Nodes, dup.Nodes[0])
	assert.Error(t, ValidateSet(dup))

	foreignNode := valid.Clone()
	foreignNode.Nodes[0].FormulaID = "other"
	assert.Error(t, ValidateSet(foreignNode))

	foreignEdge := valid.Clone()
	foreignEdge.Edges[0].FormulaID = "other"
	assert.Error(t, ValidateSet(foreignEdge))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, TypeMemory, cfg.Type)
	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Positive(t, cfg.L1CacheSize)
}
