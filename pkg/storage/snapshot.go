package storage

import (
	"fmt"

	"github.com/nauu/lightingbi/pkg/dependencies"
	"github.com/nauu/lightingbi/pkg/formula"
)

// Snapshot is an immutable, query-ready view of one formula set. Stores that
// persist sets as rows or documents load a Snapshot to answer graph queries.
type Snapshot struct {
	set   *formula.Set
	graph *dependencies.DependencyGraph
	nodes map[string]formula.Node
}

// NewSnapshot copies set and indexes it
func NewSnapshot(set *formula.Set) *Snapshot {
	c := set.Clone()
	return &Snapshot{
		set:   c,
		graph: dependencies.FromSet(c),
		nodes: c.NodeMap(),
	}
}

// Set returns a copy of the underlying formula set
func (s *Snapshot) Set() *formula.Set {
	return s.set.Clone()
}

// HasCycle reports whether any node reaches itself
func (s *Snapshot) HasCycle() bool {
	return s.graph.HasCycle()
}

// OrderedSubgraph returns the longest-path rows with full node records
func (s *Snapshot) OrderedSubgraph() ([]formula.PathRow, error) {
	if cycle, err := s.graph.DetectCircularDependencies(); err != nil {
		return nil, &formula.CycleError{FormulaID: s.set.ID, Path: cycle}
	}

	paths, err := s.graph.LongestPaths()
	if err != nil {
		return nil, err
	}

	rows := make([]formula.PathRow, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, formula.PathRow{
			Dependent:  s.node(p.Dependent),
			Dependency: s.node(p.Dependency),
			Length:     p.Length,
		})
	}
	return rows, nil
}

// DirectEdges returns the pairs reachable within depth hops
func (s *Snapshot) DirectEdges(depth int) []formula.Edge {
	return s.graph.EdgesWithin(depth)
}

func (s *Snapshot) node(name string) formula.Node {
	if n, ok := s.nodes[name]; ok {
		return n
	}
	return formula.Node{Name: name, Type: formula.NodeTypeInput, FormulaID: s.set.ID}
}

// ValidateSet checks the structural invariants every store relies on: a
// non-empty id, unique node names, and edges that stay within the set.
func ValidateSet(set *formula.Set) error {
	if set == nil {
		return fmt.Errorf("formula set is nil")
	}
	if set.ID == "" {
		return fmt.Errorf("formula set id is required")
	}

	names := make(map[string]bool, len(set.Nodes))
	for _, n := range set.Nodes {
		if names[n.Name] {
			return fmt.Errorf("duplicate node %s", n.Name)
		}
		if n.FormulaID != set.ID {
			return fmt.Errorf("node %s belongs to formula %s, not %s", n.Name, n.FormulaID, set.ID)
		}
		names[n.Name] = true
	}
	for _, e := range set.Edges {
		if e.FormulaID != set.ID {
			return fmt.Errorf("edge %s->%s belongs to formula %s, not %s", e.Dependent, e.Dependency, e.FormulaID, set.ID)
		}
		if !names[e.Dependent] || !names[e.Dependency] {
			return fmt.Errorf("edge %s->%s references an unknown node", e.Dependent, e.Dependency)
		}
	}
	return nil
}
