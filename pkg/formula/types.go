package formula

import (
	"sort"
	"time"
)

// NodeType distinguishes defined statements from externally supplied values
type NodeType string

const (
	// NodeTypeFormula is a node defined by a name=expression statement
	NodeTypeFormula NodeType = "Formula"
	// NodeTypeInput is a referenced name without a definition; its value comes from run params
	NodeTypeInput NodeType = "Input"
)

// Node is a named expression within a formula set
type Node struct {
	Name       string   `json:"name" yaml:"name"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Type       NodeType `json:"type" yaml:"type"`
	FormulaID  string   `json:"formula_id" yaml:"formula_id"`
}

// Edge records that Dependent references Dependency
type Edge struct {
	FormulaID  string `json:"formula_id"`
	Dependent  string `json:"dependent"`
	Dependency string `json:"dependency"`
}

// PathRow is one (dependent, dependency) pair of the ordered subgraph.
// Length is the longest path between the two nodes.
type PathRow struct {
	Dependent  Node `json:"dependent"`
	Dependency Node `json:"dependency"`
	Length     int  `json:"length"`
}

// Set is the complete definition stored under one formula id
type Set struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Output    string    `json:"output,omitempty"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node returns the node with the given name
func (s *Set) Node(name string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// NodeMap indexes the nodes by name
func (s *Set) NodeMap() map[string]Node {
	m := make(map[string]Node, len(s.Nodes))
	for _, n := range s.Nodes {
		m[n.Name] = n
	}
	return m
}

// FormulaNodes returns only the defined (non-input) nodes
func (s *Set) FormulaNodes() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Type == NodeTypeFormula {
			out = append(out, n)
		}
	}
	return out
}

// Clone returns a deep copy
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	c := *s
	c.Nodes = append([]Node(nil), s.Nodes...)
	c.Edges = append([]Edge(nil), s.Edges...)
	return &c
}

// Canonicalize sorts nodes by name and edges by (dependent, dependency)
func (s *Set) Canonicalize() {
	sort.Slice(s.Nodes, func(i, j int) bool {
		return s.Nodes[i].Name < s.Nodes[j].Name
	})
	sort.Slice(s.Edges, func(i, j int) bool {
		if s.Edges[i].Dependent != s.Edges[j].Dependent {
			return s.Edges[i].Dependent < s.Edges[j].Dependent
		}
		return s.Edges[i].Dependency < s.Edges[j].Dependency
	})
}

// TreeNode is a node of the visualization tree
type TreeNode struct {
	Key       string `json:"key"`
	Formula   string `json:"formula"`
	NodeType  string `json:"node_type"`
	FormulaID string `json:"formula_id"`
}

// TreeRelation links two TreeNodes by their positional indices
type TreeRelation struct {
	SourceIndex string `json:"source_index"`
	TargetIndex string `json:"target_index"`
	FormulaID   string `json:"formula_id"`
}

// FormulaTree is the node/edge-list projection of a formula set used by front-ends
type FormulaTree struct {
	Relations []TreeRelation `json:"relations"`
	Nodes     []TreeNode     `json:"nodes"`
}
