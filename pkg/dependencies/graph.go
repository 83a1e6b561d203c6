package dependencies

import (
	"fmt"
	"sort"

	"github.com/nauu/lightingbi/pkg/formula"
)

// DependencyGraph represents the dependency graph of one formula set
type DependencyGraph struct {
	formulaID string
	nodes     map[string]*Node
	edges     map[string][]string // dependent -> sorted list of dependencies
}

// Node represents a node in the dependency graph
type Node struct {
	Name       string
	Expression string
	Type       formula.NodeType
}

// PathLength is the longest path from Dependent to Dependency
type PathLength struct {
	Dependent  string
	Dependency string
	Length     int
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph(formulaID string) *DependencyGraph {
	return &DependencyGraph{
		formulaID: formulaID,
		nodes:     make(map[string]*Node),
		edges:     make(map[string][]string),
	}
}

// FromSet builds a graph from a formula set
func FromSet(set *formula.Set) *DependencyGraph {
	g := NewDependencyGraph(set.ID)
	for _, n := range set.Nodes {
		g.AddNode(n.Name, n.Expression, n.Type)
	}
	for _, e := range set.Edges {
		g.AddEdge(e.Dependent, e.Dependency)
	}
	return g
}

// FormulaID returns the id of the set this graph was built from
func (g *DependencyGraph) FormulaID() string {
	return g.formulaID
}

// AddNode adds or updates a node
func (g *DependencyGraph) AddNode(name, expression string, nodeType formula.NodeType) {
	if n, ok := g.nodes[name]; ok {
		n.Expression = expression
		n.Type = nodeType
		return
	}
	g.nodes[name] = &Node{Name: name, Expression: expression, Type: nodeType}
}

// AddEdge records that dependent references dependency. Missing endpoints are
// added as input nodes so the graph never holds a dangling edge.
func (g *DependencyGraph) AddEdge(dependent, dependency string) {
	for _, name := range []string{dependent, dependency} {
		if _, ok := g.nodes[name]; !ok {
			g.nodes[name] = &Node{Name: name, Type: formula.NodeTypeInput}
		}
	}

	deps := g.edges[dependent]
	idx := sort.SearchStrings(deps, dependency)
	if idx < len(deps) && deps[idx] == dependency {
		return
	}
	deps = append(deps, "")
	copy(deps[idx+1:], deps[idx:])
	deps[idx] = dependency
	g.edges[dependent] = deps
}

// GetNode retrieves a node from the graph
func (g *DependencyGraph) GetNode(name string) *Node {
	return g.nodes[name]
}

// NodeNames returns every node name in sorted order
func (g *DependencyGraph) NodeNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDependencies returns the direct dependencies of a node
func (g *DependencyGraph) GetDependencies(name string) []string {
	return append([]string(nil), g.edges[name]...)
}

// GetTransitiveDependencies returns every node reachable from name, excluding
// name itself unless it lies on a cycle.
func (g *DependencyGraph) GetTransitiveDependencies(name string) []string {
	visited := make(map[string]bool)
	result := make([]string, 0)

	var traverse func(string)
	traverse = func(key string) {
		for _, dep := range g.edges[key] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			traverse(dep)
		}
	}

	traverse(name)
	sort.Strings(result)
	return result
}

// GetDependents returns the nodes that directly reference name
func (g *DependencyGraph) GetDependents(name string) []string {
	dependents := make([]string, 0)
	for key, deps := range g.edges {
		idx := sort.SearchStrings(deps, name)
		if idx < len(deps) && deps[idx] == name {
			dependents = append(dependents, key)
		}
	}
	sort.Strings(dependents)
	return dependents
}

// HasCycle reports whether any node can reach itself
func (g *DependencyGraph) HasCycle() bool {
	cycle, _ := g.DetectCircularDependencies()
	return cycle != nil
}

// DetectCircularDependencies returns the first cycle found, as a chain that
// starts and ends on the same node, along with an error. Nodes are visited in
// name order so the result is deterministic.
func (g *DependencyGraph) DetectCircularDependencies() ([]string, error) {
	path := make([]string, 0)
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycle []string

	var hasCycle func(string) bool
	hasCycle = func(key string) bool {
		visited[key] = true
		recStack[key] = true
		path = append(path, key)

		for _, dep := range g.edges[key] {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				// Found cycle: trim the path to start at dep
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string(nil), path[i:]...), dep)
						break
					}
				}
				return true
			}
		}

		recStack[key] = false
		path = path[:len(path)-1]
		return false
	}

	for _, name := range g.NodeNames() {
		if visited[name] {
			continue
		}
		if hasCycle(name) {
			return cycle, fmt.Errorf("circular dependency detected")
		}
	}

	return nil, nil
}

// TopologicalSort returns root and everything it depends on, dependencies first
func (g *DependencyGraph) TopologicalSort(root string) ([]string, error) {
	if _, ok := g.nodes[root]; !ok {
		return nil, fmt.Errorf("node %s not found", root)
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	result := make([]string, 0)

	var visit func(string) error
	visit = func(key string) error {
		if recStack[key] {
			return fmt.Errorf("circular dependency detected at %s", key)
		}
		if visited[key] {
			return nil
		}

		visited[key] = true
		recStack[key] = true

		// Visit dependencies first
		for _, dep := range g.edges[key] {
			if err := visit(dep); err != nil {
				return err
			}
		}

		recStack[key] = false
		result = append(result, key)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return result, nil
}

// Layers groups every node into evaluation layers with Kahn's algorithm. Nodes
// in layer 0 have no dependencies; each later layer depends only on earlier ones.
func (g *DependencyGraph) Layers() ([][]string, error) {
	pending := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for name := range g.nodes {
		pending[name] = len(g.edges[name])
		for _, dep := range g.edges[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	current := make([]string, 0)
	for name, count := range pending {
		if count == 0 {
			current = append(current, name)
		}
	}

	layers := make([][]string, 0)
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		processed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range dependents[name] {
				pending[dependent]--
				if pending[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected: %d of %d nodes cannot be ordered", len(g.nodes)-processed, len(g.nodes))
	}
	return layers, nil
}

// LongestPaths returns one row for every (dependent, dependency) pair where the
// dependency is reachable, with the length of the longest connecting path.
// Rows are sorted by length descending, then dependent, then dependency.
func (g *DependencyGraph) LongestPaths() ([]PathLength, error) {
	if cycle, err := g.DetectCircularDependencies(); err != nil {
		return nil, fmt.Errorf("%w: %v", err, cycle)
	}

	// longest[n][d] is the longest path length from n to d
	longest := make(map[string]map[string]int, len(g.nodes))

	var compute func(string) map[string]int
	compute = func(name string) map[string]int {
		if dist, ok := longest[name]; ok {
			return dist
		}
		dist := make(map[string]int)
		for _, dep := range g.edges[name] {
			if dist[dep] < 1 {
				dist[dep] = 1
			}
			for target, length := range compute(dep) {
				if length+1 > dist[target] {
					dist[target] = length + 1
				}
			}
		}
		longest[name] = dist
		return dist
	}

	rows := make([]PathLength, 0)
	for _, name := range g.NodeNames() {
		for target, length := range compute(name) {
			rows = append(rows, PathLength{Dependent: name, Dependency: target, Length: length})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Length != rows[j].Length {
			return rows[i].Length > rows[j].Length
		}
		if rows[i].Dependent != rows[j].Dependent {
			return rows[i].Dependent < rows[j].Dependent
		}
		return rows[i].Dependency < rows[j].Dependency
	})
	return rows, nil
}

// EdgesWithin returns the (dependent, dependency) pairs whose shortest path is
// at most depth hops. A depth of 1 or less returns the direct edges. Pairs are
// ordered by dependent, then hop count, then dependency.
func (g *DependencyGraph) EdgesWithin(depth int) []formula.Edge {
	if depth < 1 {
		depth = 1
	}

	result := make([]formula.Edge, 0)
	for _, name := range g.NodeNames() {
		seen := map[string]bool{}
		frontier := []string{name}
		for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
			next := make([]string, 0)
			for _, key := range frontier {
				for _, dep := range g.edges[key] {
					if seen[dep] {
						continue
					}
					seen[dep] = true
					next = append(next, dep)
				}
			}
			sort.Strings(next)
			for _, dep := range next {
				result = append(result, formula.Edge{
					FormulaID:  g.formulaID,
					Dependent:  name,
					Dependency: dep,
				})
			}
			frontier = next
		}
	}
	return result
}

// GetImpactAnalysis returns what would be affected by changes to this node
func (g *DependencyGraph) GetImpactAnalysis(name string) *ImpactAnalysis {
	directDependents := g.GetDependents(name)

	// Get all transitive dependents
	visited := make(map[string]bool)
	allDependents := make([]string, 0)

	var traverse func(string)
	traverse = func(key string) {
		for _, dep := range g.GetDependents(key) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			allDependents = append(allDependents, dep)
			traverse(dep)
		}
	}
	traverse(name)
	sort.Strings(allDependents)

	return &ImpactAnalysis{
		FormulaID:            g.formulaID,
		Node:                 name,
		DirectDependents:     directDependents,
		TransitiveDependents: allDependents,
		TotalImpact:          len(allDependents),
	}
}

// ImpactAnalysis represents the impact of changing one node
type ImpactAnalysis struct {
	FormulaID            string   `json:"formula_id"`
	Node                 string   `json:"node"`
	DirectDependents     []string `json:"direct_dependents"`
	TransitiveDependents []string `json:"transitive_dependents"`
	TotalImpact          int      `json:"total_impact"`
}
