package dependencies

import (
	"strconv"

	"github.com/nauu/lightingbi/pkg/formula"
)

// CytoscapeNode represents a node in Cytoscape.js format
type CytoscapeNode struct {
	Data CytoscapeNodeData `json:"data"`
}

// CytoscapeNodeData contains node data for Cytoscape.js
type CytoscapeNodeData struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression,omitempty"`
	Type       string `json:"type"` // "Formula" or "Input"
	Layer      int    `json:"layer"`
}

// CytoscapeEdge represents an edge in Cytoscape.js format
type CytoscapeEdge struct {
	Data CytoscapeEdgeData `json:"data"`
}

// CytoscapeEdgeData contains edge data for Cytoscape.js
type CytoscapeEdgeData struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// CytoscapeGraph represents the complete graph in Cytoscape.js format
type CytoscapeGraph struct {
	Nodes []CytoscapeNode `json:"nodes"`
	Edges []CytoscapeEdge `json:"edges"`
}

// BuildCytoscapeGraph converts the whole graph to Cytoscape.js format. Nodes
// carry their Kahn layer so clients can lay them out left to right; on a cyclic
// graph every layer is -1.
func (g *DependencyGraph) BuildCytoscapeGraph() CytoscapeGraph {
	layerOf := make(map[string]int, len(g.nodes))
	if layers, err := g.Layers(); err == nil {
		for i, layer := range layers {
			for _, name := range layer {
				layerOf[name] = i
			}
		}
	} else {
		for name := range g.nodes {
			layerOf[name] = -1
		}
	}

	cytoGraph := CytoscapeGraph{
		Nodes: make([]CytoscapeNode, 0, len(g.nodes)),
		Edges: make([]CytoscapeEdge, 0),
	}

	for _, name := range g.NodeNames() {
		node := g.nodes[name]
		cytoGraph.Nodes = append(cytoGraph.Nodes, CytoscapeNode{
			Data: CytoscapeNodeData{
				ID:         name,
				Name:       name,
				Expression: node.Expression,
				Type:       string(node.Type),
				Layer:      layerOf[name],
			},
		})
		for _, dep := range g.edges[name] {
			cytoGraph.Edges = append(cytoGraph.Edges, CytoscapeEdge{
				Data: CytoscapeEdgeData{
					ID:     name + "->" + dep,
					Source: name,
					Target: dep,
				},
			})
		}
	}

	return cytoGraph
}

// BuildFormulaTree projects edges into the positional tree used by front-ends.
// Indices are assigned in first-seen order, dependent before dependency, and
// every node carries its own expression. Repeated relations are emitted once.
func BuildFormulaTree(formulaID string, edges []formula.Edge, nodes map[string]formula.Node) *formula.FormulaTree {
	tree := &formula.FormulaTree{
		Relations: make([]formula.TreeRelation, 0, len(edges)),
		Nodes:     make([]formula.TreeNode, 0),
	}

	index := make(map[string]int)
	indexOf := func(name string) int {
		if idx, ok := index[name]; ok {
			return idx
		}
		idx := len(tree.Nodes)
		index[name] = idx

		node, ok := nodes[name]
		if !ok {
			node = formula.Node{Name: name, Type: formula.NodeTypeInput, FormulaID: formulaID}
		}
		tree.Nodes = append(tree.Nodes, formula.TreeNode{
			Key:       name,
			Formula:   node.Expression,
			NodeType:  string(node.Type),
			FormulaID: formulaID,
		})
		return idx
	}

	seen := make(map[[2]int]bool, len(edges))
	for _, e := range edges {
		source := indexOf(e.Dependent)
		target := indexOf(e.Dependency)
		key := [2]int{source, target}
		if seen[key] {
			continue
		}
		seen[key] = true

		tree.Relations = append(tree.Relations, formula.TreeRelation{
			SourceIndex: strconv.Itoa(source),
			TargetIndex: strconv.Itoa(target),
			FormulaID:   formulaID,
		})
	}

	return tree
}
