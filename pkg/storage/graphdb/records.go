package graphdb

import (
	"errors"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nauu/lightingbi/pkg/formula"
)

func recordString(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func recordBool(record *neo4j.Record, key string) bool {
	if v, ok := record.Get(key); ok && v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func setFromRecord(formulaID string, record *neo4j.Record) *formula.Set {
	set := &formula.Set{
		ID:     formulaID,
		Source: recordString(record, "source"),
		Output: recordString(record, "output"),
	}
	if ts := recordString(record, "updated_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			set.UpdatedAt = t.UTC()
		}
	}
	return set
}

func nodeFromRecord(formulaID string, record *neo4j.Record) formula.Node {
	return formula.Node{
		Name:       recordString(record, "name"),
		Expression: recordString(record, "formula"),
		Type:       formula.NodeType(recordString(record, "node_type")),
		FormulaID:  formulaID,
	}
}

func edgeFromRecord(formulaID string, record *neo4j.Record) formula.Edge {
	return formula.Edge{
		FormulaID:  formulaID,
		Dependent:  recordString(record, "dependent"),
		Dependency: recordString(record, "dependency"),
	}
}

func replaceParams(set *formula.Set) map[string]any {
	updatedAt := set.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	nodes := make([]map[string]any, 0, len(set.Nodes))
	for _, n := range set.Nodes {
		nodes = append(nodes, map[string]any{
			"name":      n.Name,
			"formula":   n.Expression,
			"node_type": string(n.Type),
		})
	}
	edges := make([]map[string]any, 0, len(set.Edges))
	for _, e := range set.Edges {
		edges = append(edges, map[string]any{
			"dependent":  e.Dependent,
			"dependency": e.Dependency,
		})
	}

	return map[string]any{
		"formula_id": set.ID,
		"source":     set.Source,
		"output":     set.Output,
		"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
		"nodes":      nodes,
		"edges":      edges,
	}
}

// wrapErr keeps domain errors raised inside a transaction and wraps the rest
func wrapErr(op, formulaID string, err error) error {
	var nf *formula.NotFoundError
	var ce *formula.CycleError
	if errors.As(err, &nf) || errors.As(err, &ce) {
		return err
	}
	return storeErr(op, formulaID, err)
}
