package engine

import (
	"context"

	"github.com/nauu/lightingbi/pkg/dependencies"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

// CycleDetector guards evaluation against cyclic formula sets
type CycleDetector struct {
	store   storage.GraphQuerier
	metrics *observability.Metrics
}

// NewCycleDetector creates a detector over store; metrics may be nil
func NewCycleDetector(store storage.GraphQuerier, metrics *observability.Metrics) *CycleDetector {
	return &CycleDetector{store: store, metrics: metrics}
}

// Check reports whether the set stored under formulaID contains a cycle
func (d *CycleDetector) Check(ctx context.Context, formulaID string) (bool, error) {
	cyclic, err := d.store.HasCycle(ctx, formulaID)
	if err != nil {
		return false, err
	}
	if cyclic {
		d.metrics.RecordCycle()
	}
	return cyclic, nil
}

// Require returns a *formula.CycleError naming the cycle when the set is cyclic
func (d *CycleDetector) Require(ctx context.Context, formulaID string) error {
	cyclic, err := d.Check(ctx, formulaID)
	if err != nil {
		return err
	}
	if !cyclic {
		return nil
	}

	edges, err := d.store.DirectEdges(ctx, formulaID, 1)
	if err != nil {
		return err
	}
	return &formula.CycleError{FormulaID: formulaID, Path: cyclePath(formulaID, edges)}
}

func cyclePath(formulaID string, edges []formula.Edge) []string {
	g := dependencies.NewDependencyGraph(formulaID)
	for _, e := range edges {
		g.AddEdge(e.Dependent, e.Dependency)
	}
	path, _ := g.DetectCircularDependencies()
	return path
}
