package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nauu/lightingbi/pkg/dependencies"
	"github.com/nauu/lightingbi/pkg/expr"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
)

// Scheduler evaluates a stored formula set from its leaves up to the root
type Scheduler struct {
	store    storage.Store
	detector *CycleDetector
	registry *expr.Registry
}

// NewScheduler creates a scheduler. A nil registry means expr.DefaultRegistry.
func NewScheduler(store storage.Store, detector *CycleDetector, registry *expr.Registry) *Scheduler {
	if registry == nil {
		registry = expr.DefaultRegistry()
	}
	return &Scheduler{store: store, detector: detector, registry: registry}
}

// Evaluate computes the root of the set stored under formulaID. params
// supply input values and may pre-empt any node except the root.
func (s *Scheduler) Evaluate(ctx context.Context, formulaID string, params map[string]string) (float64, error) {
	result, err := s.evaluate(ctx, formulaID, params)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

type evaluation struct {
	Root      string
	Value     float64
	Evaluated int
}

func (s *Scheduler) evaluate(ctx context.Context, formulaID string, params map[string]string) (*evaluation, error) {
	if err := s.detector.Require(ctx, formulaID); err != nil {
		return nil, err
	}

	set, err := s.store.Get(ctx, formulaID)
	if err != nil {
		return nil, err
	}

	env, err := parseParams(formulaID, params)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.OrderedSubgraph(ctx, formulaID)
	if err != nil {
		return nil, err
	}

	root, err := chooseRoot(set, rows)
	if err != nil {
		return nil, err
	}

	graph := dependencies.FromSet(set)
	order, err := graph.TopologicalSort(root)
	if err != nil {
		path, _ := graph.DetectCircularDependencies()
		return nil, &formula.CycleError{FormulaID: formulaID, Path: path}
	}

	needed := closure(graph, root, env)
	nodes := set.NodeMap()
	evaluated := 0

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !needed[name] {
			continue
		}
		if _, supplied := env[name]; supplied && name != root {
			continue
		}

		node := nodes[name]
		if node.Type == formula.NodeTypeInput {
			return nil, &formula.EvaluationError{FormulaID: formulaID, Node: name, Err: formula.ErrUnboundInput}
		}

		prog, err := expr.Compile(node.Expression)
		if err != nil {
			return nil, &formula.EvaluationError{FormulaID: formulaID, Node: name, Err: err}
		}
		v, err := prog.Eval(env, s.registry)
		if err != nil {
			return nil, &formula.EvaluationError{FormulaID: formulaID, Node: name, Err: err}
		}
		env[name] = v
		evaluated++
	}

	return &evaluation{Root: root, Value: env[root], Evaluated: evaluated}, nil
}

// chooseRoot picks the node to evaluate: the designated output, else the
// dependent of the longest chain, else the only formula node.
func chooseRoot(set *formula.Set, rows []formula.PathRow) (string, error) {
	if set.Output != "" {
		if n, ok := set.Node(set.Output); ok && n.Type == formula.NodeTypeFormula {
			return set.Output, nil
		}
		return "", &formula.EvaluationError{
			FormulaID: set.ID,
			Err:       fmt.Errorf("%w: output %s is not a formula node", formula.ErrNoRoot, set.Output),
		}
	}
	if len(rows) > 0 {
		return rows[0].Dependent.Name, nil
	}
	if fns := set.FormulaNodes(); len(fns) == 1 {
		return fns[0].Name, nil
	}
	return "", &formula.EvaluationError{FormulaID: set.ID, Err: formula.ErrNoRoot}
}

// closure returns root and every node it needs, without descending into
// nodes whose value is already supplied
func closure(graph *dependencies.DependencyGraph, root string, env map[string]float64) map[string]bool {
	needed := make(map[string]bool)
	var walk func(string)
	walk = func(name string) {
		if needed[name] {
			return
		}
		needed[name] = true
		if _, supplied := env[name]; supplied && name != root {
			return
		}
		for _, dep := range graph.GetDependencies(name) {
			walk(dep)
		}
	}
	walk(root)
	return needed
}

func parseParams(formulaID string, params map[string]string) (map[string]float64, error) {
	env := make(map[string]float64, len(params))
	for name, raw := range params {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, &formula.EvaluationError{
				FormulaID: formulaID,
				Node:      name,
				Err:       fmt.Errorf("%w: %q", formula.ErrInvalidParam, raw),
			}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &formula.EvaluationError{FormulaID: formulaID, Node: name, Err: expr.ErrNotFinite}
		}
		env[name] = v
	}
	return env, nil
}

// FormatValue renders a result the way Run returns it
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
