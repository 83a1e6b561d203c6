package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nauu/lightingbi/pkg/dependencies"
	"github.com/nauu/lightingbi/pkg/expr"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
	"github.com/nauu/lightingbi/pkg/storage/archive"
)

const tracerName = "github.com/nauu/lightingbi/pkg/engine"

// Archiver keeps a copy of every saved source text
type Archiver interface {
	Put(ctx context.Context, formulaID, source string) (archive.Record, error)
}

// Engine defines, stores and evaluates formula sets
type Engine struct {
	store     storage.Store
	detector  *CycleDetector
	scheduler *Scheduler
	registry  *expr.Registry
	archive   Archiver
	metrics   *observability.Metrics
	logger    *observability.Logger
	newID     func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records saves, runs and cycles on m
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArchive archives source text after each successful save
func WithArchive(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithRegistry replaces the expression function registry
func WithRegistry(r *expr.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithIDGenerator replaces the generator used for empty formula ids
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an engine over store. The caller owns store and closes it.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: observability.NewNopLogger(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.detector = NewCycleDetector(store, e.metrics)
	e.scheduler = NewScheduler(store, e.detector, e.registry)
	return e
}

// Store returns the underlying store
func (e *Engine) Store() storage.Store {
	return e.store
}

// Form starts a definition under formulaID. An empty id gets a fresh UUID.
func (e *Engine) Form(formulaID string) *Handle {
	if formulaID == "" {
		formulaID = e.newID()
	}
	return &Handle{engine: e, id: formulaID}
}

// FormatOption configures FormulaFormat
type FormatOption func(*formatOptions)

type formatOptions struct {
	output string
}

// WithOutput designates the node Run evaluates
func WithOutput(name string) FormatOption {
	return func(o *formatOptions) { o.output = name }
}

// FormulaFormat parses text and stores it under formulaID, replacing any
// previous definition. An empty id gets a fresh UUID.
func (e *Engine) FormulaFormat(ctx context.Context, text, formulaID string, opts ...FormatOption) (*Handle, error) {
	var o formatOptions
	for _, opt := range opts {
		opt(&o)
	}

	h := e.Form(formulaID).Vals(text).Output(o.output)
	if err := h.Save(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Engine) save(ctx context.Context, formulaID, text, output string) (err error) {
	ctx = observability.WithFormulaID(ctx, formulaID)
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Save",
		attribute.Int("formula.source_length", len(text)),
	)
	defer func() {
		e.metrics.RecordSave(err)
		observability.EndSpan(span, err)
	}()

	logger := observability.FromContext(ctx, e.logger)

	set, err := formula.ParseWithOutput(formulaID, text, output)
	if err != nil {
		logger.WithError(err).Warn("formula rejected")
		return err
	}
	set.UpdatedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.Int("formula.nodes", len(set.Nodes)),
		attribute.Int("formula.edges", len(set.Edges)),
	)

	if err := e.store.Replace(ctx, set); err != nil {
		logger.WithError(err).Error("failed to store formula set")
		return err
	}

	if e.archive != nil {
		if rec, err := e.archive.Put(ctx, formulaID, set.Source); err != nil {
			logger.WithError(err).Warn("failed to archive formula source")
		} else {
			logger.WithField("hash", rec.Hash).Debug("formula source archived")
		}
	}

	logger.WithFields(map[string]interface{}{
		"nodes": len(set.Nodes),
		"edges": len(set.Edges),
	}).Info("formula set saved")
	return nil
}

// Run evaluates the set stored under formulaID and formats the result
func (e *Engine) Run(ctx context.Context, formulaID string, params map[string]string) (value string, err error) {
	ctx = observability.WithFormulaID(ctx, formulaID)
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Run",
		attribute.Int("formula.params", len(params)),
	)
	start := time.Now()
	evaluated := 0
	defer func() {
		e.metrics.RecordRun(time.Since(start), evaluated, err)
		observability.EndSpan(span, err)
	}()

	logger := observability.FromContext(ctx, e.logger)
	result, err := e.scheduler.evaluate(ctx, formulaID, params)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"formula_id": formulaID,
			"kind":       formula.ErrorKind(err),
		}).WithError(err).Warn("formula run failed")
		return "", err
	}
	evaluated = result.Evaluated

	value = FormatValue(result.Value)
	span.SetAttributes(
		attribute.String("formula.root", result.Root),
		attribute.Int("formula.nodes_evaluated", evaluated),
	)
	logger.WithFields(map[string]interface{}{
		"formula_id": formulaID,
		"root":       result.Root,
		"nodes":      evaluated,
		"duration":   time.Since(start).String(),
	}).Debug("formula evaluated")
	return value, nil
}

// Calculate stores text under a fresh id and runs it
func (e *Engine) Calculate(ctx context.Context, text string, params map[string]string, opts ...FormatOption) (string, string, error) {
	h, err := e.FormulaFormat(ctx, text, "", opts...)
	if err != nil {
		return "", "", err
	}
	value, err := h.Run(ctx, params)
	if err != nil {
		return h.ID(), "", err
	}
	return h.ID(), value, nil
}

// Tree returns the positional node/relation projection of the stored set
func (e *Engine) Tree(ctx context.Context, formulaID string) (tree *formula.FormulaTree, err error) {
	ctx = observability.WithFormulaID(ctx, formulaID)
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Tree")
	defer func() { observability.EndSpan(span, err) }()

	edges, err := e.store.DirectEdges(ctx, formulaID, 1)
	if err != nil {
		return nil, err
	}
	set, err := e.store.Get(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return dependencies.BuildFormulaTree(formulaID, edges, set.NodeMap()), nil
}

// CheckCycle reports whether the stored set contains a dependency cycle
func (e *Engine) CheckCycle(ctx context.Context, formulaID string) (cyclic bool, err error) {
	ctx = observability.WithFormulaID(ctx, formulaID)
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.CheckCycle")
	defer func() { observability.EndSpan(span, err) }()

	cyclic, err = e.detector.Check(ctx, formulaID)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("formula.cyclic", cyclic))
	return cyclic, nil
}

// Get returns the stored set
func (e *Engine) Get(ctx context.Context, formulaID string) (*formula.Set, error) {
	return e.store.Get(ctx, formulaID)
}

// List returns every stored formula id
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// Delete removes the set stored under formulaID
func (e *Engine) Delete(ctx context.Context, formulaID string) (err error) {
	ctx = observability.WithFormulaID(ctx, formulaID)
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Delete")
	defer func() { observability.EndSpan(span, err) }()

	if err := e.store.Delete(ctx, formulaID); err != nil {
		return err
	}
	e.logger.WithField("formula_id", formulaID).Info("formula set deleted")
	return nil
}
