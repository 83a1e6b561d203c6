package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nauu/lightingbi/pkg/observability"
)

const tracerName = "github.com/nauu/lightingbi/pkg/jobs"

// CycleSource lists stored formula sets and checks them for cycles.
// storage.Store satisfies it.
type CycleSource interface {
	List(ctx context.Context) ([]string, error)
	HasCycle(ctx context.Context, formulaID string) (bool, error)
}

// AuditReport is the outcome of one audit pass
type AuditReport struct {
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Checked   int               `json:"checked"`
	Cyclic    []string          `json:"cyclic"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// CycleAudit walks every stored formula set and reports the cyclic ones
type CycleAudit struct {
	source  CycleSource
	metrics *observability.Metrics
	logger  *observability.Logger
	timeout time.Duration

	mu   sync.RWMutex
	last *AuditReport
}

// AuditOption configures a CycleAudit
type AuditOption func(*CycleAudit)

// WithMetrics publishes the set and cyclic set gauges on m
func WithMetrics(m *observability.Metrics) AuditOption {
	return func(a *CycleAudit) { a.metrics = m }
}

// WithLogger sets the audit logger
func WithLogger(l *observability.Logger) AuditOption {
	return func(a *CycleAudit) { a.logger = l }
}

// WithTimeout bounds one audit pass
func WithTimeout(d time.Duration) AuditOption {
	return func(a *CycleAudit) { a.timeout = d }
}

// NewCycleAudit creates an audit over source
func NewCycleAudit(source CycleSource, opts ...AuditOption) *CycleAudit {
	a := &CycleAudit{
		source:  source,
		logger:  observability.NewNopLogger(),
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs one audit pass. Per-set failures are recorded in the report;
// only a failure to list the sets fails the pass.
func (a *CycleAudit) Run(ctx context.Context) (report *AuditReport, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, tracerName, "jobs.CycleAudit")
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	ids, err := a.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list formula sets: %w", err)
	}

	report = &AuditReport{StartedAt: start, Cyclic: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("audit interrupted after %d sets: %w", report.Checked, err)
		}

		cyclic, err := a.source.HasCycle(ctx, id)
		if err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[id] = err.Error()
			a.logger.WithError(err).WithField("formula_id", id).Warn("cycle audit check failed")
			continue
		}
		report.Checked++
		if cyclic {
			report.Cyclic = append(report.Cyclic, id)
		}
	}
	sort.Strings(report.Cyclic)
	report.Duration = time.Since(start)

	a.metrics.SetFormulaSets(len(ids))
	a.metrics.SetCyclicSets(len(report.Cyclic))

	entry := a.logger.WithFields(map[string]interface{}{
		"checked":  report.Checked,
		"cyclic":   len(report.Cyclic),
		"failed":   len(report.Failed),
		"duration": report.Duration.String(),
	})
	if len(report.Cyclic) > 0 {
		entry.WithField("cyclic_ids", report.Cyclic).Warn("cycle audit found cyclic formula sets")
	} else {
		entry.Info("cycle audit completed")
	}

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
	return report, nil
}

// Last returns the most recent successful report, or nil before the first pass
func (a *CycleAudit) Last() *AuditReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}
