package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

func seed(t *testing.T, store storage.Store, defs map[string]string) {
	t.Helper()
	for id, text := range defs {
		set, err := formula.Parse(id, text)
		require.NoError(t, err)
		require.NoError(t, store.Replace(context.Background(), set))
	}
}

type flakySource struct {
	storage.Store
	failID  string
	listErr error
}

func (f *flakySource) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.List(ctx)
}

func (f *flakySource) HasCycle(ctx context.Context, id string) (bool, error) {
	if id == f.failID {
		return false, &formula.StoreError{Op: "has_cycle", FormulaID: id, Err: errors.New("timeout")}
	}
	return f.Store.HasCycle(ctx, id)
}

func TestCycleAudit_Run(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, map[string]string{
		"ok":     "a=10;b=[a]+1",
		"loop":   "a=[b];b=[a]",
		"self":   "x=[x]+1",
		"inputs": "c=[a]+[b]",
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	audit := NewCycleAudit(store, WithMetrics(metrics))

	assert.Nil(t, audit.Last())
	report, err := audit.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, []string{"loop", "self"}, report.Cyclic)
	assert.Empty(t, report.Failed)
	assert.Same(t, report, audit.Last())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.FormulaSetsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FormulaCyclicSets))
}

func TestCycleAudit_EmptyStore(t *testing.T) {
	report, err := NewCycleAudit(storage.NewMemoryStore()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, []string{}, report.Cyclic)
}

func TestCycleAudit_PerSetFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, map[string]string{"a": "x=1", "b": "x=[x]"})
	audit := NewCycleAudit(&flakySource{Store: store, failID: "a"})

	report, err := audit.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, []string{"b"}, report.Cyclic)
	assert.Contains(t, report.Failed["a"], "timeout")
}

func TestCycleAudit_ListFailure(t *testing.T) {
	audit := NewCycleAudit(&flakySource{Store: storage.NewMemoryStore(), listErr: errors.New("down")})

	_, err := audit.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list formula sets")
	assert.Nil(t, audit.Last())
}

func TestCycleAudit_Cancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, map[string]string{"a": "x=1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCycleAudit(store).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, map[string]string{"loop": "a=[b];b=[a]"})
	audit := NewCycleAudit(store)

	_, err := NewScheduler(audit, "every now and then", nil)
	require.Error(t, err)

	s, err := NewScheduler(audit, "@every 1s", nil)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool {
		last := audit.Last()
		return last != nil && len(last.Cyclic) == 1
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
