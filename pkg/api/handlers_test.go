package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/httputil"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(storage.NewMemoryStore())
	return NewServer(eng, opts...), eng
}

func do(t *testing.T, s http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateFormula(t *testing.T) {
	s, eng := newTestServer(t)

	w := do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=10;b=20;c=[a]+[b]"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "f1", decode[CreateFormulaResponse](t, w).ID)

	set, err := eng.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, set.Nodes, 3)
}

func TestCreateFormula_GeneratesID(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{Text: "a=1"})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode[CreateFormulaResponse](t, w).ID)
}

func TestCreateFormula_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		kind string
	}{
		{"missing text", `{"id":"f1"}`, httputil.KindBadRequest},
		{"unknown field", `{"text":"a=1","bogus":true}`, httputil.KindBadRequest},
		{"malformed json", `{"text":`, httputil.KindBadRequest},
		{"parse error", CreateFormulaRequest{ID: "f1", Text: "a=10;b"}, "ParseError"},
		{"bad expression", CreateFormulaRequest{ID: "f1", Text: "a=10+"}, "ParseError"},
		{"unknown output", CreateFormulaRequest{ID: "f1", Text: "a=10", Output: "zz"}, "ParseError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)

			w := do(t, s, "POST", "/api/v1/formulas", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.kind, decode[httputil.ErrorResponse](t, w).Kind)
		})
	}
}

func TestCreateFormula_RejectsNonJSON(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/formulas", bytes.NewBufferString("a=1"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFormula(t *testing.T) {
	s, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=10;c=[a]+5", Output: "c"}).Code)

	w := do(t, s, "GET", "/api/v1/formulas/f1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	set := decode[formula.Set](t, w)
	assert.Equal(t, "f1", set.ID)
	assert.Equal(t, "c", set.Output)
	assert.Equal(t, "a=10;c=[a]+5", set.Source)
	assert.Equal(t, []formula.Edge{{Dependent: "c", Dependency: "a", FormulaID: "f1"}}, set.Edges)
}

func TestGetFormula_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "GET", "/api/v1/formulas/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFoundError", decode[httputil.ErrorResponse](t, w).Kind)
}

func TestListFormulas(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "GET", "/api/v1/formulas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ListResponse{IDs: []string{}, Count: 0}, decode[ListResponse](t, w))

	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "b", Text: "x=1"})
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "a", Text: "x=1"})

	w = do(t, s, "GET", "/api/v1/formulas", nil)
	assert.Equal(t, ListResponse{IDs: []string{"a", "b"}, Count: 2}, decode[ListResponse](t, w))
}

func TestDeleteFormula(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=1"})

	w := do(t, s, "DELETE", "/api/v1/formulas/f1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, "DELETE", "/api/v1/formulas/f1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunFormula(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=10;b=20;c=[a]+[b]"})

	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"no body", nil, "30"},
		{"empty params", RunRequest{}, "30"},
		{"override input", RunRequest{Params: map[string]string{"a": "1"}}, "21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, "POST", "/api/v1/formulas/f1/run", tt.body)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, RunResponse{ID: "f1", Value: tt.want}, decode[RunResponse](t, w))
		})
	}
}

func TestRunFormula_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "cyc", Text: "a=[b];b=[a]"})
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "div", Text: "a=0;b=1/[a]"})
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "in", Text: "b=[x]+1"})

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"not found", "/api/v1/formulas/nope/run", nil, http.StatusNotFound, "NotFoundError"},
		{"cycle", "/api/v1/formulas/cyc/run", nil, http.StatusConflict, "CycleError"},
		{"division by zero", "/api/v1/formulas/div/run", nil, http.StatusUnprocessableEntity, "EvaluationError"},
		{"unbound input", "/api/v1/formulas/in/run", nil, http.StatusUnprocessableEntity, "EvaluationError"},
		{"non-numeric param", "/api/v1/formulas/in/run", RunRequest{Params: map[string]string{"x": "ten"}}, http.StatusUnprocessableEntity, "EvaluationError"},
		{"malformed body", "/api/v1/formulas/in/run", `{"params":`, http.StatusBadRequest, httputil.KindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, "POST", tt.path, tt.body)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, decode[httputil.ErrorResponse](t, w).Kind)
		})
	}
}

func TestRunFormula_CycleDetails(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "cyc", Text: "a=[b];b=[a]"})

	w := do(t, s, "POST", "/api/v1/formulas/cyc/run", nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "a -> b -> a", decode[httputil.ErrorResponse](t, w).Details["cycle"])
}

func TestCalculate(t *testing.T) {
	s, eng := newTestServer(t)

	w := do(t, s, "POST", "/api/v1/formulas/calculate", CalculateRequest{
		Text:   "a=10;b=20;f=avg([a],[b],4)+1",
		Params: map[string]string{},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RunResponse](t, w)
	assert.Equal(t, engine.FormatValue((10.0+20+4)/3+1), resp.Value)

	_, err := eng.Get(context.Background(), resp.ID)
	assert.NoError(t, err)
}

func TestCalculate_Output(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "POST", "/api/v1/formulas/calculate", CalculateRequest{
		Text:   "a=[x]*2;b=[a]+1",
		Params: map[string]string{"x": "4"},
		Output: "a",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "8", decode[RunResponse](t, w).Value)
}

func TestCalculate_ParseError(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "POST", "/api/v1/formulas/calculate", CalculateRequest{Text: "=1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ParseError", decode[httputil.ErrorResponse](t, w).Kind)
}

func TestGetTree(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=10;c=[a]+5"})

	w := do(t, s, "GET", "/api/v1/formulas/f1/tree", nil)

	require.Equal(t, http.StatusOK, w.Code)
	tree := decode[formula.FormulaTree](t, w)
	require.Len(t, tree.Nodes, 2)
	assert.Equal(t, "c", tree.Nodes[0].Key)
	assert.Equal(t, "[a]+5", tree.Nodes[0].Formula)
	require.Len(t, tree.Relations, 1)
	assert.Equal(t, "0", tree.Relations[0].SourceIndex)
	assert.Equal(t, "1", tree.Relations[0].TargetIndex)

	w = do(t, s, "GET", "/api/v1/formulas/nope/tree", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckCycle(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "cyc", Text: "a=[b];b=[a]"})
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "ok", Text: "a=1;b=[a]"})

	w := do(t, s, "GET", "/api/v1/formulas/cyc/cycle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CycleResponse{ID: "cyc", HasCycle: true}, decode[CycleResponse](t, w))

	w = do(t, s, "GET", "/api/v1/formulas/ok/cycle", nil)
	assert.Equal(t, CycleResponse{ID: "ok", HasCycle: false}, decode[CycleResponse](t, w))

	w = do(t, s, "GET", "/api/v1/formulas/nope/cycle", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDependencyRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=10;c=[a]+5"})

	w := do(t, s, "GET", "/api/v1/formulas/f1/layers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, "GET", "/api/v1/formulas/f1/nodes/c/dependencies", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocsRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, "GET", "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/formulas/calculate")

	w = do(t, s, "GET", "/api-docs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingStore struct {
	*storage.MemoryStore
}

func (f failingStore) Get(ctx context.Context, id string) (*formula.Set, error) {
	return nil, &formula.StoreError{Op: "get", FormulaID: id, Err: errors.New("connection refused")}
}

func TestStoreErrorIsUnavailable(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &logs)
	s := NewServer(engine.New(failingStore{storage.NewMemoryStore()}), WithLogger(logger))

	w := do(t, s, "GET", "/api/v1/formulas/f1", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "StoreError", decode[httputil.ErrorResponse](t, w).Kind)
	assert.Contains(t, logs.String(), "connection refused")
}

func TestMiddlewareStack(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s, _ := newTestServer(t, WithMetrics(metrics), WithCORS("*"))
	do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=1"})

	req := httptest.NewRequest("POST", "/api/v1/formulas/f1/run", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))
	assert.Equal(t, "https://ui.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/formulas/{id}/run", "200")))
}

func TestMaxBodyBytes(t *testing.T) {
	s, _ := newTestServer(t, WithMaxBodyBytes(16))

	w := do(t, s, "POST", "/api/v1/formulas", CreateFormulaRequest{ID: "f1", Text: "a=1;b=2;c=3;d=4;e=5"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
