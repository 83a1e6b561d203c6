package dependencies

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/httputil"
)

// SetLoader loads a stored formula set
type SetLoader interface {
	Get(ctx context.Context, formulaID string) (*formula.Set, error)
}

// DependencyHandlers provides HTTP handlers for graph analysis of stored formula sets
type DependencyHandlers struct {
	loader SetLoader
}

// NewDependencyHandlers creates new dependency handlers
func NewDependencyHandlers(loader SetLoader) *DependencyHandlers {
	return &DependencyHandlers{loader: loader}
}

// RegisterRoutes registers dependency routes
func (h *DependencyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/formulas/{id}/graph", h.getCytoscapeGraph).Methods("GET")
	router.HandleFunc("/formulas/{id}/layers", h.getLayers).Methods("GET")
	router.HandleFunc("/formulas/{id}/nodes/{node}/dependencies", h.getDependencies).Methods("GET")
	router.HandleFunc("/formulas/{id}/nodes/{node}/impact", h.getImpact).Methods("GET")
}

func (h *DependencyHandlers) load(w http.ResponseWriter, r *http.Request) (*DependencyGraph, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}

	set, err := h.loader.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return FromSet(set), true
}

func (h *DependencyHandlers) loadNode(w http.ResponseWriter, r *http.Request) (*DependencyGraph, string, bool) {
	graph, ok := h.load(w, r)
	if !ok {
		return nil, "", false
	}
	node := mux.Vars(r)["node"]
	if graph.GetNode(node) == nil {
		httputil.WriteNotFoundError(w, "node "+node+" not found")
		return nil, "", false
	}
	return graph, node, true
}

// getCytoscapeGraph handles GET /formulas/{id}/graph
func (h *DependencyHandlers) getCytoscapeGraph(w http.ResponseWriter, r *http.Request) {
	graph, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, graph.BuildCytoscapeGraph(), "encode graph")
}

// getLayers handles GET /formulas/{id}/layers
func (h *DependencyHandlers) getLayers(w http.ResponseWriter, r *http.Request) {
	graph, ok := h.load(w, r)
	if !ok {
		return
	}

	layers, err := graph.Layers()
	if err != nil {
		cycle, _ := graph.DetectCircularDependencies()
		httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]string{
			"cycle": formatChain(cycle),
		})
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"formula_id": graph.FormulaID(),
		"layers":     layers,
		"count":      len(layers),
	}, "encode layers")
}

// getDependencies handles GET /formulas/{id}/nodes/{node}/dependencies
func (h *DependencyHandlers) getDependencies(w http.ResponseWriter, r *http.Request) {
	graph, node, ok := h.loadNode(w, r)
	if !ok {
		return
	}

	transitive, err := httputil.ParseQueryBool(r, "transitive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	deps := graph.GetDependencies(node)
	if transitive {
		deps = graph.GetTransitiveDependencies(node)
	}

	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"formula_id":   graph.FormulaID(),
		"node":         node,
		"dependencies": deps,
		"count":        len(deps),
	}, "encode dependencies")
}

// getImpact handles GET /formulas/{id}/nodes/{node}/impact
func (h *DependencyHandlers) getImpact(w http.ResponseWriter, r *http.Request) {
	graph, node, ok := h.loadNode(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, graph.GetImpactAnalysis(node), "encode impact")
}

func formatChain(chain []string) string {
	return strings.Join(chain, " -> ")
}
