package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/httputil"
	"github.com/nauu/lightingbi/pkg/observability"
)

// createFormula handles POST /api/v1/formulas
func (s *Server) createFormula(w http.ResponseWriter, r *http.Request) {
	var req CreateFormulaRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	h, err := s.engine.FormulaFormat(r.Context(), req.Text, req.ID, engine.WithOutput(req.Output))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusCreated, CreateFormulaResponse{ID: h.ID()}, "encode response")
}

// listFormulas handles GET /api/v1/formulas
func (s *Server) listFormulas(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.WriteJSONOrError(w, http.StatusOK, ListResponse{IDs: ids, Count: len(ids)}, "encode response")
}

// getFormula handles GET /api/v1/formulas/{id}
func (s *Server) getFormula(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	set, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, set, "encode formula set")
}

// deleteFormula handles DELETE /api/v1/formulas/{id}
func (s *Server) deleteFormula(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.engine.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// runFormula handles POST /api/v1/formulas/{id}/run
func (s *Server) runFormula(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req RunRequest
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	value, err := s.engine.Run(r.Context(), id, req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, RunResponse{ID: id, Value: value}, "encode response")
}

// calculate handles POST /api/v1/formulas/calculate
func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	id, value, err := s.engine.Calculate(r.Context(), req.Text, req.Params, engine.WithOutput(req.Output))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, RunResponse{ID: id, Value: value}, "encode response")
}

// getTree handles GET /api/v1/formulas/{id}/tree
func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	tree, err := s.engine.Tree(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, tree, "encode tree")
}

// checkCycle handles GET /api/v1/formulas/{id}/cycle
func (s *Server) checkCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	cyclic, err := s.engine.CheckCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, CycleResponse{ID: id, HasCycle: cyclic}, "encode response")
}

// writeError maps err to its status and logs server-side failures
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := formula.ErrorKind(err)
	if httputil.StatusForKind(kind) >= http.StatusInternalServerError {
		entry := s.logger.WithError(err).WithFields(map[string]interface{}{
			"kind": kind,
			"path": r.URL.Path,
		})
		if id := observability.GetRequestID(r.Context()); id != "" {
			entry = entry.WithField("request_id", id)
		}
		entry.Error("request failed")
	}

	var cerr *formula.CycleError
	if errors.As(err, &cerr) && len(cerr.Path) > 0 {
		httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]string{
			"cycle": strings.Join(cerr.Path, " -> "),
		})
		return
	}
	httputil.WriteError(w, err)
}
