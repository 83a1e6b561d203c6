package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nauu/lightingbi/pkg/formula"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

// Error kinds that do not come from the formula taxonomy
const (
	KindBadRequest  = "BadRequest"
	KindNotFound    = "NotFoundError"
	KindUnavailable = "Unavailable"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorKind writes an error body with an explicit kind
func WriteErrorKind(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// WriteError writes err with the status and kind its category maps to
func WriteError(w http.ResponseWriter, err error) {
	kind := formula.ErrorKind(err)
	WriteErrorKind(w, StatusForKind(kind), kind, err.Error())
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind string) int {
	switch kind {
	case "ParseError", KindBadRequest:
		return http.StatusBadRequest
	case "NotFoundError":
		return http.StatusNotFound
	case "CycleError":
		return http.StatusConflict
	case "EvaluationError":
		return http.StatusUnprocessableEntity
	case "StoreError", KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteBadRequest writes a 400 for malformed input
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorKind(w, http.StatusBadRequest, KindBadRequest, message)
}

// WriteNotFoundError writes a 404
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorKind(w, http.StatusNotFound, KindNotFound, message)
}

// WriteInternalError writes a 500
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorKind(w, http.StatusInternalServerError, "InternalError", err.Error())
}

// WriteDetailedError writes err with extra context, such as a cycle path
func WriteDetailedError(w http.ResponseWriter, status int, err error, details map[string]string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Kind:    formula.ErrorKind(err),
		Details: details,
	})
}

// WriteNoContent writes a 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteJSONOrError writes JSON on success or an internal error on failure
func WriteJSONOrError(w http.ResponseWriter, status int, data interface{}, errMsg string) {
	body, err := json.Marshal(data)
	if err != nil {
		WriteInternalError(w, fmt.Errorf("%s: %w", errMsg, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
