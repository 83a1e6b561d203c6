package api

// CreateFormulaRequest is the body of POST /api/v1/formulas
type CreateFormulaRequest struct {
	ID     string `json:"id,omitempty" validate:"omitempty,max=255"`
	Text   string `json:"text" validate:"required"`
	Output string `json:"output,omitempty" validate:"omitempty,max=255"`
}

// CreateFormulaResponse is returned after a successful save
type CreateFormulaResponse struct {
	ID string `json:"id"`
}

// RunRequest is the body of POST /api/v1/formulas/{id}/run. An empty body
// runs without params.
type RunRequest struct {
	Params map[string]string `json:"params,omitempty"`
}

// CalculateRequest is the body of POST /api/v1/formulas/calculate
type CalculateRequest struct {
	Text   string            `json:"text" validate:"required"`
	Params map[string]string `json:"params,omitempty"`
	Output string            `json:"output,omitempty" validate:"omitempty,max=255"`
}

// RunResponse carries the formatted result of an evaluation
type RunResponse struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// CycleResponse reports whether a stored set is cyclic
type CycleResponse struct {
	ID       string `json:"id"`
	HasCycle bool   `json:"has_cycle"`
}

// ListResponse lists the stored formula ids
type ListResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}
