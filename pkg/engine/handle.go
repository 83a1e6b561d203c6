package engine

import (
	"context"

	"github.com/nauu/lightingbi/pkg/formula"
)

// Handle builds a formula set statement by statement. Vals and Output only
// touch the in-memory buffer; Save and Run talk to the store.
type Handle struct {
	engine     *Engine
	id         string
	statements []string
	output     string
}

// ID returns the formula id
func (h *Handle) ID() string {
	return h.id
}

// Vals appends a statement, or several joined with ';'
func (h *Handle) Vals(statement string) *Handle {
	h.statements = append(h.statements, statement)
	return h
}

// Output designates the node Run evaluates
func (h *Handle) Output(name string) *Handle {
	h.output = name
	return h
}

// Text returns the buffered source text
func (h *Handle) Text() string {
	return formula.Format(h.statements)
}

// Save parses the buffer and replaces the stored definition
func (h *Handle) Save(ctx context.Context) error {
	return h.engine.save(ctx, h.id, h.Text(), h.output)
}

// Run evaluates the stored definition
func (h *Handle) Run(ctx context.Context, params map[string]string) (string, error) {
	return h.engine.Run(ctx, h.id, params)
}
