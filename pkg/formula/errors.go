package formula

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse matches every *ParseError
	ErrParse = errors.New("formula parse error")
	// ErrCycle matches every *CycleError
	ErrCycle = errors.New("circular dependency detected")
	// ErrNotFound matches every *NotFoundError
	ErrNotFound = errors.New("formula not found")
	// ErrEvaluation matches every *EvaluationError
	ErrEvaluation = errors.New("formula evaluation failed")
	// ErrStore matches every *StoreError
	ErrStore = errors.New("formula store failure")

	// ErrNoRoot is wrapped by EvaluationError when the output node cannot be determined
	ErrNoRoot = errors.New("cannot determine output node")
	// ErrUnboundInput is wrapped by EvaluationError when an input node has no param value
	ErrUnboundInput = errors.New("input has no value")
	// ErrInvalidParam is wrapped by EvaluationError when a param is not numeric
	ErrInvalidParam = errors.New("param is not a number")
)

// ParseErrorKind classifies parse failures
type ParseErrorKind string

const (
	MissingAssignment ParseErrorKind = "MissingAssignment"
	InvalidName       ParseErrorKind = "InvalidName"
	DuplicateName     ParseErrorKind = "DuplicateName"
	InvalidExpression ParseErrorKind = "InvalidExpression"
	UnknownOutput     ParseErrorKind = "UnknownOutput"
)

// ParseError reports a malformed statement. Index is the 0-based statement
// position, or -1 when the error is not tied to a statement.
type ParseError struct {
	Kind      ParseErrorKind
	Index     int
	Statement string
	Err       error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error (")
	b.WriteString(string(e.Kind))
	b.WriteString(")")
	if e.Index >= 0 {
		fmt.Fprintf(&b, " in statement %d %q", e.Index, e.Statement)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// CycleError reports that a formula set contains a dependency cycle
type CycleError struct {
	FormulaID string
	Path      []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("circular dependency detected in formula %s", e.FormulaID)
	}
	return fmt.Sprintf("circular dependency detected in formula %s: %s", e.FormulaID, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// NotFoundError reports an unknown formula id
type NotFoundError struct {
	FormulaID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("formula %s not found", e.FormulaID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// EvaluationError reports a failure computing a node
type EvaluationError struct {
	FormulaID string
	Node      string
	Err       error
}

func (e *EvaluationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("evaluating formula %s: %v", e.FormulaID, e.Err)
	}
	return fmt.Sprintf("evaluating %s in formula %s: %v", e.Node, e.FormulaID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// StoreError wraps a persistence failure
type StoreError struct {
	Op        string
	FormulaID string
	Err       error
}

func (e *StoreError) Error() string {
	if e.FormulaID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.FormulaID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// ErrorKind returns a short machine-readable name for err's category
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrCycle):
		return "CycleError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrEvaluation):
		return "EvaluationError"
	case errors.Is(err, ErrStore):
		return "StoreError"
	default:
		return "InternalError"
	}
}
