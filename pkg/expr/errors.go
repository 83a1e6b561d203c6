package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedReference is returned when a [name] has no value in the environment.
	ErrUnresolvedReference = errors.New("unresolved reference")
	// ErrDivisionByZero is returned for x/0 and x%0.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrUnknownFunction is returned when a call names a function missing from the registry.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrArity is returned when a function is called with the wrong number of arguments.
	ErrArity = errors.New("wrong number of arguments")
	// ErrNotFinite is returned when an operation produces NaN or an infinity.
	ErrNotFinite = errors.New("result is not a finite number")
)

// SyntaxError describes malformed expression text.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

func syntaxErrorf(pos int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
