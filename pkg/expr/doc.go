// Package expr implements the arithmetic expression language used by formula
// definitions.
//
// # Overview
//
// An expression is compiled once into a small AST and can then be evaluated any
// number of times against an environment that maps reference names to values.
//
//	prog, err := expr.Compile("avg([a], [b], 4) + 1")
//	if err != nil {
//		return err
//	}
//	v, err := prog.Eval(map[string]float64{"a": 10, "b": 20}, nil)
//
// # Grammar
//
//	expr    := term (('+' | '-') term)*
//	term    := power (('*' | '/' | '%') power)*
//	power   := unary ('^' power)?
//	unary   := ('+' | '-') unary | primary
//	primary := number | '[' word ']' | ident '(' args? ')' | '(' expr ')'
//
// References are written as [name] and are resolved by exact lookup, never by
// textual substitution. Bare identifiers are only valid as function names.
//
// # Functions
//
// The default registry provides avg, sum, min, max, count, abs and round.
// Callers can extend a registry with Register.
package expr
