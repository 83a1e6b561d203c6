package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Node is an evaluable expression tree node
type Node interface {
	Eval(env map[string]float64, fns *Registry) (float64, error)
	String() string
}

// NumberNode is a numeric literal
type NumberNode struct {
	Value float64
}

func (n *NumberNode) Eval(map[string]float64, *Registry) (float64, error) {
	return n.Value, nil
}

func (n *NumberNode) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// RefNode is a [name] reference to another formula node
type RefNode struct {
	Name string
}

func (n *RefNode) Eval(env map[string]float64, _ *Registry) (float64, error) {
	v, ok := env[n.Name]
	if !ok {
		return 0, fmt.Errorf("%w: [%s]", ErrUnresolvedReference, n.Name)
	}
	return v, nil
}

func (n *RefNode) String() string {
	return "[" + n.Name + "]"
}

// BinaryOp is an infix arithmetic operator
type BinaryOp byte

const (
	OpAdd BinaryOp = '+'
	OpSub BinaryOp = '-'
	OpMul BinaryOp = '*'
	OpDiv BinaryOp = '/'
	OpMod BinaryOp = '%'
	OpPow BinaryOp = '^'
)

// BinaryNode applies an infix operator to two operands
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (n *BinaryNode) Eval(env map[string]float64, fns *Registry) (float64, error) {
	left, err := n.Left.Eval(env, fns)
	if err != nil {
		return 0, err
	}
	right, err := n.Right.Eval(env, fns)
	if err != nil {
		return 0, err
	}

	var result float64
	switch n.Op {
	case OpAdd:
		result = left + right
	case OpSub:
		result = left - right
	case OpMul:
		result = left * right
	case OpDiv:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		result = left / right
	case OpMod:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		result = math.Mod(left, right)
	case OpPow:
		result = math.Pow(left, right)
	default:
		return 0, fmt.Errorf("unsupported operator %q", byte(n.Op))
	}
	return checkFinite(result)
}

func (n *BinaryNode) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

// UnaryNode negates or passes through its operand
type UnaryNode struct {
	Negate  bool
	Operand Node
}

func (n *UnaryNode) Eval(env map[string]float64, fns *Registry) (float64, error) {
	v, err := n.Operand.Eval(env, fns)
	if err != nil {
		return 0, err
	}
	if n.Negate {
		return -v, nil
	}
	return v, nil
}

func (n *UnaryNode) String() string {
	if n.Negate {
		return "-" + n.Operand.String()
	}
	return n.Operand.String()
}

// CallNode is a function call such as avg([a], [b])
type CallNode struct {
	Name string
	Args []Node
}

func (n *CallNode) Eval(env map[string]float64, fns *Registry) (float64, error) {
	if fns == nil {
		fns = DefaultRegistry()
	}
	fn, ok := fns.Lookup(n.Name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, n.Name)
	}

	args := make([]float64, len(n.Args))
	for i, arg := range n.Args {
		v, err := arg.Eval(env, fns)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}

	result, err := fn.Call(args)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", strings.ToLower(n.Name), err)
	}
	return checkFinite(result)
}

func (n *CallNode) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", strings.ToLower(n.Name), strings.Join(args, ", "))
}

func checkFinite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}
