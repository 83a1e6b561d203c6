package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Func is the implementation of a variadic numeric function
type Func func(args []float64) (float64, error)

// Function is a registered function with its accepted arity.
// MaxArgs < 0 means unbounded.
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      Func
}

// Call checks arity and invokes the function
func (f *Function) Call(args []float64) (float64, error) {
	if len(args) < f.MinArgs || (f.MaxArgs >= 0 && len(args) > f.MaxArgs) {
		return 0, fmt.Errorf("%w: got %d, %s", ErrArity, len(args), f.arity())
	}
	return f.Fn(args)
}

func (f *Function) arity() string {
	switch {
	case f.MaxArgs < 0:
		return fmt.Sprintf("want at least %d", f.MinArgs)
	case f.MinArgs == f.MaxArgs:
		return fmt.Sprintf("want %d", f.MinArgs)
	default:
		return fmt.Sprintf("want %d to %d", f.MinArgs, f.MaxArgs)
	}
}

// Registry holds the functions available to expressions. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Function
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]*Function)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry of built-in functions
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewBuiltinRegistry()
	})
	return defaultRegistry
}

// NewBuiltinRegistry creates a registry pre-populated with the built-in
// functions. Use it instead of DefaultRegistry when registering extras.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register("avg", 1, -1, avg)
	r.Register("sum", 1, -1, sum)
	r.Register("min", 1, -1, minOf)
	r.Register("max", 1, -1, maxOf)
	r.Register("count", 0, -1, count)
	r.Register("abs", 1, 1, abs)
	r.Register("round", 1, 2, round)
	return r
}

// Register adds or replaces a function
func (r *Registry) Register(name string, minArgs, maxArgs int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(name)
	r.functions[key] = &Function{Name: key, MinArgs: minArgs, MaxArgs: maxArgs, Fn: fn}
}

// Lookup finds a function by name
func (r *Registry) Lookup(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[strings.ToLower(name)]
	return fn, ok
}

// Names returns the registered function names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func avg(args []float64) (float64, error) {
	total, _ := sum(args)
	return total / float64(len(args)), nil
}

func sum(args []float64) (float64, error) {
	var total float64
	for _, v := range args {
		total += v
	}
	return total, nil
}

func minOf(args []float64) (float64, error) {
	m := args[0]
	for _, v := range args[1:] {
		if v < m {
			m = v
		}
	}
	return m, nil
}

func maxOf(args []float64) (float64, error) {
	m := args[0]
	for _, v := range args[1:] {
		if v > m {
			m = v
		}
	}
	return m, nil
}

func count(args []float64) (float64, error) {
	return float64(len(args)), nil
}

func abs(args []float64) (float64, error) {
	return math.Abs(args[0]), nil
}

func round(args []float64) (float64, error) {
	if len(args) == 1 {
		return math.Round(args[0]), nil
	}
	digits := args[1]
	if digits != math.Trunc(digits) {
		return 0, fmt.Errorf("digits must be an integer, got %v", digits)
	}
	scale := math.Pow(10, digits)
	return math.Round(args[0]*scale) / scale, nil
}
