package expr

import (
	"sort"
)

// Program is a compiled expression
type Program struct {
	source string
	root   Node
	refs   []string
}

// Compile tokenizes and parses src
func Compile(src string) (*Program, error) {
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}

	root, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	refs := make([]string, 0)
	for _, tok := range tokens {
		if tok.Type == TokenRef && !seen[tok.Value] {
			seen[tok.Value] = true
			refs = append(refs, tok.Value)
		}
	}
	sort.Strings(refs)

	return &Program{source: src, root: root, refs: refs}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and constants.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval evaluates the program against env. A nil registry selects the built-in functions.
func (p *Program) Eval(env map[string]float64, fns *Registry) (float64, error) {
	if fns == nil {
		fns = DefaultRegistry()
	}
	return p.root.Eval(env, fns)
}

// Refs returns the distinct reference names used by the program, sorted
func (p *Program) Refs() []string {
	out := make([]string, len(p.refs))
	copy(out, p.refs)
	return out
}

// Source returns the original expression text
func (p *Program) Source() string {
	return p.source
}

// String returns the fully parenthesized form of the AST
func (p *Program) String() string {
	return p.root.String()
}

// Eval compiles and evaluates src in one step using the built-in functions
func Eval(src string, env map[string]float64) (float64, error) {
	p, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return p.Eval(env, nil)
}
