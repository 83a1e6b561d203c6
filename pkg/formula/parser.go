package formula

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nauu/lightingbi/pkg/expr"
)

const statementSeparator = ";"

var (
	namePattern      = regexp.MustCompile(`^\w+$`)
	referencePattern = regexp.MustCompile(`\[(\w+)\]`)
)

// Parse converts formula text into a Set. Empty statements are skipped, so a
// trailing separator is allowed. Nothing is persisted.
func Parse(formulaID, text string) (*Set, error) {
	return ParseWithOutput(formulaID, text, "")
}

// ParseWithOutput is Parse with a designated output node. A non-empty output
// must name a defined statement.
func ParseWithOutput(formulaID, text, output string) (*Set, error) {
	set := &Set{
		ID:        formulaID,
		Source:    text,
		Output:    strings.TrimSpace(output),
		Nodes:     make([]Node, 0),
		Edges:     make([]Edge, 0),
		UpdatedAt: time.Now().UTC(),
	}

	defined := make(map[string]bool)
	referenced := make(map[string]bool)

	for i, raw := range strings.Split(text, statementSeparator) {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}

		name, expression, err := splitStatement(i, stmt)
		if err != nil {
			return nil, err
		}
		if defined[name] {
			return nil, &ParseError{
				Kind:      DuplicateName,
				Index:     i,
				Statement: stmt,
				Err:       fmt.Errorf("%s is already defined", name),
			}
		}
		if _, err := expr.Compile(expression); err != nil {
			return nil, &ParseError{Kind: InvalidExpression, Index: i, Statement: stmt, Err: err}
		}

		defined[name] = true
		set.Nodes = append(set.Nodes, Node{
			Name:       name,
			Expression: expression,
			Type:       NodeTypeFormula,
			FormulaID:  formulaID,
		})

		for _, dep := range References(expression) {
			referenced[dep] = true
			set.Edges = append(set.Edges, Edge{
				FormulaID:  formulaID,
				Dependent:  name,
				Dependency: dep,
			})
		}
	}

	for name := range referenced {
		if !defined[name] {
			set.Nodes = append(set.Nodes, Node{
				Name:      name,
				Type:      NodeTypeInput,
				FormulaID: formulaID,
			})
		}
	}

	if set.Output != "" && !defined[set.Output] {
		return nil, &ParseError{
			Kind:  UnknownOutput,
			Index: -1,
			Err:   fmt.Errorf("output %q is not a defined formula", set.Output),
		}
	}

	set.Canonicalize()
	return set, nil
}

// splitStatement splits on the first '=' and validates both sides
func splitStatement(index int, stmt string) (string, string, error) {
	idx := strings.Index(stmt, "=")
	if idx < 0 {
		return "", "", &ParseError{
			Kind:      MissingAssignment,
			Index:     index,
			Statement: stmt,
			Err:       fmt.Errorf("expected name=expression"),
		}
	}

	name := strings.TrimSpace(stmt[:idx])
	expression := stmt[idx+1:]

	if name == "" {
		return "", "", &ParseError{
			Kind:      MissingAssignment,
			Index:     index,
			Statement: stmt,
			Err:       fmt.Errorf("missing name before '='"),
		}
	}
	if !namePattern.MatchString(name) {
		return "", "", &ParseError{
			Kind:      InvalidName,
			Index:     index,
			Statement: stmt,
			Err:       fmt.Errorf("name %q must contain only letters, digits and underscores", name),
		}
	}
	if strings.TrimSpace(expression) == "" {
		return "", "", &ParseError{
			Kind:      InvalidExpression,
			Index:     index,
			Statement: stmt,
			Err:       fmt.Errorf("empty expression for %s", name),
		}
	}
	return name, expression, nil
}

// References returns the distinct names referenced as [name] in an expression,
// in order of first appearance.
func References(expression string) []string {
	matches := referencePattern.FindAllStringSubmatch(expression, -1)
	seen := make(map[string]bool, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// Format joins statements with the statement separator
func Format(statements []string) string {
	return strings.Join(statements, statementSeparator)
}
