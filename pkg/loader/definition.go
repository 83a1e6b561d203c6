package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nauu/lightingbi/pkg/formula"
)

// File is the YAML document format for formula definitions:
//
//	formulas:
//	  - id: revenue
//	    output: total
//	    text: "a=10;b=20;total=[a]+[b]"
//	  - id: margin
//	    statements:
//	      - profit=[revenue]-[cost]
//	      - margin=[profit]/[revenue]
type File struct {
	Formulas []Definition `yaml:"formulas"`
}

// Definition is one formula set inside a File
type Definition struct {
	ID         string   `yaml:"id"`
	Output     string   `yaml:"output,omitempty"`
	Text       string   `yaml:"text,omitempty"`
	Statements []string `yaml:"statements,omitempty"`
}

// Source returns the formula text, joining Statements when Text is empty
func (d Definition) Source() string {
	if strings.TrimSpace(d.Text) != "" {
		return d.Text
	}
	return formula.Format(d.Statements)
}

// ParseFile decodes and checks a definitions document. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid formula file: %w", err)
	}

	seen := make(map[string]bool, len(f.Formulas))
	for i, d := range f.Formulas {
		switch {
		case d.ID == "":
			return nil, fmt.Errorf("formula %d: id is required", i)
		case seen[d.ID]:
			return nil, fmt.Errorf("formula %d: duplicate id %q", i, d.ID)
		case strings.TrimSpace(d.Source()) == "":
			return nil, fmt.Errorf("formula %q: text or statements is required", d.ID)
		case d.Text != "" && len(d.Statements) > 0:
			return nil, fmt.Errorf("formula %q: text and statements are mutually exclusive", d.ID)
		}
		seen[d.ID] = true
	}
	return &f, nil
}
