package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nauu/lightingbi/pkg/loader"
)

// paramsFlag collects repeated -param name=value flags
type paramsFlag map[string]string

func (p paramsFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ",")
}

func (p paramsFlag) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("param must be name=value, got %q", value)
	}
	p[name] = strings.TrimSpace(val)
	return nil
}

// source is formula text plus its designated output
type source struct {
	id     string
	text   string
	output string
}

// readSources resolves the -text and -file flags. A YAML file yields one
// source per definition, narrowed to id when id is set. Any other file is
// read as formula text.
func readSources(text, file, id, output string) ([]source, error) {
	switch {
	case text != "" && file != "":
		return nil, fmt.Errorf("-text and -file are mutually exclusive")
	case text != "":
		return []source{{id: id, text: text, output: output}}, nil
	case file == "":
		return nil, fmt.Errorf("one of -text or -file is required")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if !loader.IsFormulaFile(file) {
		return []source{{id: id, text: strings.TrimSpace(string(data)), output: output}}, nil
	}

	f, err := loader.ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	var out []source
	for _, d := range f.Formulas {
		if id != "" && d.ID != id {
			continue
		}
		out = append(out, source{id: d.ID, text: d.Source(), output: d.Output})
	}
	if len(out) == 0 {
		if id != "" {
			return nil, fmt.Errorf("%s: no formula with id %q", file, id)
		}
		return nil, fmt.Errorf("%s: no formulas defined", file)
	}
	return out, nil
}
