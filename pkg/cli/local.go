package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
)

func newCalcCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "calc",
		Description: "Evaluate a formula set locally",
		Flags:       newFlagSet("calc", streams),
	}

	text := cmd.Flags.String("text", "", "Formula text, e.g. \"a=10;b=20;c=[a]+[b]\"")
	file := cmd.Flags.String("file", "", "File holding formula text or YAML definitions")
	id := cmd.Flags.String("id", "", "Definition to evaluate when -file holds several")
	output := cmd.Flags.String("output", "", "Node to evaluate")
	params := paramsFlag{}
	cmd.Flags.Var(params, "param", "Input value as name=value (repeatable)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		sources, err := readSources(*text, *file, *id, *output)
		if err != nil {
			return err
		}
		if len(sources) > 1 {
			return fmt.Errorf("%s defines %d formulas; choose one with -id", *file, len(sources))
		}
		src := sources[0]
		if *output != "" {
			src.output = *output
		}

		eng := engine.New(storage.NewMemoryStore())
		_, value, err := eng.Calculate(ctx, src.text, params, engine.WithOutput(src.output))
		if err != nil {
			return err
		}
		fmt.Fprintln(streams.Out, value)
		return nil
	}
	return cmd
}

func newCheckCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Parse formula sets and report dependency cycles",
		Flags:       newFlagSet("check", streams),
	}

	text := cmd.Flags.String("text", "", "Formula text")
	file := cmd.Flags.String("file", "", "File holding formula text or YAML definitions")
	id := cmd.Flags.String("id", "", "Only check this definition")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		sources, err := readSources(*text, *file, *id, "")
		if err != nil {
			return err
		}

		store := storage.NewMemoryStore()
		detector := engine.NewCycleDetector(store, nil)
		failed := 0
		for i, src := range sources {
			name := src.id
			if name == "" {
				name = fmt.Sprintf("formula-%d", i+1)
			}

			set, err := formula.ParseWithOutput(name, src.text, src.output)
			if err == nil {
				err = store.Replace(ctx, set)
			}
			if err == nil {
				err = detector.Require(ctx, name)
			}

			var cerr *formula.CycleError
			switch {
			case errors.As(err, &cerr):
				failed++
				fmt.Fprintf(streams.Out, "%s: cycle %s\n", name, strings.Join(cerr.Path, " -> "))
			case err != nil:
				failed++
				fmt.Fprintf(streams.Out, "%s: %v\n", name, err)
			default:
				fmt.Fprintf(streams.Out, "%s: ok (%d nodes, %d edges)\n", name, len(set.Nodes), len(set.Edges))
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d formula sets failed", failed, len(sources))
		}
		return nil
	}
	return cmd
}
