package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/nauu/lightingbi/pkg/api"
)

// remoteFlags registers the flags every remote command shares
func remoteFlags(fs *flag.FlagSet, needID bool) (server, id *string) {
	server = fs.String("server", serverDefault(), "API server URL (or "+ServerEnvVar+")")
	if needID {
		id = fs.String("id", "", "Formula set id")
	}
	return server, id
}

func requireID(id *string) error {
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPushCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "push",
		Description: "Define formula sets on the server",
		Flags:       newFlagSet("push", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)
	text := cmd.Flags.String("text", "", "Formula text")
	file := cmd.Flags.String("file", "", "File holding formula text or YAML definitions")
	output := cmd.Flags.String("output", "", "Node Run evaluates")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		sources, err := readSources(*text, *file, *id, *output)
		if err != nil {
			return err
		}

		client := NewClient(*server)
		for _, src := range sources {
			pushed, err := client.Create(ctx, api.CreateFormulaRequest{ID: src.id, Text: src.text, Output: src.output})
			if err != nil {
				return fmt.Errorf("failed to push %q: %w", src.id, err)
			}
			fmt.Fprintln(streams.Out, pushed)
		}
		return nil
	}
	return cmd
}

func newRunCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "run",
		Description: "Evaluate a stored formula set, or -text under a fresh id",
		Flags:       newFlagSet("run", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)
	text := cmd.Flags.String("text", "", "Formula text to define and evaluate in one call")
	output := cmd.Flags.String("output", "", "Node to evaluate with -text")
	params := paramsFlag{}
	cmd.Flags.Var(params, "param", "Input value as name=value (repeatable)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		client := NewClient(*server)
		if *text != "" {
			resp, err := client.Calculate(ctx, api.CalculateRequest{Text: *text, Params: params, Output: *output})
			if err != nil {
				return err
			}
			fmt.Fprintf(streams.Err, "id: %s\n", resp.ID)
			fmt.Fprintln(streams.Out, resp.Value)
			return nil
		}

		if err := requireID(id); err != nil {
			return err
		}
		value, err := client.Run(ctx, *id, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(streams.Out, value)
		return nil
	}
	return cmd
}

func newGetCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Print a stored formula set",
		Flags:       newFlagSet("get", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := requireID(id); err != nil {
			return err
		}

		set, err := NewClient(*server).Get(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(streams.Out, set)
	}
	return cmd
}

func newTreeCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "tree",
		Description: "Print the node/relation tree of a stored formula set",
		Flags:       newFlagSet("tree", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := requireID(id); err != nil {
			return err
		}

		tree, err := NewClient(*server).Tree(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(streams.Out, tree)
	}
	return cmd
}

func newCycleCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "cycle",
		Description: "Report whether a stored formula set is cyclic",
		Flags:       newFlagSet("cycle", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := requireID(id); err != nil {
			return err
		}

		cyclic, err := NewClient(*server).CheckCycle(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintln(streams.Out, cyclic)
		return nil
	}
	return cmd
}

func newDeleteCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "delete",
		Description: "Delete a stored formula set",
		Flags:       newFlagSet("delete", streams),
	}

	server, id := remoteFlags(cmd.Flags, true)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := requireID(id); err != nil {
			return err
		}

		if err := NewClient(*server).Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(streams.Out, "deleted %s\n", *id)
		return nil
	}
	return cmd
}

func newListCommand(streams Streams) *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List stored formula set ids",
		Flags:       newFlagSet("list", streams),
	}

	server, _ := remoteFlags(cmd.Flags, false)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ids, err := NewClient(*server).List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(streams.Out, id)
		}
		return nil
	}
	return cmd
}
