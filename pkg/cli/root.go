package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// DefaultServer is the API address remote commands use when -server is not given
const DefaultServer = "http://localhost:8080"

// ServerEnvVar overrides DefaultServer
const ServerEnvVar = "LIGHTINGBI_SERVER"

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Streams carries the writers commands print to
type Streams struct {
	Out io.Writer
	Err io.Writer
}

// NewRootCommand creates the root command. A nil writer defaults to
// os.Stdout or os.Stderr.
func NewRootCommand(streams Streams) *Command {
	if streams.Out == nil {
		streams.Out = os.Stdout
	}
	if streams.Err == nil {
		streams.Err = os.Stderr
	}

	root := &Command{
		Name:        "formulactl",
		Description: "formulactl - define, check and evaluate formula sets",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("formulactl", flag.ContinueOnError),
	}

	// local
	root.add(newCalcCommand(streams))
	root.add(newCheckCommand(streams))

	// remote
	root.add(newPushCommand(streams))
	root.add(newRunCommand(streams))
	root.add(newGetCommand(streams))
	root.add(newTreeCommand(streams))
	root.add(newCycleCommand(streams))
	root.add(newDeleteCommand(streams))
	root.add(newListCommand(streams))

	root.Run = func(ctx context.Context, args []string) error {
		return root.usage(streams.Out)
	}
	return root
}

func (c *Command) add(sub *Command) {
	c.Subcommands[sub.Name] = sub
}

// Execute dispatches args to the matching subcommand
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.Run(ctx, nil)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) error {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newFlagSet returns a flag set that reports errors instead of exiting
func newFlagSet(name string, streams Streams) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(streams.Err)
	return fs
}

func serverDefault() string {
	if s := os.Getenv(ServerEnvVar); s != "" {
		return s
	}
	return DefaultServer
}
