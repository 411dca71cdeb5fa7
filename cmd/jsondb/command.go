package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// command defines one CLI subcommand with unified help generation. Exec
// receives the database path and options resolved from global flags and
// config, and opens (and closes) the engine itself: a one-shot command
// closes it after one operation, the REPL keeps it open for the session.
type command struct {
	Flags *flag.FlagSet
	Usage string
	Short string
	Exec  func(ctx context.Context, o *stdio, env *cmdEnv, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

func (c *command) PrintHelp(o *stdio) {
	o.Println("Usage: jsondb", c.Usage)
	o.Println()
	o.Println(c.Short)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns the process exit
// code.
func (c *command) Run(ctx context.Context, o *stdio, env *cmdEnv, args []string) int {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return 0
		}

		o.ErrPrintln("error:", err)

		return 1
	}

	if err := c.Exec(ctx, o, env, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	return 0
}

// stdio is a minimal two-stream writer, trimmed from the ticket tool's
// IO type down to what a one-shot CLI invocation needs.
type stdio struct {
	out    io.Writer
	errOut io.Writer
}

func newStdio(out, errOut io.Writer) *stdio { return &stdio{out: out, errOut: errOut} }

func (o *stdio) Println(a ...any) { _, _ = fmt.Fprintln(o.out, a...) }

func (o *stdio) Printf(format string, a ...any) { _, _ = fmt.Fprintf(o.out, format, a...) }

func (o *stdio) ErrPrintln(a ...any) { _, _ = fmt.Fprintln(o.errOut, a...) }
