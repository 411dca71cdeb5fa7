// Command jsondb is a CLI for inspecting and editing jsondb database
// files: single-statement reads and writes, secondary-index rebuilds,
// and an interactive REPL.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jsondb/jsondb/internal/config"
	"github.com/jsondb/jsondb/pkg/jsondb"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(run(os.Stdout, os.Stderr, os.Args, sigCh))
}

func run(out, errOut *os.File, args []string, sigCh <-chan os.Signal) int {
	global := flag.NewFlagSet("jsondb", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() {}
	global.SetOutput(&strings.Builder{})

	flagHelp := global.BoolP("help", "h", false, "Show help")
	flagDB := global.StringP("db", "d", "", "Database file path (required for all commands but help)")
	flagConfig := global.StringP("config", "c", "", "Use specified config file")
	flagKeyHex := global.String("key-hex", "", "Hex-encoded 32-byte encryption key, overrides config")

	if err := global.Parse(args[1:]); err != nil {
		o := newStdio(out, errOut)
		o.ErrPrintln("error:", err)
		printGlobalUsage(o)

		return 1
	}

	commandAndArgs := global.Args()
	o := newStdio(out, errOut)

	if *flagHelp || len(commandAndArgs) == 0 {
		printGlobalUsage(o)
		return 0
	}

	cmdName := commandAndArgs[0]
	cmdArgs := commandAndArgs[1:]

	commands := allCommands()

	cmd, ok := commandByName(commands, cmdName)
	if !ok {
		o.ErrPrintln("error: unknown command:", cmdName)
		printGlobalUsage(o)

		return 1
	}

	if *flagDB == "" {
		o.ErrPrintln("error: --db is required")
		return 1
	}

	cfg, err := config.Load(filepath.Dir(*flagDB), *flagConfig)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	if *flagKeyHex != "" {
		cfg.KeyHex = *flagKeyHex
	}

	opts, err := cfg.ToOptions()
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &cmdEnv{dbPath: *flagDB, opts: opts}

	done := make(chan int, 1)

	go func() { done <- cmd.Run(ctx, o, env, cmdArgs) }()

	select {
	case code := <-done:
		return code
	case <-sigCh:
		o.ErrPrintln("shutting down...")
		cancel()
	}

	select {
	case <-done:
		return 130
	case <-time.After(5 * time.Second):
		o.ErrPrintln("graceful shutdown timed out, forced exit (130)")
		return 130
	}
}

// cmdEnv carries the resolved database path and options from global
// flags and config down to a command's Exec.
type cmdEnv struct {
	dbPath string
	opts   jsondb.Options
}

func commandByName(cmds []*command, name string) (*command, bool) {
	for _, c := range cmds {
		if c.Name() == name {
			return c, true
		}
	}

	return nil, false
}

const globalUsageHelp = `Usage: jsondb [global flags] <command> [args]

Global flags:
  -h, --help             Show help
  -d, --db <file>        Database file path (required for all commands but help)
  -c, --config <file>    Use specified config file
  --key-hex <hex>        Hex-encoded 32-byte encryption key, overrides config

Commands:`

func printGlobalUsage(o *stdio) {
	o.Println(globalUsageHelp)

	for _, c := range allCommands() {
		o.Println(c.HelpLine())
	}
}
