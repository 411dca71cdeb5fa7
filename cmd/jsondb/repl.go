package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/jsondb/jsondb/pkg/codec"
	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/jsondb"
	"github.com/jsondb/jsondb/pkg/query"
)

func replCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Start an interactive session against the database",
		Exec: func(ctx context.Context, o *stdio, env *cmdEnv, args []string) error {
			if len(args) != 0 {
				return errWrongArgCount
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			r := &repl{engine: e, out: o}

			return r.run(ctx)
		},
	}
}

// repl is the interactive command loop, grounded on the slotcache CLI's
// liner-based REPL: same history file, completer, and exit conventions.
type repl struct {
	engine *jsondb.Engine
	out    *stdio
	liner  *liner.State
}

func replHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".jsondb_history")
}

var replCommands = []string{
	"get", "set", "delete", "del", "has", "find",
	"push", "pull", "add", "reindex", "help", "exit", "quit", "q",
}

func (r *repl) run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(replHistoryFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	r.out.Println("jsondb - interactive session. Type 'help' for commands.")

	for {
		line, err := r.liner.Prompt("jsondb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.out.Println("\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		fields := strings.Fields(line)
		name := strings.ToLower(fields[0])
		args := fields[1:]

		if name == "exit" || name == "quit" || name == "q" {
			break
		}

		r.dispatch(ctx, name, args)
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := replHistoryFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *repl) completer(line string) []string {
	var out []string

	lower := strings.ToLower(line)

	for _, c := range replCommands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}

	return out
}

func (r *repl) dispatch(ctx context.Context, name string, args []string) {
	var err error

	switch name {
	case "help", "?":
		r.printHelp()
	case "get":
		err = r.cmdGet(args)
	case "set":
		err = r.cmdSet(args)
	case "delete", "del":
		err = r.cmdDelete(args)
	case "has":
		err = r.cmdHas(args)
	case "find":
		err = r.cmdFind(args)
	case "push":
		err = r.cmdPush(args)
	case "pull":
		err = r.cmdPull(args)
	case "add":
		err = r.cmdAdd(args)
	case "reindex":
		err = r.engine.Reindex(ctx)
	default:
		r.out.Println("unknown command:", name, "(type 'help' for commands)")
		return
	}

	if err != nil {
		r.out.Println("error:", err)
	}
}

func (r *repl) printHelp() {
	r.out.Println("Commands:")
	r.out.Println("  get <path>                Print the value at path")
	r.out.Println("  set <path> <json>         Write a JSON value at path")
	r.out.Println("  delete <path>             Remove the value at path")
	r.out.Println("  has <path>                Report whether path is present")
	r.out.Println("  find <path> [shape-json]  List matching collection elements")
	r.out.Println("  push <path> <json>...     Append items to the array at path")
	r.out.Println("  pull <path> <json>...     Remove matching items from the array at path")
	r.out.Println("  add <path> <number>       Atomically increment the number at path")
	r.out.Println("  reindex                   Rebuild every secondary index")
	r.out.Println("  help                      Show this help")
	r.out.Println("  exit / quit / q           Exit")
}

func (r *repl) cmdGet(args []string) error {
	if len(args) != 1 {
		return errWrongArgCount
	}

	v, ok, err := r.engine.Get(args[0])
	if err != nil {
		return err
	}

	if !ok {
		r.out.Println("(not found)")
		return nil
	}

	return printValue(r.out, v)
}

func (r *repl) cmdSet(args []string) error {
	if len(args) != 2 {
		return errWrongArgCount
	}

	v, err := codec.UnmarshalValue([]byte(args[1]))
	if err != nil {
		return fmt.Errorf("invalid JSON value: %w", err)
	}

	return r.engine.Set(args[0], document.ToGo(v)).Wait()
}

func (r *repl) cmdDelete(args []string) error {
	if len(args) != 1 {
		return errWrongArgCount
	}

	return r.engine.Delete(args[0]).Wait()
}

func (r *repl) cmdHas(args []string) error {
	if len(args) != 1 {
		return errWrongArgCount
	}

	ok, err := r.engine.Has(args[0])
	if err != nil {
		return err
	}

	r.out.Println(ok)

	return nil
}

func (r *repl) cmdFind(args []string) error {
	if len(args) < 1 {
		return errWrongArgCount
	}

	var pred query.Predicate

	if len(args) == 2 {
		shapeVal, err := codec.UnmarshalValue([]byte(args[1]))
		if err != nil {
			return fmt.Errorf("invalid shape JSON: %w", err)
		}

		if shapeVal.Kind() != document.Object {
			return errShapeNotObject
		}

		fields := make(map[string]*document.Value, len(shapeVal.Keys()))
		for _, k := range shapeVal.Keys() {
			field, _ := shapeVal.Get(k)
			fields[k] = field
		}

		pred = query.ShapePredicate{Fields: fields}
	}

	matches, err := r.engine.Find(args[0], pred, query.Options{})
	if err != nil {
		return err
	}

	for _, m := range matches {
		if err := printValue(r.out, m); err != nil {
			return err
		}
	}

	return nil
}

func (r *repl) cmdPush(args []string) error {
	if len(args) < 2 {
		return errWrongArgCount
	}

	items, err := parseJSONItems(args[1:])
	if err != nil {
		return err
	}

	return r.engine.Push(args[0], items...).Wait()
}

func (r *repl) cmdPull(args []string) error {
	if len(args) < 2 {
		return errWrongArgCount
	}

	items, err := parseJSONItems(args[1:])
	if err != nil {
		return err
	}

	return r.engine.Pull(args[0], items...).Wait()
}

func (r *repl) cmdAdd(args []string) error {
	if len(args) != 2 {
		return errWrongArgCount
	}

	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	return r.engine.Add(args[0], amount).Wait()
}

func parseJSONItems(raw []string) ([]any, error) {
	items := make([]any, 0, len(raw))

	for _, s := range raw {
		v, err := codec.UnmarshalValue([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("invalid JSON value %q: %w", s, err)
		}

		items = append(items, document.ToGo(v))
	}

	return items, nil
}
