package main

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/jsondb/jsondb/internal/config"
	"github.com/jsondb/jsondb/pkg/codec"
	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/jsondb"
	"github.com/jsondb/jsondb/pkg/query"
)

func allCommands() []*command {
	return []*command{
		getCmd(),
		setCmd(),
		deleteCmd(),
		hasCmd(),
		findCmd(),
		reindexCmd(),
		configCmd(),
		replCmd(),
	}
}

// openEngine opens env's database with env's options, for the duration
// of one command invocation.
func openEngine(env *cmdEnv) (*jsondb.Engine, error) {
	return jsondb.Open(env.dbPath, env.opts)
}

func printValue(o *stdio, v *document.Value) error {
	data, err := codec.MarshalValue(v)
	if err != nil {
		return fmt.Errorf("jsondb: encode result: %w", err)
	}

	o.Println(string(data))

	return nil
}

func getCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <path>",
		Short: "Print the value at a dot-separated path",
		Exec: func(_ context.Context, o *stdio, env *cmdEnv, args []string) error {
			if len(args) != 1 {
				return errWrongArgCount
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			v, ok, err := e.Get(args[0])
			if err != nil {
				return err
			}

			if !ok {
				o.Println("(not found)")
				return nil
			}

			return printValue(o, v)
		},
	}
}

func setCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("set", flag.ContinueOnError),
		Usage: "set <path> <json-value>",
		Short: "Write a JSON value at a dot-separated path",
		Exec: func(_ context.Context, _ *stdio, env *cmdEnv, args []string) error {
			if len(args) != 2 {
				return errWrongArgCount
			}

			v, err := codec.UnmarshalValue([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("jsondb: invalid JSON value: %w", err)
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			return e.Set(args[0], document.ToGo(v)).Wait()
		},
	}
}

func deleteCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <path>",
		Short: "Remove the value at a dot-separated path",
		Exec: func(_ context.Context, _ *stdio, env *cmdEnv, args []string) error {
			if len(args) != 1 {
				return errWrongArgCount
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			return e.Delete(args[0]).Wait()
		},
	}
}

func hasCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <path>",
		Short: "Report whether a path is present",
		Exec: func(_ context.Context, o *stdio, env *cmdEnv, args []string) error {
			if len(args) != 1 {
				return errWrongArgCount
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.Has(args[0])
			if err != nil {
				return err
			}

			o.Println(ok)

			return nil
		},
	}
}

func findCmd() *command {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "Maximum number of results (0 = unlimited)")
	skip := fs.Int("skip", 0, "Number of leading matches to skip")

	return &command{
		Flags: fs,
		Usage: "find <path> [shape-json]",
		Short: "List elements of the collection at path, optionally filtered by a shape object",
		Exec: func(_ context.Context, o *stdio, env *cmdEnv, args []string) error {
			if len(args) < 1 {
				return errWrongArgCount
			}

			var pred query.Predicate

			if len(args) == 2 {
				shapeVal, err := codec.UnmarshalValue([]byte(args[1]))
				if err != nil {
					return fmt.Errorf("jsondb: invalid shape JSON: %w", err)
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

			opts := query.Options{Skip: *skip}
			if *limit > 0 {
				opts.Limit = limit
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			matches, err := e.Find(args[0], pred, opts)
			if err != nil {
				return err
			}

			for _, m := range matches {
				if err := printValue(o, m); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func reindexCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("reindex", flag.ContinueOnError),
		Usage: "reindex",
		Short: "Rebuild every configured secondary index from the current document",
		Exec: func(ctx context.Context, _ *stdio, env *cmdEnv, args []string) error {
			if len(args) != 0 {
				return errWrongArgCount
			}

			e, err := openEngine(env)
			if err != nil {
				return err
			}
			defer e.Close()

			return e.Reindex(ctx)
		},
	}
}

func configCmd() *command {
	return &command{
		Flags: flag.NewFlagSet("config", flag.ContinueOnError),
		Usage: "config",
		Short: "Print the built-in default configuration as JSON",
		Exec: func(_ context.Context, o *stdio, env *cmdEnv, args []string) error {
			formatted, err := config.Format(config.DefaultConfig())
			if err != nil {
				return err
			}

			o.Println(formatted)

			return nil
		},
	}
}

var (
	errWrongArgCount  = errors.New("jsondb: wrong number of arguments")
	errShapeNotObject = errors.New("jsondb: shape filter must be a JSON object")
)
