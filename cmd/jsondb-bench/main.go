// Command jsondb-bench seeds a jsondb database with generated documents
// and measures write/read throughput, the way the slotcache CLI's "bulk"
// and "bench" REPL commands measure raw put/get throughput.
package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jsondb/jsondb/pkg/jsondb"
	"github.com/jsondb/jsondb/pkg/query"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUnknownMode = errors.New("jsondb-bench: unknown mode")

func run(args []string) error {
	fs := flag.NewFlagSet("jsondb-bench", flag.ContinueOnError)
	dbPath := fs.String("db", filepath.Join(".", "jsondb-bench-data", "bench.json"), "Database file path")
	mode := fs.String("mode", "seed", "Benchmark mode: seed, get, or find")
	count := fs.Int("count", 10_000, "Number of documents to write or look up")
	workers := fs.Int("workers", runtime.NumCPU(), "Number of concurrent writer goroutines (seed mode only)")
	saveDelayMS := fs.Int("save-delay-ms", 60, "Debounce window in milliseconds")
	fresh := fs.Bool("fresh", true, "Remove the database file's directory before seeding")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: jsondb-bench [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *fresh && *mode == "seed" {
		_ = os.RemoveAll(filepath.Dir(*dbPath))
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o750); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	opts := jsondb.DefaultOptions()
	opts.SaveDelay = time.Duration(*saveDelayMS) * time.Millisecond
	opts.Silent = true

	engine, err := jsondb.Open(*dbPath, opts)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer engine.Close()

	switch *mode {
	case "seed":
		return runSeed(engine, *count, *workers)
	case "get":
		return runGet(engine, *count)
	case "find":
		return runFind(engine)
	default:
		return fmt.Errorf("%w: %s", errUnknownMode, *mode)
	}
}

// runSeed writes count documents under "items.<id>" using workers
// concurrent goroutines, the way tk-seed fans out ticket generation
// across CPU cores.
func runSeed(e *jsondb.Engine, count, workers int) error {
	if workers < 1 {
		workers = 1
	}

	ids := make(chan int, workers*2)

	var wg sync.WaitGroup

	var mu sync.Mutex

	var firstErr error

	start := time.Now()

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for id := range ids {
				doc := map[string]any{
					"id":    id,
					"name":  fmt.Sprintf("item-%06d", id),
					"value": rand.Float64() * 1000, //nolint:gosec // benchmark data, not security sensitive
				}

				if err := e.Set(fmt.Sprintf("items.%d", id), doc).Wait(); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()

					return
				}
			}
		}()
	}

	for id := range count {
		ids <- id
	}

	close(ids)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	elapsed := time.Since(start)
	rate := float64(count) / elapsed.Seconds()
	fmt.Printf("seed: wrote %d documents in %v (%.0f ops/sec, %d workers)\n", count, elapsed.Round(time.Millisecond), rate, workers)

	return nil
}

// runGet reads count documents back by path and reports throughput and
// hit rate.
func runGet(e *jsondb.Engine, count int) error {
	start := time.Now()
	hits := 0

	for id := range count {
		_, ok, err := e.Get("items." + strconv.Itoa(id))
		if err != nil {
			return err
		}

		if ok {
			hits++
		}
	}

	elapsed := time.Since(start)
	rate := float64(count) / elapsed.Seconds()
	fmt.Printf("get: %d lookups in %v (%.0f ops/sec), %d hits\n", count, elapsed.Round(time.Millisecond), rate, hits)

	return nil
}

// runFind scans the whole items collection with no filter and reports
// how long the pass takes.
func runFind(e *jsondb.Engine) error {
	start := time.Now()

	matches, err := e.Find("items", nil, query.Options{})
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	fmt.Printf("find: matched %d elements in %v\n", len(matches), elapsed.Round(time.Millisecond))

	return nil
}
