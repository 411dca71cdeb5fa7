// Package index implements the secondary index manager: maintains named
// mappings from a field value to a locator within a configured collection
// path, incrementally on each mutation and by full rebuild, backed by a
// private in-memory SQLite connection (following the teacher's
// SQLite-backed indexing approach in pkg/mddb, scaled down from one
// on-disk database per document store to one :memory: connection per
// engine instance).
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/path"
)

// Def is a secondary index definition, per spec §3 "Index Definition".
type Def struct {
	Name           string
	CollectionPath string
	Field          string
	Unique         bool
}

// UniqueIndexViolation is raised when an insert would create a second
// locator for a value already present in a unique index, per spec §4.8.
type UniqueIndexViolation struct {
	IndexName string
	Value     string
}

func (e *UniqueIndexViolation) Error() string {
	return fmt.Sprintf("index: unique constraint violated on %q for value %s", e.IndexName, e.Value)
}

// Manager owns one private SQLite connection materializing every
// configured index as a two-column table. Not safe for concurrent use
// without external synchronization — callers are expected to serialize
// access the same way the engine serializes document mutations (spec §5).
type Manager struct {
	db    *sql.DB
	defs  []Def
	table map[string]string // index name -> sqlite table name
}

// Open creates the in-memory SQLite connection and the table for each def.
func Open(ctx context.Context, defs []Def) (*Manager, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("index: ping sqlite: %w", err)
	}

	m := &Manager{db: db, defs: defs, table: make(map[string]string, len(defs))}

	for _, def := range defs {
		m.table[def.Name] = tableName(def.Name)

		if _, err := db.ExecContext(ctx, createTableSQL(m.table[def.Name], def.Unique)); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("index: create table for %q: %w", def.Name, err)
		}
	}

	return m, nil
}

// Close closes the underlying SQLite connection.
func (m *Manager) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}

	return nil
}

// Defs returns the configured index definitions.
func (m *Manager) Defs() []Def { return m.defs }

// ElementPath returns the full document path of the element at locator
// within def's collection.
func ElementPath(def Def, locator string) string {
	return path.Join(append(path.Split(def.CollectionPath), locator))
}

// RebuildAll discards and rebuilds every configured index from root.
func (m *Manager) RebuildAll(ctx context.Context, root *document.Value) error {
	for _, def := range m.defs {
		if err := m.rebuildOne(ctx, def, root); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) rebuildOne(ctx context.Context, def Def, root *document.Value) error {
	table := m.table[def.Name]

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("index: clear %q: %w", def.Name, err)
	}

	collection, ok := path.Get(root, def.CollectionPath)
	if ok && collection != nil {
		for locator, elem := range collectionEntries(collection) {
			fieldVal, hasField := elem.Get(def.Field)
			if !hasField || fieldVal.IsNull() {
				continue
			}

			encoded, err := encodeFieldValue(fieldVal)
			if err != nil {
				return fmt.Errorf("index: encode field for %q: %w", def.Name, err)
			}

			if _, err := tx.ExecContext(ctx, insertSQL(table), encoded, locator); err != nil {
				if isUniqueConstraintErr(err) {
					return &UniqueIndexViolation{IndexName: def.Name, Value: encoded}
				}

				return fmt.Errorf("index: insert during rebuild of %q: %w", def.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit rebuild of %q: %w", def.Name, err)
	}

	return nil
}

// Sync applies the incremental-update algorithm of spec §4.8 for a single
// mutation at mutPath against the already-mutated root. Index-by-index:
// a mutation at exactly an index's collection path triggers a full
// rebuild of that index; a mutation at or below one element of the
// collection replaces that element's locator entry; anything else is
// left untouched.
func (m *Manager) Sync(ctx context.Context, root *document.Value, mutPath string) error {
	for _, def := range m.defs {
		scope, locator := classify(def, mutPath)

		switch scope {
		case scopeCollection:
			if err := m.rebuildOne(ctx, def, root); err != nil {
				return err
			}
		case scopeElement:
			if err := m.syncElement(ctx, def, root, locator); err != nil {
				return err
			}
		case scopeUnrelated:
			// no-op
		}
	}

	return nil
}

func (m *Manager) syncElement(ctx context.Context, def Def, root *document.Value, locator string) error {
	table := m.table[def.Name]

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE locator = ?", locator); err != nil {
		return fmt.Errorf("index: delete stale locator for %q: %w", def.Name, err)
	}

	elem, ok := path.Get(root, ElementPath(def, locator))
	if ok && elem != nil {
		fieldVal, hasField := elem.Get(def.Field)
		if hasField && !fieldVal.IsNull() {
			encoded, err := encodeFieldValue(fieldVal)
			if err != nil {
				return fmt.Errorf("index: encode field for %q: %w", def.Name, err)
			}

			if _, err := tx.ExecContext(ctx, insertSQL(table), encoded, locator); err != nil {
				if isUniqueConstraintErr(err) {
					return &UniqueIndexViolation{IndexName: def.Name, Value: encoded}
				}

				return fmt.Errorf("index: insert for %q: %w", def.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit sync of %q: %w", def.Name, err)
	}

	return nil
}

// FindByIndex returns the element in root located by the stored locator
// for value in the named index, or ok=false if absent.
func (m *Manager) FindByIndex(ctx context.Context, root *document.Value, name string, value *document.Value) (*document.Value, bool, error) {
	def, ok := m.def(name)
	if !ok {
		return nil, false, fmt.Errorf("index: unknown index %q", name)
	}

	table := m.table[name]

	encoded, err := encodeFieldValue(value)
	if err != nil {
		return nil, false, fmt.Errorf("index: encode lookup value: %w", err)
	}

	var locator string

	row := m.db.QueryRowContext(ctx, "SELECT locator FROM "+table+" WHERE value = ? ORDER BY rowid DESC LIMIT 1", encoded)

	err = row.Scan(&locator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("index: lookup %q: %w", name, err)
	}

	elem, ok := path.Get(root, ElementPath(def, locator))

	return elem, ok, nil
}

func (m *Manager) def(name string) (Def, bool) {
	for _, d := range m.defs {
		if d.Name == name {
			return d, true
		}
	}

	return Def{}, false
}

type scope int

const (
	scopeUnrelated scope = iota
	scopeCollection
	scopeElement
)

func classify(def Def, mutPath string) (scope, string) {
	defSegs := path.Split(def.CollectionPath)
	mutSegs := path.Split(mutPath)

	if len(mutSegs) == len(defSegs) && segmentsEqual(mutSegs, defSegs) {
		return scopeCollection, ""
	}

	if len(mutSegs) > len(defSegs) && segmentsEqual(mutSegs[:len(defSegs)], defSegs) {
		return scopeElement, mutSegs[len(defSegs)]
	}

	return scopeUnrelated, ""
}

func segmentsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// collectionEntries returns a range-over-func iterator yielding
// (locator, element) pairs over an array or object collection value, in
// iteration order.
func collectionEntries(collection *document.Value) func(yield func(string, *document.Value) bool) {
	return func(yield func(string, *document.Value) bool) {
		switch collection.Kind() {
		case document.Array:
			for i, e := range collection.Elements() {
				if !yield(strconv.Itoa(i), e) {
					return
				}
			}
		case document.Object:
			for _, k := range collection.Keys() {
				v, _ := collection.Get(k)
				if !yield(k, v) {
					return
				}
			}
		}
	}
}

func encodeFieldValue(v *document.Value) (string, error) {
	enc, err := json.Marshal(document.ToGo(v))
	if err != nil {
		return "", fmt.Errorf("marshal field value: %w", err)
	}

	return string(enc), nil
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error

	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

func createTableSQL(table string, unique bool) string {
	if unique {
		return fmt.Sprintf(
			"CREATE TABLE %s (value TEXT NOT NULL, locator TEXT NOT NULL, UNIQUE(value))",
			table,
		)
	}

	return fmt.Sprintf("CREATE TABLE %s (value TEXT NOT NULL, locator TEXT NOT NULL)", table)
}

func insertSQL(table string) string {
	return "INSERT INTO " + table + " (value, locator) VALUES (?, ?)"
}

// tableName derives a safe SQLite identifier from an arbitrary index
// name via FNV hashing, so index names never need SQL-identifier
// validation.
func tableName(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))

	return fmt.Sprintf("idx_%d", h.Sum32())
}
