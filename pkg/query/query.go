// Package query implements the predicate and query-option evaluator run
// against an array or object collection within the document, per spec
// §4.10.
package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jsondb/jsondb/pkg/document"
)

// ErrNotACollection indicates the value at the queried path is neither
// an array nor an object.
var ErrNotACollection = errors.New("query: value is not an array or object")

// Predicate decides whether an element matches.
type Predicate interface {
	Match(elem *document.Value) bool
}

// ShapePredicate matches an element whose named fields all deep-equal
// the corresponding predicate values. Nested keys are literal — no
// dot-path expansion inside the predicate, per spec §4.10.
type ShapePredicate struct {
	Fields map[string]*document.Value
}

// Match implements [Predicate].
func (p ShapePredicate) Match(elem *document.Value) bool {
	if elem == nil || elem.Kind() != document.Object {
		return false
	}

	for field, want := range p.Fields {
		got, ok := elem.Get(field)
		if !ok || !document.Equal(got, want) {
			return false
		}
	}

	return true
}

// FuncPredicate adapts a Go closure to [Predicate]; opaque to the engine,
// per spec §4.10 "a callable predicate: opaque to the engine."
type FuncPredicate func(elem *document.Value) bool

// Match implements [Predicate].
func (f FuncPredicate) Match(elem *document.Value) bool { return f(elem) }

// SortField is one field of a stable multi-field sort, applied in the
// order given. Direction is 1 (ascending) or -1 (descending).
type SortField struct {
	Field     string
	Direction int
}

// Options controls result shaping, applied in sort-then-skip-then-limit-
// then-select order, per spec §4.10.
type Options struct {
	Sort []SortField

	// Comparator, if set, overrides Sort with an opaque two-element
	// comparison function (negative if a < b, zero if equal, positive
	// if a > b).
	Comparator func(a, b *document.Value) int

	Skip   int
	Limit  *int
	Select []string
}

// Evaluate matches every element of collection (an array or an object,
// whose values are the candidate elements) against pred, then applies
// opts. A nil pred matches every element.
func Evaluate(collection *document.Value, pred Predicate, opts Options) ([]*document.Value, error) {
	elems, err := collectionElements(collection)
	if err != nil {
		return nil, err
	}

	matched := make([]*document.Value, 0, len(elems))

	for _, e := range elems {
		if pred == nil || pred.Match(e) {
			matched = append(matched, e)
		}
	}

	sortElements(matched, opts)

	matched = applySkipLimit(matched, opts.Skip, opts.Limit)

	if len(opts.Select) > 0 {
		matched = project(matched, opts.Select)
	}

	return matched, nil
}

// FindOne returns the first match in iteration order, or ok=false if none.
func FindOne(collection *document.Value, pred Predicate) (*document.Value, bool, error) {
	elems, err := collectionElements(collection)
	if err != nil {
		return nil, false, err
	}

	for _, e := range elems {
		if pred == nil || pred.Match(e) {
			return e, true, nil
		}
	}

	return nil, false, nil
}

func collectionElements(collection *document.Value) ([]*document.Value, error) {
	if collection == nil {
		return nil, nil
	}

	switch collection.Kind() {
	case document.Array:
		return collection.Elements(), nil
	case document.Object:
		keys := collection.Keys()
		elems := make([]*document.Value, 0, len(keys))

		for _, k := range keys {
			v, _ := collection.Get(k)
			elems = append(elems, v)
		}

		return elems, nil
	default:
		return nil, fmt.Errorf("%w: got %v", ErrNotACollection, collection.Kind())
	}
}

func sortElements(elems []*document.Value, opts Options) {
	switch {
	case opts.Comparator != nil:
		sort.SliceStable(elems, func(i, j int) bool {
			return opts.Comparator(elems[i], elems[j]) < 0
		})
	case len(opts.Sort) > 0:
		sort.SliceStable(elems, func(i, j int) bool {
			for _, field := range opts.Sort {
				a, _ := elems[i].Get(field.Field)
				b, _ := elems[j].Get(field.Field)

				cmp := compareValues(a, b)
				if cmp == 0 {
					continue
				}

				if field.Direction < 0 {
					return cmp > 0
				}

				return cmp < 0
			}

			return false
		})
	}
}

// compareValues compares two values: numerically if both are numbers,
// lexicographically if both are strings, else treats a missing/absent
// value as sorting before a present one.
func compareValues(a, b *document.Value) int {
	if a == nil && b == nil {
		return 0
	}

	if a == nil {
		return -1
	}

	if b == nil {
		return 1
	}

	if a.Kind() == document.Number && b.Kind() == document.Number {
		af, _ := a.Float()

		bf, _ := b.Float()

		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.String()

	bs, bok := b.String()

	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func applySkipLimit(elems []*document.Value, skip int, limit *int) []*document.Value {
	if skip < 0 {
		skip = 0
	}

	if skip >= len(elems) {
		return nil
	}

	elems = elems[skip:]

	if limit != nil && *limit >= 0 && *limit < len(elems) {
		elems = elems[:*limit]
	}

	return elems
}

func project(elems []*document.Value, fields []string) []*document.Value {
	out := make([]*document.Value, len(elems))

	for i, e := range elems {
		if e == nil || e.Kind() != document.Object {
			out[i] = e

			continue
		}

		projected := document.NewObject()

		for _, field := range fields {
			if v, ok := e.Get(field); ok {
				projected.Set(field, v)
			}
		}

		out[i] = projected
	}

	return out
}
