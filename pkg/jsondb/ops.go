package jsondb

import "github.com/jsondb/jsondb/pkg/scheduler"

// Future is the completion signal returned by every mutating call. It
// resolves once the debounce cycle it was coalesced into has been
// durably written (or failed). All callers coalesced into the same
// cycle share one Future and see the same outcome.
type Future = scheduler.Future

// OpKind tags one operation within a [Batch] call.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
	OpPush
)

// Op is one operation within an ordered [Batch] call, applied in the
// order given against a single shared scratch copy of the document
// before any of them are committed.
type Op struct {
	Kind  OpKind
	Path  string
	Value any   // for OpSet
	Items []any // for OpPush
}
