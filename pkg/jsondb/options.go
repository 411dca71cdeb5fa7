package jsondb

import (
	"time"

	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/index"
)

// IndexDef names a secondary index to maintain over a collection path,
// per spec §3 "Index Definition".
type IndexDef = index.Def

// Validator vets a candidate root before it is committed and durably
// logged. Returning a non-nil error rejects the whole batch of mutations
// that produced candidateRoot; the live document and the write-ahead log
// are left untouched.
type Validator interface {
	Validate(candidateRoot *document.Value) error
}

// Options configures an [Open] call. There is no field-by-field default:
// a zero Options has every feature disabled (no WAL, no indentation, a
// zero debounce delay). Start from [DefaultOptions] to get the defaults
// a typical caller wants.
type Options struct {
	// Key, if exactly 32 bytes, enables AES-256-GCM envelope encryption
	// of the canonical file.
	Key []byte

	// Indented pretty-prints the canonical file.
	Indented bool

	// SaveDelay is the debounce window coalescing mutations into one
	// snapshot write.
	SaveDelay time.Duration

	// Indices are the secondary indices maintained alongside the
	// document.
	Indices []IndexDef

	// Validator, if set, is consulted against every candidate root
	// before it is committed.
	Validator Validator

	// UseWAL enables the write-ahead log for crash recovery between
	// snapshots. Disabling it trades durability for one less fsync per
	// mutation batch.
	UseWAL bool

	// Silent suppresses event emission entirely.
	Silent bool

	// Compress applies zstd compression to the canonical file, before
	// encryption when both are enabled.
	Compress bool

	// QueueLimit is the pending-mutation queue's flush threshold
	// ([queue.DefaultMaxLen] if zero).
	QueueLimit int
}

// DefaultOptions returns the configuration a typical caller wants:
// indentation on, a 60ms debounce window, and the write-ahead log
// enabled.
func DefaultOptions() Options {
	return Options{
		Indented:  true,
		SaveDelay: 60 * time.Millisecond,
		UseWAL:    true,
	}
}
