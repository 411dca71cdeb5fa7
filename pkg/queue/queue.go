// Package queue implements the pending mutation buffer: an ordered,
// threshold-flushed FIFO of mutations awaiting application to the live
// document, per spec §4.7.
package queue

import (
	"fmt"
	"sync"

	"github.com/jsondb/jsondb/pkg/document"
)

// DefaultMaxLen is the default flush threshold.
const DefaultMaxLen = 1000

// Kind tags a queued [Op] as a Set or a Delete.
type Kind int

const (
	Set Kind = iota
	Delete
)

// Op is one queued mutation, FIFO-ordered with every other Op in the
// same [Queue].
type Op struct {
	Kind  Kind
	Path  string
	Value *document.Value // unused for Delete
}

// ApplyFunc applies a batch of ops, in order, to the live document and its
// indices in one pass. Supplied by the owning engine; the queue itself
// holds no reference to the document.
type ApplyFunc func(ops []Op) error

// Queue buffers mutations in insertion order and force-flushes once the
// configured threshold is reached. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	maxLen  int
	apply   ApplyFunc
	entries []Op
}

// New creates a Queue with the given flush threshold (DefaultMaxLen if
// maxLen <= 0) that applies flushed batches via apply.
func New(maxLen int, apply ApplyFunc) *Queue {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	return &Queue{maxLen: maxLen, apply: apply}
}

// Enqueue appends op to the tail of the queue. If the queue's length
// reaches its configured threshold, it is flushed before Enqueue returns.
func (q *Queue) Enqueue(op Op) error {
	q.mu.Lock()
	q.entries = append(q.entries, op)
	shouldFlush := len(q.entries) >= q.maxLen
	q.mu.Unlock()

	if shouldFlush {
		return q.Flush()
	}

	return nil
}

// Flush applies every buffered entry, in FIFO order, in a single call to
// the configured [ApplyFunc], then empties the queue. A no-op if the
// queue is empty. Callers (reads, snapshot writes, threshold overflow)
// must call Flush at the points spec §4.7 requires.
func (q *Queue) Flush() error {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	if err := q.apply(entries); err != nil {
		return fmt.Errorf("queue: flush: %w", err)
	}

	return nil
}

// Len reports the number of entries currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
