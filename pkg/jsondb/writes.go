package jsondb

import (
	"fmt"
	"math"

	"github.com/jsondb/jsondb/pkg/document"
	pathpkg "github.com/jsondb/jsondb/pkg/path"
	"github.com/jsondb/jsondb/pkg/queue"
	"github.com/jsondb/jsondb/pkg/scheduler"
)

// Set queues a write of value at path, converting it from a Go value via
// [document.FromGo]. Returns a [Future] resolved once the containing
// debounce cycle is durably written.
func (e *Engine) Set(path string, value any) *Future {
	v, err := document.FromGo(value)
	if err != nil {
		return scheduler.Resolved(fmt.Errorf("jsondb: invalid value: %w", err), nil)
	}

	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: path, Value: v})
}

// Delete queues removal of the value at path.
func (e *Engine) Delete(path string) *Future {
	return e.enqueueAndSchedule(queue.Op{Kind: queue.Delete, Path: path})
}

// Clear replaces the entire document with an empty object.
func (e *Engine) Clear() *Future {
	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: "", Value: document.NewObject()})
}

// Push appends each of items to the array at path (creating it if
// absent), skipping any item that is already present per [document.Equal]
// (so Push is idempotent under repeated identical calls). Lowered to a
// single Set against path after a read-modify step executed under the
// engine's single-writer discipline, per spec §3.
func (e *Engine) Push(path string, items ...any) *Future {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.flushQueue(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()

	newArr, err := pushLower(root, path, items)
	if err != nil {
		return scheduler.Resolved(err, nil)
	}

	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: path, Value: newArr})
}

// Pull removes every element of the array at path that is deep-equal to
// any of items, per [document.Equal]. A no-op if path is absent or not
// an array.
func (e *Engine) Pull(path string, items ...any) *Future {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.flushQueue(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()

	current, ok := pathpkg.Get(root, path)
	if !ok || current == nil || current.Kind() != document.Array {
		return scheduler.Resolved(nil, nil)
	}

	toRemove := make([]*document.Value, 0, len(items))

	for _, item := range items {
		v, err := document.FromGo(item)
		if err != nil {
			return scheduler.Resolved(fmt.Errorf("jsondb: invalid value: %w", err), nil)
		}

		toRemove = append(toRemove, v)
	}

	out := document.NewArray()

	for _, elem := range current.Elements() {
		if !containsEqual(toRemove, elem) {
			out.AppendElement(elem)
		}
	}

	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: path, Value: out})
}

// Add atomically adds amount to the number at path (treated as zero if
// absent). The result is stored as an integer if the current value is an
// integer and the sum has no fractional part, otherwise as a float.
func (e *Engine) Add(path string, amount float64) *Future {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.flushQueue(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	e.mu.RLock()
	current, ok := pathpkg.Get(e.root, path)
	e.mu.RUnlock()

	base := 0.0
	wasInt := true

	if ok && current != nil && current.Kind() == document.Number {
		base, _ = current.Float()
		wasInt = current.IsIntNumber()
	}

	sum := base + amount

	var newVal *document.Value
	if wasInt && sum == math.Trunc(sum) {
		newVal = document.NewInt(int64(sum))
	} else {
		newVal = document.NewFloat(sum)
	}

	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: path, Value: newVal})
}

// Transaction flushes pending mutations, calls fn with a private clone of
// the current root, and queues the returned root as a full replacement.
// If fn returns a nil root (without an error), the transaction is
// aborted: the document is left unchanged and the returned Future
// resolves immediately with [ErrTransactionAborted]. If fn returns an
// error, the Future resolves immediately with that error instead.
func (e *Engine) Transaction(fn func(root *document.Value) (*document.Value, error)) *Future {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.flushQueue(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	e.mu.RLock()
	clone := e.root.Clone()
	e.mu.RUnlock()

	newRoot, err := fn(clone)
	if err != nil {
		return scheduler.Resolved(err, nil)
	}

	if newRoot == nil {
		return scheduler.Resolved(ErrTransactionAborted, nil)
	}

	return e.enqueueAndSchedule(queue.Op{Kind: queue.Set, Path: "", Value: newRoot})
}

// Batch applies ops, in order, against one shared scratch copy of the
// document, then queues the resulting mutations as a single group
// sharing one Future. An [OpPush] within a batch sees the effects of
// earlier ops in the same batch.
func (e *Engine) Batch(ops []Op) *Future {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.flushQueue(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	e.mu.RLock()
	scratch := e.root.Clone()
	e.mu.RUnlock()

	queued := make([]queue.Op, 0, len(ops))

	for _, op := range ops {
		qop, err := e.lowerBatchOp(op, &scratch)
		if err != nil {
			return scheduler.Resolved(err, nil)
		}

		queued = append(queued, qop)
	}

	for _, qop := range queued {
		if err := e.queue.Enqueue(qop); err != nil {
			return scheduler.Resolved(err, nil)
		}
	}

	return e.sched.Schedule()
}

func (e *Engine) lowerBatchOp(op Op, scratch **document.Value) (queue.Op, error) {
	switch op.Kind {
	case OpSet:
		v, err := document.FromGo(op.Value)
		if err != nil {
			return queue.Op{}, fmt.Errorf("jsondb: invalid value: %w", err)
		}

		if err := pathpkg.Set(scratch, op.Path, v); err != nil {
			return queue.Op{}, wrap(err, withPath(op.Path))
		}

		return queue.Op{Kind: queue.Set, Path: op.Path, Value: v}, nil

	case OpDelete:
		if _, err := pathpkg.Unset(*scratch, op.Path); err != nil {
			return queue.Op{}, wrap(err, withPath(op.Path))
		}

		return queue.Op{Kind: queue.Delete, Path: op.Path}, nil

	case OpPush:
		newArr, err := pushLower(*scratch, op.Path, op.Items)
		if err != nil {
			return queue.Op{}, err
		}

		if err := pathpkg.Set(scratch, op.Path, newArr); err != nil {
			return queue.Op{}, wrap(err, withPath(op.Path))
		}

		return queue.Op{Kind: queue.Set, Path: op.Path, Value: newArr}, nil

	default:
		return queue.Op{}, fmt.Errorf("jsondb: unknown batch op kind %d", op.Kind)
	}
}

func pushLower(root *document.Value, path string, items []any) (*document.Value, error) {
	current, ok := pathpkg.Get(root, path)

	arr := document.NewArray()
	if ok && current != nil && current.Kind() == document.Array {
		for _, elem := range current.Elements() {
			arr.AppendElement(elem)
		}
	}

	for _, item := range items {
		v, err := document.FromGo(item)
		if err != nil {
			return nil, fmt.Errorf("jsondb: invalid value: %w", err)
		}

		if !containsEqual(arr.Elements(), v) {
			arr.AppendElement(v)
		}
	}

	return arr, nil
}

func containsEqual(haystack []*document.Value, v *document.Value) bool {
	for _, e := range haystack {
		if document.Equal(e, v) {
			return true
		}
	}

	return false
}

// SnapshotCopy flushes pending mutations and writes a point-in-time copy
// of the encoded document to a sibling file, without disturbing the
// canonical file or the write-ahead log. Returns the copy's path.
func (e *Engine) SnapshotCopy(label string) (string, error) {
	if err := e.checkUsable(); err != nil {
		return "", err
	}

	if err := e.flushQueue(); err != nil {
		return "", err
	}

	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()

	data, err := e.snap.Encode(root)
	if err != nil {
		return "", fmt.Errorf("jsondb: encode snapshot copy: %w", err)
	}

	copyPath := e.filename + ".snapshot-" + label

	if err := e.fsys.WriteFile(copyPath, data, 0o644); err != nil {
		return "", fmt.Errorf("jsondb: write snapshot copy: %w", err)
	}

	return copyPath, nil
}
