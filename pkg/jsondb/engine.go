// Package jsondb implements a single-file, path-addressed JSON document
// engine: write-ahead logged for crash safety, snapshot-durable, with
// secondary indices and an optional encrypted-at-rest canonical file.
package jsondb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jsondb/jsondb/pkg/codec"
	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/fs"
	"github.com/jsondb/jsondb/pkg/index"
	pathpkg "github.com/jsondb/jsondb/pkg/path"
	"github.com/jsondb/jsondb/pkg/queue"
	"github.com/jsondb/jsondb/pkg/scheduler"
	"github.com/jsondb/jsondb/pkg/snapshot"
	"github.com/jsondb/jsondb/pkg/wal"
)

type lifecycle int32

const (
	stateOpening lifecycle = iota
	stateReady
	stateClosing
	stateClosed
	stateFailed
)

// Engine is an open document store. The zero value is not usable; create
// one with [Open]. Safe for concurrent use by multiple goroutines.
type Engine struct {
	filename string
	opts     Options

	fsys   fs.FS
	locker *fs.Locker
	lock   *fs.Lock

	// mu guards root and lastFlushErr. It is never held across a call
	// into the queue or scheduler - those packages call back into
	// applyOps/save, which take mu themselves, and a re-entrant acquire
	// on a plain sync.RWMutex deadlocks.
	mu   sync.RWMutex
	root *document.Value

	lastFlushErr error

	// writerMu serializes the read-modify-enqueue sequence of Push,
	// Pull, Add, Transaction, and Batch, so two concurrent callers of
	// these compound operations can't both read the same prior state
	// and silently lose one side's update.
	writerMu sync.Mutex

	wal      *wal.WAL
	snap     *snapshot.Writer
	queue    *queue.Queue
	sched    *scheduler.Scheduler
	indexMgr *index.Manager

	state  atomic.Int32
	events chan Event
}

// Open opens (creating if missing) the document store at filename,
// backed by the real operating system filesystem. Recovery proceeds in
// five steps, per spec §4.9:
//  1. An orphaned or completed temp sibling (filename+".tmp") is
//     reconciled: adopted if newer than the canonical file (or if the
//     canonical file is missing), discarded otherwise.
//  2. The canonical file is loaded and decoded (decrypted/decompressed
//     as configured). If this fails, the engine still opens - recovery
//     falls through to replaying the write-ahead log against an empty
//     root - but an initialization error is emitted once Open returns.
//  3. The write-ahead log, if enabled, is replayed in order against
//     whatever root step 2 produced.
//  4. Every configured secondary index is rebuilt from the resulting
//     root.
//  5. The advisory file lock is acquired and held for the life of the
//     Engine.
//
// filename must resolve within the current working directory;
// escaping it (e.g. via "../") fails with [ErrPathEscape].
func Open(filename string, opts Options) (*Engine, error) {
	return OpenFS(filename, opts, fs.NewReal())
}

// OpenFS is [Open] with an injectable [fs.FS], letting callers drive the
// engine over [fs.Crash] or [fs.Chaos] to exercise crash-safety and
// fault-tolerance paths that [Open]'s production [fs.NewReal] can't
// simulate. Production code should use [Open].
func OpenFS(filename string, opts Options, fsys fs.FS) (*Engine, error) {
	abs, err := normalizeAndGuard(filename)
	if err != nil {
		return nil, err
	}

	if len(opts.Key) != 0 && len(opts.Key) != codec.KeySize {
		return nil, wrap(fmt.Errorf("%w: got %d bytes", ErrBadKeyLength, len(opts.Key)))
	}

	locker := fs.NewLocker(fsys)

	walPath := abs + ".wal"
	tmpPath := abs + ".tmp"
	lockPath := abs + ".lock"

	if err := reconcileTempSibling(fsys, abs, tmpPath); err != nil {
		return nil, wrap(fmt.Errorf("jsondb: reconcile temp file: %w", err))
	}

	codecOpts := snapshot.Options{Key: opts.Key, Compress: opts.Compress, Indented: opts.Indented}

	root, initErr := loadCanonical(fsys, abs, codecOpts)

	var log *wal.WAL

	if opts.UseWAL {
		log, err = wal.Open(fsys, walPath)
		if err != nil {
			return nil, wrap(fmt.Errorf("jsondb: open wal: %w", err))
		}

		if err := log.Replay(func(entry wal.Entry) error {
			return applyWALEntry(&root, entry)
		}); err != nil {
			_ = log.Close()

			return nil, wrap(fmt.Errorf("jsondb: replay wal: %w", err))
		}
	}

	if root == nil {
		root = document.NewObject()
	}

	indexMgr, err := index.Open(context.Background(), opts.Indices)
	if err != nil {
		closeQuietly(log)

		return nil, wrap(fmt.Errorf("jsondb: open index manager: %w", err))
	}

	if err := indexMgr.RebuildAll(context.Background(), root); err != nil {
		_ = indexMgr.Close()
		closeQuietly(log)

		var violation *index.UniqueIndexViolation
		if errors.As(err, &violation) {
			return nil, wrap(violation, withIndexName(violation.IndexName))
		}

		return nil, wrap(fmt.Errorf("jsondb: rebuild indices: %w", err))
	}

	lock, err := locker.LockWithTimeout(lockPath, snapshot.LockStaleAfter)
	if err != nil {
		_ = indexMgr.Close()
		closeQuietly(log)

		return nil, wrap(fmt.Errorf("%w: %w", ErrLockUnavailable, err))
	}

	e := &Engine{
		filename: abs,
		opts:     opts,
		fsys:     fsys,
		locker:   locker,
		lock:     lock,
		root:     root,
		wal:      log,
		indexMgr: indexMgr,
		events:   make(chan Event, eventBufferSize),
	}

	e.snap = snapshot.New(fsys, locker, abs, codecOpts)
	e.queue = queue.New(opts.QueueLimit, e.applyOps)
	e.sched = scheduler.New(opts.SaveDelay, e.save)

	e.state.Store(int32(stateReady))

	if initErr != nil {
		e.emit(Event{Kind: EventError, Err: wrap(fmt.Errorf("%w: %w", ErrSyntaxInvalid, initErr))})
	}

	e.emit(Event{Kind: EventReady})

	return e, nil
}

func closeQuietly(log *wal.WAL) {
	if log != nil {
		_ = log.Close()
	}
}

func normalizeAndGuard(filename string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("jsondb: getwd: %w", err)
	}

	abs := filename
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}

	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", wrap(ErrPathEscape, withPath(filename))
	}

	return abs, nil
}

func reconcileTempSibling(fsys fs.FS, canonical, tmp string) error {
	tmpInfo, err := fsys.Stat(tmp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("stat temp sibling: %w", err)
	}

	canonInfo, err := fsys.Stat(canonical)

	switch {
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("stat canonical file: %w", err)
	case err != nil || tmpInfo.ModTime().After(canonInfo.ModTime()):
		return fsys.Rename(tmp, canonical)
	default:
		return fsys.Remove(tmp)
	}
}

func loadCanonical(fsys fs.FS, filename string, opts snapshot.Options) (*document.Value, error) {
	exists, err := fsys.Exists(filename)
	if err != nil {
		return nil, fmt.Errorf("stat canonical file: %w", err)
	}

	if !exists {
		return nil, nil
	}

	data, err := fsys.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read canonical file: %w", err)
	}

	root, err := snapshot.Decode(data, opts)
	if err != nil {
		return nil, err
	}

	return root, nil
}

func applyWALEntry(root **document.Value, entry wal.Entry) error {
	switch entry.Op.Kind {
	case wal.OpSet:
		v, err := codec.UnmarshalValue(entry.Op.Value)
		if err != nil {
			return fmt.Errorf("decode wal entry %d: %w", entry.Seq, err)
		}

		return pathpkg.Set(root, entry.Op.Path, v)
	case wal.OpDelete:
		_, err := pathpkg.Unset(*root, entry.Op.Path)

		return err
	default:
		return fmt.Errorf("unknown wal op kind %q", entry.Op.Kind)
	}
}

func (e *Engine) checkUsable() error {
	switch lifecycle(e.state.Load()) {
	case stateFailed, stateClosing, stateClosed:
		return wrap(ErrEngineUnusable)
	default:
		return nil
	}
}

// flushQueue flushes the pending mutation queue, stashing any error so a
// later debounce cycle can still resolve its Future with it even if the
// queue is empty by the time that cycle fires (see [Engine.save]).
func (e *Engine) flushQueue() error {
	err := e.queue.Flush()
	if err != nil {
		e.mu.Lock()
		e.lastFlushErr = err
		e.mu.Unlock()
	}

	return err
}

func (e *Engine) takeLastFlushErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.lastFlushErr
	e.lastFlushErr = nil

	return err
}

// save is the scheduler's [scheduler.SaveFunc]: flush whatever is
// pending, then write a snapshot of the resulting root. Its return value
// is attached to every Future coalesced into this debounce cycle.
func (e *Engine) save() (any, error) {
	if err := e.flushQueue(); err != nil {
		return nil, err
	}

	if err := e.takeLastFlushErr(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()

	if err := e.snap.WriteLocked(root, e.wal); err != nil {
		wrapped := wrap(fmt.Errorf("%w: %w", ErrDurabilityFailed, err))
		e.emit(Event{Kind: EventError, Err: wrapped})

		return nil, wrapped
	}

	e.emit(Event{Kind: EventWrite})

	return root, nil
}

// applyOps is the queue's [queue.ApplyFunc]: it applies every queued
// mutation to a scratch copy of the document, re-syncs every affected
// secondary index, validates the result, appends each mutation to the
// write-ahead log, and only then commits the scratch copy as the live
// root. Any failure along the way leaves the live root and the WAL
// untouched.
//
// A failure partway through a multi-op batch does not unwind the
// secondary-index changes already committed by earlier ops in the same
// batch (each index Sync commits its own SQLite transaction). Rather
// than track per-op undo information, the index manager is rebuilt
// wholesale from the still-live, unmutated root before the error is
// returned, restoring index/document consistency at the cost of an
// extra rebuild on what is expected to be a rare path.
func (e *Engine) applyOps(ops []queue.Op) error {
	ctx := context.Background()

	e.mu.RLock()
	original := e.root
	e.mu.RUnlock()

	scratch := original.Clone()
	rootReplaced := false

	for _, op := range ops {
		switch op.Kind {
		case queue.Set:
			if op.Path == "" {
				if op.Value.Kind() != document.Object {
					return wrap(fmt.Errorf("%w: replacing root requires an object value", pathpkg.ErrPathTypeMismatch))
				}

				scratch = op.Value
				rootReplaced = true

				continue
			}

			if err := pathpkg.Set(&scratch, op.Path, op.Value); err != nil {
				return wrap(err, withPath(op.Path))
			}
		case queue.Delete:
			if _, err := pathpkg.Unset(scratch, op.Path); err != nil {
				return wrap(err, withPath(op.Path))
			}
		}
	}

	if e.indexMgr != nil {
		if err := e.syncIndices(ctx, ops, scratch, original, rootReplaced); err != nil {
			return err
		}
	}

	if e.opts.Validator != nil {
		if err := e.opts.Validator.Validate(scratch); err != nil {
			if e.indexMgr != nil {
				_ = e.indexMgr.RebuildAll(ctx, original)
			}

			return wrap(fmt.Errorf("%w: %w", ErrValidationFailed, err), withIssues(err.Error()))
		}
	}

	if e.wal != nil {
		if err := e.appendWAL(ops); err != nil {
			if e.indexMgr != nil {
				_ = e.indexMgr.RebuildAll(ctx, original)
			}

			return err
		}
	}

	e.mu.Lock()
	e.root = scratch
	e.mu.Unlock()

	return nil
}

func (e *Engine) syncIndices(ctx context.Context, ops []queue.Op, scratch, original *document.Value, rootReplaced bool) error {
	var syncErr error

	if rootReplaced {
		syncErr = e.indexMgr.RebuildAll(ctx, scratch)
	} else {
		for _, op := range ops {
			if op.Path == "" {
				continue
			}

			if err := e.indexMgr.Sync(ctx, scratch, op.Path); err != nil {
				syncErr = err

				break
			}
		}
	}

	if syncErr == nil {
		return nil
	}

	_ = e.indexMgr.RebuildAll(ctx, original)

	var violation *index.UniqueIndexViolation
	if errors.As(syncErr, &violation) {
		return wrap(violation, withIndexName(violation.IndexName))
	}

	return wrap(fmt.Errorf("jsondb: sync indices: %w", syncErr))
}

func (e *Engine) appendWAL(ops []queue.Op) error {
	for _, op := range ops {
		walOp := wal.Op{Path: op.Path}

		switch op.Kind {
		case queue.Set:
			walOp.Kind = wal.OpSet

			raw, err := codec.MarshalValue(op.Value)
			if err != nil {
				return wrap(fmt.Errorf("%w: %w", ErrDurabilityFailed, err))
			}

			walOp.Value = raw
		case queue.Delete:
			walOp.Kind = wal.OpDelete
		}

		if _, err := e.wal.Append(walOp); err != nil {
			return wrap(fmt.Errorf("%w: %w", ErrDurabilityFailed, err))
		}
	}

	return nil
}

// enqueueAndSchedule enqueues op and arms the debounce cycle, or resolves
// immediately with the error if the engine is unusable or the enqueue
// itself triggered a failing threshold flush.
func (e *Engine) enqueueAndSchedule(op queue.Op) *Future {
	if err := e.checkUsable(); err != nil {
		return scheduler.Resolved(err, nil)
	}

	if err := e.queue.Enqueue(op); err != nil {
		return scheduler.Resolved(err, nil)
	}

	return e.sched.Schedule()
}

// Close flushes any pending mutation, awaits any in-flight snapshot
// write, releases the advisory lock, and closes the write-ahead log and
// index manager. Safe to call once; the event channel is closed
// afterward.
func (e *Engine) Close() error {
	if !e.state.CompareAndSwap(int32(stateReady), int32(stateClosing)) {
		if lifecycle(e.state.Load()) == stateClosed {
			return nil
		}
	}

	var errs []error

	if err := e.sched.Close(); err != nil {
		errs = append(errs, err)
	}

	if e.indexMgr != nil {
		if err := e.indexMgr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jsondb: close index manager: %w", err))
		}
	}

	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jsondb: close wal: %w", err))
		}
	}

	if e.lock != nil {
		if err := e.lock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jsondb: release lock: %w", err))
		}
	}

	e.state.Store(int32(stateClosed))
	close(e.events)

	return errors.Join(errs...)
}
