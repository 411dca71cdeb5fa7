package jsondb

import (
	"context"
	"fmt"

	"github.com/jsondb/jsondb/pkg/document"
	pathpkg "github.com/jsondb/jsondb/pkg/path"
	"github.com/jsondb/jsondb/pkg/query"
)

// Get reads the value at path. ok is false if any segment of path is
// missing; a stored JSON null still counts as present. Flushes any
// pending mutation first, per spec §5's read-after-write guarantee.
func (e *Engine) Get(path string) (*document.Value, bool, error) {
	if err := e.checkUsable(); err != nil {
		return nil, false, err
	}

	if err := e.flushQueue(); err != nil {
		return nil, false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := pathpkg.Get(e.root, path)

	return v, ok, nil
}

// Has reports whether path resolves to a present value (including a
// stored null).
func (e *Engine) Has(path string) (bool, error) {
	if err := e.checkUsable(); err != nil {
		return false, err
	}

	if err := e.flushQueue(); err != nil {
		return false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return pathpkg.Has(e.root, path), nil
}

// Find evaluates pred (nil matches everything) against the collection at
// path, applying opts (sort, skip, limit, select) to the matches.
func (e *Engine) Find(path string, pred query.Predicate, opts query.Options) ([]*document.Value, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}

	if err := e.flushQueue(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	collection, ok := pathpkg.Get(e.root, path)
	if !ok {
		return nil, nil
	}

	matches, err := query.Evaluate(collection, pred, opts)
	if err != nil {
		return nil, wrap(err, withPath(path))
	}

	return matches, nil
}

// FindOne returns the first element at path matching pred, in iteration
// order.
func (e *Engine) FindOne(path string, pred query.Predicate) (*document.Value, bool, error) {
	if err := e.checkUsable(); err != nil {
		return nil, false, err
	}

	if err := e.flushQueue(); err != nil {
		return nil, false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	collection, ok := pathpkg.Get(e.root, path)
	if !ok {
		return nil, false, nil
	}

	elem, found, err := query.FindOne(collection, pred)
	if err != nil {
		return nil, false, wrap(err, withPath(path))
	}

	return elem, found, nil
}

// FindByIndex looks up value in the named secondary index and returns
// the element its stored locator resolves to.
func (e *Engine) FindByIndex(name string, value any) (*document.Value, bool, error) {
	if err := e.checkUsable(); err != nil {
		return nil, false, err
	}

	if err := e.flushQueue(); err != nil {
		return nil, false, err
	}

	v, err := document.FromGo(value)
	if err != nil {
		return nil, false, fmt.Errorf("jsondb: invalid lookup value: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	elem, found, err := e.indexMgr.FindByIndex(context.Background(), e.root, name, v)
	if err != nil {
		return nil, false, wrap(err, withIndexName(name))
	}

	return elem, found, nil
}

// Paginate returns one page of size limit (0-indexed) from the
// collection at path, in iteration order.
func (e *Engine) Paginate(path string, page, limit int) ([]*document.Value, error) {
	if limit <= 0 {
		return nil, nil
	}

	opts := query.Options{Skip: page * limit, Limit: &limit}

	return e.Find(path, nil, opts)
}

// Reindex flushes pending mutations and rebuilds every configured
// secondary index from the current document, discarding whatever state
// the index store already holds. Useful after an index definition
// changes or to recover from external corruption of the index store.
func (e *Engine) Reindex(ctx context.Context) error {
	if err := e.checkUsable(); err != nil {
		return err
	}

	if err := e.flushQueue(); err != nil {
		return err
	}

	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()

	if err := e.indexMgr.RebuildAll(ctx, root); err != nil {
		return wrap(err)
	}

	return nil
}
