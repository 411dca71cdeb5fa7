// Package path implements dot-separated path addressing over a
// [document.Value] tree: parsing, get, has, set, and unset.
package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jsondb/jsondb/pkg/document"
)

// ErrPathTypeMismatch indicates a numeric segment was applied against an
// array with an out-of-range or non-append index, or a non-integer segment
// was applied against an array.
var ErrPathTypeMismatch = errors.New("path: type mismatch")

// Split parses a path string into segments, honoring "\." as an escaped
// literal dot and "\\" as an escaped backslash within a segment. The empty
// string parses to zero segments (the root).
func Split(path string) []string {
	if path == "" {
		return nil
	}

	segments := make([]string, 0, strings.Count(path, ".")+1)

	var current strings.Builder

	runes := []rune(path)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '\\') {
				current.WriteRune(runes[i+1])
				i++
			} else {
				current.WriteRune(runes[i])
			}
		case '.':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(runes[i])
		}
	}

	segments = append(segments, current.String())

	return segments
}

// Join is the inverse of [Split]: it re-escapes segments containing "." or
// "\" and joins them with unescaped dots.
func Join(segments []string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, `\`, `\\`)
		seg = strings.ReplaceAll(seg, `.`, `\.`)
		escaped[i] = seg
	}

	return strings.Join(escaped, ".")
}

// Get reads the value at path within root. ok is false if any intermediate
// segment is missing; a terminal JSON null still counts as present.
func Get(root *document.Value, path string) (val *document.Value, ok bool) {
	segments := Split(path)
	if len(segments) == 0 {
		return root, root != nil
	}

	cur := root

	for _, seg := range segments {
		if cur == nil {
			return nil, false
		}

		switch cur.Kind() {
		case document.Object:
			next, found := cur.Get(seg)
			if !found {
				return nil, false
			}

			cur = next
		case document.Array:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= cur.Len() {
				return nil, false
			}

			cur = cur.Index(idx)
		default:
			return nil, false
		}
	}

	return cur, true
}

// Has reports whether every segment of path resolves within root. A
// terminal JSON null counts as present.
func Has(root *document.Value, path string) bool {
	_, ok := Get(root, path)

	return ok
}

// Set writes value at path within root, creating missing intermediates as
// objects (never as arrays - a numeric segment encountered while creating
// an intermediate still creates an object keyed by that numeric string).
// Setting at the empty path replaces the root; value must be an object in
// that case.
//
// If the terminal's parent is an array: a segment equal to the array's
// current length appends; any other valid index replaces in place; an
// invalid index (non-integer, negative, or too large) returns
// [ErrPathTypeMismatch].
func Set(root **document.Value, path string, value *document.Value) error {
	segments := Split(path)
	if len(segments) == 0 {
		if value.Kind() != document.Object {
			return fmt.Errorf("%w: replacing root requires an object value", ErrPathTypeMismatch)
		}

		*root = value

		return nil
	}

	if *root == nil || (*root).Kind() != document.Object {
		*root = document.NewObject()
	}

	return setAt(*root, segments, value)
}

func setAt(parent *document.Value, segments []string, value *document.Value) error {
	seg := segments[0]
	last := len(segments) == 1

	switch parent.Kind() {
	case document.Object:
		if last {
			parent.Set(seg, value)

			return nil
		}

		child, ok := parent.Get(seg)
		if !ok || (child.Kind() != document.Object && child.Kind() != document.Array) {
			child = document.NewObject()
			parent.Set(seg, child)
		}

		return setAt(child, segments[1:], value)

	case document.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return fmt.Errorf("%w: non-integer segment %q against array", ErrPathTypeMismatch, seg)
		}

		length := parent.Len()

		if idx < 0 || idx > length {
			return fmt.Errorf("%w: index %d out of range [0, %d]", ErrPathTypeMismatch, idx, length)
		}

		if last {
			if idx == length {
				parent.AppendElement(value)
			} else {
				parent.SetIndex(idx, value)
			}

			return nil
		}

		var child *document.Value
		if idx < length {
			child = parent.Index(idx)
		}

		if child == nil || (child.Kind() != document.Object && child.Kind() != document.Array) {
			child = document.NewObject()
			if idx == length {
				parent.AppendElement(child)
			} else {
				parent.SetIndex(idx, child)
			}
		}

		return setAt(child, segments[1:], value)

	default:
		return fmt.Errorf("%w: segment %q against non-container", ErrPathTypeMismatch, seg)
	}
}

// Unset removes the value at path within root. Returns true iff a value
// was present to remove.
func Unset(root *document.Value, path string) (bool, error) {
	segments := Split(path)
	if len(segments) == 0 {
		return false, fmt.Errorf("%w: cannot unset the root", ErrPathTypeMismatch)
	}

	parent, ok := Get(root, dropLastSegment(segments))
	if !ok {
		return false, nil
	}

	last := segments[len(segments)-1]

	switch parent.Kind() {
	case document.Object:
		return parent.Delete(last), nil
	case document.Array:
		idx, err := strconv.Atoi(last)
		if err != nil {
			return false, fmt.Errorf("%w: non-integer segment %q against array", ErrPathTypeMismatch, last)
		}

		if idx < 0 || idx >= parent.Len() {
			return false, nil
		}

		parent.RemoveIndex(idx)

		return true, nil
	default:
		return false, nil
	}
}

func dropLastSegment(segments []string) string {
	if len(segments) <= 1 {
		return ""
	}

	return Join(segments[:len(segments)-1])
}
