package jsondb

import (
	"errors"
	"strings"
)

// Error is the uniform error type returned by every public jsondb API.
// It carries whichever of path, index name, and validation issues are
// known at the point of failure, appended to the underlying message:
//
//	path: type mismatch: non-integer segment "x" against array (path=users.0.x)
//
// Use [errors.Is]/[errors.As] to inspect the cause or recover structured
// fields, following the wrap/withX convention of the document-store
// indexing layer this engine is built on top of.
type Error struct {
	Path      string
	IndexName string
	Issues    []string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for [errors.Is]/[errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}

	if e.IndexName != "" {
		parts = append(parts, "index="+e.IndexName)
	}

	if len(e.Issues) > 0 {
		parts = append(parts, "issues="+strings.Join(e.Issues, ";"))
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

type errOpt func(*Error)

func withPath(path string) errOpt { return func(e *Error) { e.Path = path } }

func withIndexName(name string) errOpt { return func(e *Error) { e.IndexName = name } }

func withIssues(issues ...string) errOpt { return func(e *Error) { e.Issues = issues } }

// wrap creates an [*Error] carrying opts, inheriting and extending any
// context already present if err is itself an [*Error].
func wrap(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	isDirectError := errors.As(err, &existing)

	if isDirectError && len(opts) == 0 {
		return existing
	}

	e := &Error{Err: err}

	if isDirectError {
		e.Path = existing.Path
		e.IndexName = existing.IndexName
		e.Issues = existing.Issues
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Error kinds, per the taxonomy this engine implements. Subkinds of
// InitError in the taxonomy (FileMissing, SyntaxInvalid, DecryptionFailed,
// PathEscape, BadKeyLength, LockUnavailable) are distinct sentinels here
// rather than a nested enum, matched the Go way via [errors.Is].
var (
	ErrFileMissing      = errors.New("jsondb: canonical file missing")
	ErrSyntaxInvalid    = errors.New("jsondb: document has invalid syntax")
	ErrDecryptionFailed = errors.New("jsondb: decryption failed")
	ErrPathEscape       = errors.New("jsondb: filename escapes the working directory")
	ErrBadKeyLength     = errors.New("jsondb: key must be exactly 32 bytes")
	ErrLockUnavailable  = errors.New("jsondb: advisory lock unavailable")

	ErrDurabilityFailed  = errors.New("jsondb: durability failed")
	ErrValidationFailed  = errors.New("jsondb: validation failed")
	ErrTransactionAborted = errors.New("jsondb: transaction callback returned no root")
	ErrEngineUnusable    = errors.New("jsondb: engine unusable")
)
