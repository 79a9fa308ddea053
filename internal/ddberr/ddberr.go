// Package ddberr implements the kind-tagged error taxonomy spec.md §7
// defines. It lives under internal/ (rather than in the root package) so
// every subsystem package (index, meta, delta, tiling, build, registry,
// profile) can import it without creating an import cycle back to the root
// Database facade, which in turn re-exports these names for callers.
package ddberr

import (
	"errors"
	"fmt"
)

// Kind classifies every error the core can return, per spec.md §7's
// taxonomy. It is not a Go error type itself — Error wraps it with context.
type Kind int

// Error kinds, one per spec.md §7 bullet.
const (
	KindUnknown Kind = iota
	KindFilesystem
	KindDatabase
	KindInvalidArgs
	KindGDAL
	KindPointCloud
	KindNetwork
	KindAuth
	KindRegistry
	KindPullRequired // distinguished Registry subkind (spec.md §7)
	KindConflict     // returned as data, see delta.Conflict; rarely wrapped as an Error
	KindBuildDepMissing
)

// String renders the kind the way CLI/binding layers would report it.
func (k Kind) String() string {
	switch k {
	case KindFilesystem:
		return "FilesystemError"
	case KindDatabase:
		return "DatabaseError"
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindGDAL:
		return "GDALError"
	case KindPointCloud:
		return "PointCloudError"
	case KindNetwork:
		return "NetworkError"
	case KindAuth:
		return "Auth"
	case KindRegistry:
		return "Registry"
	case KindPullRequired:
		return "PullRequired"
	case KindConflict:
		return "Conflict"
	case KindBuildDepMissing:
		return "BuildDepMissing"
	default:
		return "Unknown"
	}
}

// Error is the kind-tagged error every core operation returns at its public
// boundary, mirroring the teacher's GraphError{StatusCode, RequestID,
// Message, Err} shape (internal/graph/errors.go) but generalized to
// spec.md's own taxonomy instead of HTTP status codes.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "index.Add", "registry.Pull"
	Err  error  // wrapped cause, nil for leaf errors
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ddb: %s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("ddb: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error, wrapping err (which may be nil for a leaf
// failure with no underlying cause to attach).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err by walking its Unwrap chain. It returns
// KindUnknown if neither err nor anything in its chain is a *Error — the coarse
// fallback the C ABI boundary uses when classifying arbitrary errors
// (spec.md §7 "The C ABI captures the last error … and returns a coarse
// numeric code").
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// Sentinel errors for the common not-found/already-exists cases, checked
// with errors.Is the same way graph.ErrNotFound etc. are checked in the
// teacher (internal/graph/errors.go).
var (
	ErrNotADatabase       = errors.New("ddb: not a database")
	ErrAlreadyInitialized = errors.New("ddb: already initialized")
	ErrNotIndexed         = errors.New("ddb: path not indexed")
	ErrPullRequired       = errors.New("ddb: pull required before push")
	ErrInvalidArgs        = errors.New("ddb: invalid arguments")
)
