// Package ddb is the root package of the DroneDB core: it wires the index,
// delta, tiling, build, and registry subsystems together behind a single
// Database handle, and owns the process-wide one-shot initialization the
// rest of the core depends on (spec.md §9 "Cyclic/global state").
package ddb

import "github.com/dronedb/ddb-core/internal/ddberr"

// ErrorKind classifies every error the core can return, per spec.md §7's
// taxonomy. Re-exported from internal/ddberr so that public callers never
// need to import an internal package to classify an error.
type ErrorKind = ddberr.Kind

// Error kinds, one per spec.md §7 bullet.
const (
	KindUnknown         = ddberr.KindUnknown
	KindFilesystem      = ddberr.KindFilesystem
	KindDatabase        = ddberr.KindDatabase
	KindInvalidArgs     = ddberr.KindInvalidArgs
	KindGDAL            = ddberr.KindGDAL
	KindPointCloud      = ddberr.KindPointCloud
	KindNetwork         = ddberr.KindNetwork
	KindAuth            = ddberr.KindAuth
	KindRegistry        = ddberr.KindRegistry
	KindPullRequired    = ddberr.KindPullRequired
	KindConflict        = ddberr.KindConflict
	KindBuildDepMissing = ddberr.KindBuildDepMissing
)

// Error is the kind-tagged error every core operation returns at its public
// boundary. Re-exported from internal/ddberr.
type Error = ddberr.Error

// New constructs an *Error, wrapping err (which may be nil for a leaf
// failure with no underlying cause to attach).
func New(kind ErrorKind, op string, err error) *Error {
	return ddberr.New(kind, op, err)
}

// KindOf extracts the ErrorKind from err by walking its Unwrap chain. It
// returns KindUnknown if neither err nor anything in its chain is a *Error — the
// coarse fallback the C ABI boundary uses when classifying arbitrary errors
// (spec.md §7 "The C ABI captures the last error … and returns a coarse
// numeric code").
func KindOf(err error) ErrorKind {
	return ddberr.KindOf(err)
}

// Sentinel errors for the common not-found/already-exists cases, checked
// with errors.Is the same way graph.ErrNotFound etc. are checked in the
// teacher (internal/graph/errors.go).
var (
	ErrNotADatabase       = ddberr.ErrNotADatabase
	ErrAlreadyInitialized = ddberr.ErrAlreadyInitialized
	ErrNotIndexed         = ddberr.ErrNotIndexed
	ErrPullRequired       = ddberr.ErrPullRequired
	ErrInvalidArgs        = ddberr.ErrInvalidArgs
)
