// Package ferrors defines the error taxonomy shared across the dataset
// engine: a small set of typed, wrapped errors plus the caller-visible
// Kind classification a transport layer maps to its own status codes.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way a caller outside the engine sees it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidSchema
	KindAborted
	KindFailedPrecondition
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidSchema:
		return "InvalidSchema"
	case KindAborted:
		return "Aborted"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a tagged error value: a Kind for caller classification, a
// Code naming the component-level variant (e.g. "Locked", "NotEmpty"),
// and a wrapped cause.
type Error struct {
	Kind  Kind
	Code  string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Wrap builds an Error that carries cause as its chain, annotated with
// msg via github.com/pkg/errors, which records a stack trace at the
// Wrap call, attaching context at the boundary rather than deep in
// plumbing. %+v on the unwrapped cause prints that trace; an *Error
// itself formats through Error() and prints no trace.
func Wrap(kind Kind, code string, cause error, msg string) *Error {
	if cause == nil {
		return New(kind, code)
	}
	return &Error{Kind: kind, Code: code, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err is a *Error with the given code, looking
// through wrapped causes.
func Is(err error, code string) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
			break
		}
		err = errors.Unwrap(err)
	}
	return fe != nil && fe.Code == code
}

// KindOf extracts the Kind of err, or KindUnknown if err is not (and
// does not wrap) a *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// Workspace error codes.
const (
	CodeNotWorkspace       = "NotWorkspace"
	CodeVersionMismatch    = "VersionMismatch"
	CodeLocked             = "Locked"
	CodeNotEmpty           = "NotEmpty"
	CodeAlreadyInitialized = "AlreadyInitialized"
	CodeWorkspaceIO        = "IoError"
)

// Catalog error codes.
const (
	CodeCatalogNotFound  = "NotFound"
	CodeCatalogConflict  = "Conflict"
	CodeCatalogIO        = "IoError"
	CodeCatalogSchemaVer = "SchemaVersion"
)

// Dataset-type (schema) error codes.
const (
	CodeUnsupportedType = "UnsupportedType"
	CodeTypeMismatch    = "Mismatch"
	CodeMalformed       = "Malformed"
)

// Write error codes.
const (
	CodeSchemaMismatch = "SchemaMismatch"
	CodeProducerError  = "ProducerError"
	CodeWriterIO       = "WriterIo"
	CodeCancelled      = "Cancelled"
)

// Read error codes.
const (
	CodeReadNotFound  = "NotFound"
	CodeInvalidFormat = "InvalidFormat"
	CodeReadIO        = "Io"
	CodeNoData        = "NoData"
)
