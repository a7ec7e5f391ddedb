// Package errors defines the failure taxonomy shared by every stage of the
// gateway: registry construction, graph decoding, bundle resolution and
// persistence. Each failure carries a Kind plus, where known, the entity it
// concerns so a caller can correct and resubmit the offending entry.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a gateway failure
type Kind string

const (
	// UnknownType is returned when an entity type name is not registered
	UnknownType Kind = "UnknownType"
	// SchemaInconsistency is returned while building the registry
	SchemaInconsistency Kind = "SchemaInconsistency"
	// ValidationFailed is returned for missing or invalid entity values
	ValidationFailed Kind = "ValidationFailed"
	// UnresolvableDependencyCycle is returned when added entries reference each other with no nullable edge
	UnresolvableDependencyCycle Kind = "UnresolvableDependencyCycle"
	// ConcurrencyConflict is returned when a guarded update or delete affects no rows
	ConcurrencyConflict Kind = "ConcurrencyConflict"
	// ReferentialIntegrityViolation is returned when the store rejects a foreign key
	ReferentialIntegrityViolation Kind = "ReferentialIntegrityViolation"
	// DanglingReference is returned when a serialized graph references an undefined token
	DanglingReference Kind = "DanglingReference"
	// StoreUnavailable is returned for collaborator failures and timeouts
	StoreUnavailable Kind = "StoreUnavailable"
)

// Kinds lists every kind in declaration order
var Kinds = []Kind{
	UnknownType,
	SchemaInconsistency,
	ValidationFailed,
	UnresolvableDependencyCycle,
	ConcurrencyConflict,
	ReferentialIntegrityViolation,
	DanglingReference,
	StoreUnavailable,
}

// Sentinel errors, one per kind, for use with errors.Is
var (
	ErrUnknownType                   = &sentinel{UnknownType}
	ErrSchemaInconsistency           = &sentinel{SchemaInconsistency}
	ErrValidationFailed              = &sentinel{ValidationFailed}
	ErrUnresolvableDependencyCycle   = &sentinel{UnresolvableDependencyCycle}
	ErrConcurrencyConflict           = &sentinel{ConcurrencyConflict}
	ErrReferentialIntegrityViolation = &sentinel{ReferentialIntegrityViolation}
	ErrDanglingReference             = &sentinel{DanglingReference}
	ErrStoreUnavailable              = &sentinel{StoreUnavailable}
)

type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string {
	return "northwind: " + string(s.kind)
}

// Sentinel returns the errors.Is target for a kind
func Sentinel(kind Kind) error {
	switch kind {
	case UnknownType:
		return ErrUnknownType
	case SchemaInconsistency:
		return ErrSchemaInconsistency
	case ValidationFailed:
		return ErrValidationFailed
	case UnresolvableDependencyCycle:
		return ErrUnresolvableDependencyCycle
	case ConcurrencyConflict:
		return ErrConcurrencyConflict
	case ReferentialIntegrityViolation:
		return ErrReferentialIntegrityViolation
	case DanglingReference:
		return ErrDanglingReference
	case StoreUnavailable:
		return ErrStoreUnavailable
	default:
		return nil
	}
}

// Error is a structured gateway failure
type Error struct {
	Kind Kind
	// EntityType names the type of the offending entity, if any
	EntityType string
	// Key holds the submitted key values of the offending entity (temporary or permanent)
	Key []any
	// Property names the offending property, if any
	Property string
	Message  string
	Err      error
}

// New creates an Error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ForEntity attaches the offending entity to the error
func (e *Error) ForEntity(entityType string, key []any) *Error {
	e.EntityType = entityType
	e.Key = key
	return e
}

// ForProperty attaches the offending property to the error
func (e *Error) ForProperty(name string) *Error {
	e.Property = name
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("northwind: ")
	b.WriteString(string(e.Kind))
	if e.EntityType != "" {
		b.WriteString(" [")
		b.WriteString(e.EntityType)
		if len(e.Key) > 0 {
			fmt.Fprintf(&b, " %v", e.Key)
		}
		b.WriteString("]")
	}
	if e.Property != "" {
		b.WriteString(" ")
		b.WriteString(e.Property)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// Retryable reports whether a caller may resubmit the same request
func (e *Error) Retryable() bool {
	return e.Kind == StoreUnavailable
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	var s *sentinel
	if stderrors.As(err, &s) {
		return s.kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is safe to retry automatically.
// Only StoreUnavailable qualifies: it implies nothing was applied.
func IsRetryable(err error) bool {
	return KindOf(err) == StoreUnavailable
}
