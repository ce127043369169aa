// Package errs defines the error kinds surfaced by the orchestration
// core. Callers classify failures with Is rather than matching
// message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindValidation means input does not meet declared shape/bounds.
	KindValidation
	// KindNotFound means a referenced element does not exist.
	KindNotFound
	// KindConflict means an illegal state transition, id-generation
	// exhaustion, or a persistent version mismatch.
	KindConflict
	// KindConstraint means a structural limit was hit (hierarchy
	// depth, capacity).
	KindConstraint
	// KindExternal means a collaborator (store, git, session manager,
	// dispatch) failed.
	KindExternal
	// KindTimeout means an operation exceeded its budget.
	KindTimeout
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindConstraint:
		return "constraint"
	case KindExternal:
		return "external"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is an error carrying a kind and an optional cause.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Msg is the human-readable description.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether any error in err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
		e = nil
	}
	return false
}

// KindOf returns the kind of the outermost classified error in the
// chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
