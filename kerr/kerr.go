// Package kerr defines the single error type that carries every failure
// across a package boundary in stencilkit. Most exported functions that can
// fail return an error built with New, Newf or Wrap; callers that need to
// branch on failure category use errors.As to recover the Kind.
package kerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed. Callers at the host API boundary
// switch on Kind rather than matching error strings.
type Kind int

const (
	// Unknown is the zero value and should never appear in a returned error.
	Unknown Kind = iota
	InvalidDim
	LayoutMismatch
	DomainTooSmall
	BadRankLayout
	MisalignedRanks
	NotPrepared
	NoStorage
	UnsupportedFeature
	MpiFailure
	IoFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidDim:
		return "InvalidDim"
	case LayoutMismatch:
		return "LayoutMismatch"
	case DomainTooSmall:
		return "DomainTooSmall"
	case BadRankLayout:
		return "BadRankLayout"
	case MisalignedRanks:
		return "MisalignedRanks"
	case NotPrepared:
		return "NotPrepared"
	case NoStorage:
		return "NoStorage"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	case MpiFailure:
		return "MpiFailure"
	case IoFailure:
		return "IoFailure"
	default:
		return "Unknown"
	}
}

// Error is the concrete type every exported stencilkit function returns on
// failure. It wraps an optional cause so errors.Is/errors.As still see
// through to whatever failed underneath (a transport error, a parse error).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries cause as its Unwrap target. If cause is
// nil, Wrap returns nil, so it's safe to use as `return kerr.Wrap(...)` at
// the end of a function that may or may not have failed.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf reports the Kind of err if it is, or wraps, a *Error, and Unknown
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
