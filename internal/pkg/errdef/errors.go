package errdef

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindConfiguration covers misconfiguration detected at configure time.
	// These are the only errors the library raises loudly.
	KindConfiguration Kind = "CONFIGURATION"
	// KindCapture covers body read/parse and filter evaluation failures.
	KindCapture Kind = "CAPTURE"
	// KindPersistence covers sink write and record validation failures.
	KindPersistence Kind = "PERSISTENCE"
	// KindConnection covers a named sink connection that could not be resolved.
	KindConnection Kind = "CONNECTION"
)

// Error is the standard error struct for the library.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Configurationf(format string, args ...any) *Error {
	return New(KindConfiguration, fmt.Sprintf(format, args...), nil)
}

func Capture(msg string, cause error) *Error {
	return New(KindCapture, msg, cause)
}

func Persistence(msg string, cause error) *Error {
	return New(KindPersistence, msg, cause)
}

func Connection(msg string, cause error) *Error {
	return New(KindConnection, msg, cause)
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
