// Package apperr defines the closed set of tagged errors components return
// across module boundaries. The HTTP surface is the only place that
// translates a Code into a status; nothing else inspects err.Error() text.
package apperr

import "fmt"

// Code identifies the class of failure. Exhaustive: every component
// operation either succeeds or returns an *Error with one of these codes.
type Code string

const (
	ValidationFailure Code = "validation_failure"
	NotFound          Code = "not_found"
	Conflict          Code = "conflict"
	WrongState        Code = "wrong_state"
	LimitReached      Code = "limit_reached"
	DependencyMissing Code = "dependency_missing"
	InternalFailure   Code = "internal_failure"
)

// Error is the tagged failure type every component returns.
type Error struct {
	Code    Code
	Message string
	TraceID string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(ValidationFailure, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func WrongStatef(format string, args ...any) *Error {
	return New(WrongState, fmt.Sprintf(format, args...))
}

func LimitReachedf(format string, args ...any) *Error {
	return New(LimitReached, fmt.Sprintf(format, args...))
}

func DependencyMissingf(format string, args ...any) *Error {
	return New(DependencyMissing, fmt.Sprintf(format, args...))
}

// As extracts an *Error from err, if any is in its chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
