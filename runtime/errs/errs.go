// Package errs defines the error taxonomy shared by the agentex runtime.
// Errors fall into three buckets: client errors (bad caller input, never
// retried), service errors (internal invariants violated, operator-visible),
// and everything else, which the workflow engine treats as transient and
// retries according to the activity's retry policy.
package errs

import (
	"errors"
	"fmt"
)

type (
	// ClientError indicates the caller supplied bad input: an unknown action,
	// invalid arguments, a duplicate artifact without overwrite, or a missing
	// reserved context. Client errors surface to the caller and must not be
	// retried.
	ClientError struct {
		Msg string
		Err error
	}

	// ServiceError indicates an internal invariant was violated: a corrupt
	// state blob, a registry lookup failure after successful schema
	// generation, or a malformed completion. Service errors are
	// operator-visible.
	ServiceError struct {
		Msg string
		Err error
	}
)

// Error returns the message, including the wrapped cause when present.
func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *ClientError) Unwrap() error { return e.Err }

// Error returns the message, including the wrapped cause when present.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.Err }

// Clientf builds a ClientError from a format string.
func Clientf(format string, args ...any) error {
	return &ClientError{Msg: fmt.Sprintf(format, args...)}
}

// ClientWrap builds a ClientError wrapping err with a message.
func ClientWrap(err error, format string, args ...any) error {
	return &ClientError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// Servicef builds a ServiceError from a format string.
func Servicef(format string, args ...any) error {
	return &ServiceError{Msg: fmt.Sprintf(format, args...)}
}

// ServiceWrap builds a ServiceError wrapping err with a message.
func ServiceWrap(err error, format string, args ...any) error {
	return &ServiceError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsClient reports whether err is (or wraps) a ClientError.
func IsClient(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsService reports whether err is (or wraps) a ServiceError.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
