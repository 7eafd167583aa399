package core

import (
	"errors"
	"fmt"
)

// ErrNoEvent is the validation reason used when the model found no event
const ErrNoEvent = "no_event"

// TransportError indicates that a mailbox, model provider or calendar
// could not be reached. The message is left unprocessed and retried on
// the next poll.
type TransportError struct {
	Op          string
	RateLimited bool
	Err         error
}

func (e *TransportError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("transport error (%s): rate limited: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError indicates that the model response could not be turned
// into a complete event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// AuthError indicates expired or invalid credentials for one backend.
type AuthError struct {
	Backend string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %v", e.Backend, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FatalConfigError indicates that the process cannot do any useful work.
type FatalConfigError struct {
	Reason string
	Err    error
}

func (e *FatalConfigError) Error() string {
	if e.Err == nil {
		return "fatal configuration error: " + e.Reason
	}
	return fmt.Sprintf("fatal configuration error: %s: %v", e.Reason, e.Err)
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err (or any error in its chain) is a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsValidationError reports whether err (or any error in its chain) is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsFatalConfigError reports whether err (or any error in its chain) is a FatalConfigError.
func IsFatalConfigError(err error) bool {
	var target *FatalConfigError
	return errors.As(err, &target)
}

// IsNoEvent reports whether err says the model found no event at all.
func IsNoEvent(err error) bool {
	var target *ValidationError
	return errors.As(err, &target) && target.Reason == ErrNoEvent
}

// ErrorKind returns a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsAuthError(err):
		return "auth"
	case IsValidationError(err):
		return "validation"
	case IsTransportError(err):
		return "transport"
	case IsFatalConfigError(err):
		return "fatal_config"
	default:
		return "unknown"
	}
}
