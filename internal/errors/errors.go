package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the session core
var (
	// Environment and bridge errors
	ErrEnvironmentUnsupported = errors.New("environment unsupported")
	ErrScriptLoadFailed       = errors.New("script load failed")
	ErrBridgeConfigFailed     = errors.New("bridge config failed")
	ErrBridgeCapabilityFailed = errors.New("bridge capability failed")

	// Authentication errors
	ErrCodeExchangeFailed = errors.New("code exchange failed")
	ErrCodeConsumed       = errors.New("authorization code already consumed")
	ErrStateMismatch      = errors.New("state mismatch")
	ErrNotAuthenticated   = errors.New("not authenticated")

	// Transport errors
	ErrNetwork = errors.New("network error")

	// Lifecycle errors
	ErrNotReady       = errors.New("not ready")
	ErrConfigConflict = errors.New("session config already set")

	// ErrRedirectPending is returned when a hard navigation has been issued.
	// The host is about to unload, so callers should stop work rather than
	// treat it as a failure.
	ErrRedirectPending = errors.New("redirect pending")
)

// Error is the normalised error returned at manager boundaries. Kind is one of
// the sentinel errors above, Payload keeps the original vendor or HTTP data.
type Error struct {
	Kind    error
	Context string
	Message string
	Payload any
	Err     error
}

// New builds a normalised error.
func New(kind error, context, message string, payload any, cause error) *Error {
	return &Error{
		Kind:    kind,
		Context: context,
		Message: message,
		Payload: payload,
		Err:     cause,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Context, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Context, msg)
}

func (e *Error) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.Kind != nil {
		unwrapped = append(unwrapped, e.Kind)
	}
	if e.Err != nil {
		unwrapped = append(unwrapped, e.Err)
	}
	return unwrapped
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
