package radio

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stack-facing failures.
type ErrorKind string

const (
	StackEnableFailed           ErrorKind = "stack_enable_failed"
	StackDisableFailed          ErrorKind = "stack_disable_failed"
	StackBusy                   ErrorKind = "stack_busy"
	AdvertisingStartFailed      ErrorKind = "advertising_start_failed"
	AdvertisingStopFailed       ErrorKind = "advertising_stop_failed"
	ServiceRegistrationFailed   ErrorKind = "service_registration_failed"
	ServiceUnregistrationFailed ErrorKind = "service_unregistration_failed"
	ServiceUnknown              ErrorKind = "service_unknown"
	ConnectionTimeout           ErrorKind = "connection_timeout"
)

// Error is a classified stack failure wrapping the underlying cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors, one per kind, for errors.Is comparisons.
var (
	ErrStackEnableFailed           = &Error{Kind: StackEnableFailed}
	ErrStackDisableFailed          = &Error{Kind: StackDisableFailed}
	ErrStackBusy                   = &Error{Kind: StackBusy}
	ErrAdvertisingStartFailed      = &Error{Kind: AdvertisingStartFailed}
	ErrAdvertisingStopFailed       = &Error{Kind: AdvertisingStopFailed}
	ErrServiceRegistrationFailed   = &Error{Kind: ServiceRegistrationFailed}
	ErrServiceUnregistrationFailed = &Error{Kind: ServiceUnregistrationFailed}
	ErrServiceUnknown              = &Error{Kind: ServiceUnknown}
	ErrConnectionTimeout           = &Error{Kind: ConnectionTimeout}
)

// WrapError classifies err under kind; a nil err stays nil.
func WrapError(kind ErrorKind, err error, msgf string, args ...interface{}) error {
	if err == nil && msgf == "" {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(msgf, args...), Err: err}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}
