// Package fleeterr defines the error taxonomy used across the coordination
// fabric (spec §7): a kind-tagged error type supporting errors.Is/As
// dispatch at call sites, generalizing the teacher's single sentinel
// pattern to cover the nine failure kinds below.
package fleeterr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure handled uniformly across the system.
type Kind string

const (
	TransientNetwork       Kind = "transient_network"
	NotRegistered          Kind = "not_registered"
	ServiceNotFound        Kind = "service_not_found"
	RequestForwardingError Kind = "request_forwarding_error"
	CapabilityFatal        Kind = "capability_fatal"
	RegistrationFatal      Kind = "registration_fatal"
	TunnelUnavailable      Kind = "tunnel_unavailable"
	TunnelTimeout          Kind = "tunnel_timeout"
	Busy                   Kind = "busy"
)

// Error is the fabric's error type: a kind tag, a human message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, fleeterr.New(kind, "")) style kind comparisons:
// two *Error values match if their Kind fields match, regardless of Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// sentinel helpers for errors.Is(err, fleeterr.ErrNotRegistered) call sites.
var (
	ErrNotRegistered     = New(NotRegistered, "worker not registered")
	ErrServiceNotFound   = New(ServiceNotFound, "no worker serves the requested service")
	ErrTunnelUnavailable = New(TunnelUnavailable, "tunnel binary not available")
	ErrTunnelTimeout     = New(TunnelTimeout, "timed out waiting for tunnel URL")
	ErrBusy              = New(Busy, "outbound concurrency limit reached")
)
