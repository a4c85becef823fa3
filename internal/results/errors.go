package results

import (
	"errors"
	"fmt"
)

// Reason classifies why a remote operation did not succeed.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonAuthentication Reason = "authentication"
	ReasonNotFound       Reason = "not_found"
	ReasonPermission     Reason = "permission"
	ReasonRejected       Reason = "rejected"
	ReasonTransport      Reason = "transport"
	ReasonInvalidInput   Reason = "invalid_input"
)

// Error is the failure outcome of an adapter operation.
type Error struct {
	Action string
	Reason Reason
	Err    error
}

// Fail builds an *Error for action.
func Fail(action string, reason Reason, err error) *Error {
	return &Error{Action: action, Reason: reason, Err: err}
}

// Failf is Fail with a formatted cause.
func Failf(action string, reason Reason, format string, args ...any) *Error {
	return &Error{Action: action, Reason: reason, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Action, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf returns the reason carried by err, ReasonNone for nil and
// ReasonTransport for errors that did not come from an adapter.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonTransport
}

// IsNotFound reports whether err describes an absent record.
func IsNotFound(err error) bool { return ReasonOf(err) == ReasonNotFound }
