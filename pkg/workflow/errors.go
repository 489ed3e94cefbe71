package workflow

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBusy is returned while another request of the session is in flight.
	ErrBusy = errors.New("workflow request already in flight")
	// ErrStaleResponse is returned when the session was reset while the
	// request was pending. The response has been discarded.
	ErrStaleResponse = errors.New("workflow was reset while the request was pending")
)

// ValidationError is caught before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PreconditionError means the operation was called in the wrong stage or
// without the state it needs.
type PreconditionError struct {
	Op    string
	Stage Stage
	Need  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s in stage %s: %s", e.Op, e.Stage, e.Need)
}

// RequestFailure is a failed workflow request. Detail is the text shown to
// the user.
type RequestFailure struct {
	Stage  Stage
	Detail string
	Err    error
}

func (e *RequestFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s request failed: %s", e.Stage, e.Detail)
}

func (e *RequestFailure) Unwrap() error { return e.Err }
