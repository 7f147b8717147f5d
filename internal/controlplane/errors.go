package controlplane

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an OrchestrationError independent of any transport,
// matching the error taxonomy the HTTP adapter layer maps onto status
// codes.
type ErrorKind string

const (
	ErrBadRequest      ErrorKind = "bad_request"
	ErrConflict        ErrorKind = "conflict"
	ErrNotFound        ErrorKind = "not_found"
	ErrForbidden       ErrorKind = "forbidden"
	ErrUpstreamFailure ErrorKind = "upstream_failure"
	ErrTimeout         ErrorKind = "timeout"
	ErrInternal        ErrorKind = "internal"
)

// Sentinel errors for conditions common enough to check with errors.Is.
var (
	ErrRequestNotFound        = errors.New("request not found")
	ErrSandboxNotFound        = errors.New("sandbox not found")
	ErrTaskNotFound           = errors.New("task not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrAlreadyClaimed         = errors.New("request already claimed")
	ErrAdmissionLimitExceeded = errors.New("context admission limit exceeded")
)

// OrchestrationError is a classified error carrying the operation that
// failed and the underlying cause, in the style of agent.ToolError.
type OrchestrationError struct {
	Kind  ErrorKind
	Op    string
	Cause error
}

func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// NewError builds an OrchestrationError for op, classifying cause via
// ClassifyError unless kind is given explicitly.
func NewError(kind ErrorKind, op string, cause error) *OrchestrationError {
	return &OrchestrationError{Kind: kind, Op: op, Cause: cause}
}

// ClassifyError maps a sentinel/underlying error to an ErrorKind, falling
// back to ErrInternal for anything unrecognized.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrSandboxNotFound), errors.Is(err, ErrTaskNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrAdmissionLimitExceeded):
		return ErrConflict
	default:
		return ErrInternal
	}
}
