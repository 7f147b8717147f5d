package controlplane

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"request not found", ErrRequestNotFound, ErrNotFound},
		{"sandbox not found", ErrSandboxNotFound, ErrNotFound},
		{"task not found", ErrTaskNotFound, ErrNotFound},
		{"invalid transition", ErrInvalidTransition, ErrConflict},
		{"already claimed", ErrAlreadyClaimed, ErrConflict},
		{"admission limit exceeded", ErrAdmissionLimitExceeded, ErrConflict},
		{"unrecognized", errors.New("boom"), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOrchestrationError_Error(t *testing.T) {
	err := NewError(ErrNotFound, "GetSandbox", ErrSandboxNotFound)
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty error string")
	}
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Error("expected errors.Is to see through to the wrapped sentinel")
	}
}

func TestOrchestrationError_Error_NoCause(t *testing.T) {
	err := NewError(ErrBadRequest, "CreateSandbox", nil)
	want := "CreateSandbox: bad_request"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestOrchestrationError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewError(ErrInternal, "op", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause to errors.Is")
	}
}
