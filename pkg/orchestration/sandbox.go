// Package orchestration defines the shared data model for the sandbox
// control plane: sandboxes, queued requests, tasks, tool descriptors, and
// planner output. Both the controlplane and sandboxrt packages operate on
// these types; neither owns them.
package orchestration

import "time"

// SandboxState is the lifecycle state of a sandbox.
type SandboxState string

const (
	SandboxInit SandboxState = "init"
	SandboxIdle SandboxState = "idle"
	SandboxBusy SandboxState = "busy"
	SandboxSlept SandboxState = "slept"
)

// DefaultIdleTimeoutSeconds is applied to a sandbox when none is supplied at
// creation time.
const DefaultIdleTimeoutSeconds = 900

// Sandbox is an isolated compute environment backed by a single container
// plus its volumes.
//
// Invariants: exactly one of IdleFrom/BusyFrom is non-nil while State is
// SandboxIdle/SandboxBusy respectively; both are nil in SandboxInit and
// SandboxSlept. LastContextLength is never negative.
type Sandbox struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	State       SandboxState   `json:"state"`
	Description string         `json:"description,omitempty"`

	// SnapshotOrigin names the sandbox this one was created as a copy of, if any.
	SnapshotOrigin string `json:"snapshot_origin,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Tags     []string       `json:"tags,omitempty"`

	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
	BusyTimeoutSeconds int `json:"busy_timeout_seconds,omitempty"`

	IdleFrom *time.Time `json:"idle_from,omitempty"`
	BusyFrom *time.Time `json:"busy_from,omitempty"`

	ContextCutoffAt    *time.Time `json:"context_cutoff_at,omitempty"`
	LastContextLength  int        `json:"last_context_length"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo reports whether the sandbox may move from its current
// state to next. The graph mirrors the original model's state_helpers:
// init only ever moves forward to idle; idle and busy move to each other,
// to slept, or stay; slept can only be woken back to idle; nothing leaves
// a destroyed sandbox because destruction deletes the row rather than
// transitioning it.
func (s SandboxState) CanTransitionTo(next SandboxState) bool {
	switch s {
	case SandboxInit:
		return next == SandboxIdle
	case SandboxIdle:
		return next == SandboxBusy || next == SandboxSlept || next == SandboxIdle
	case SandboxBusy:
		return next == SandboxIdle || next == SandboxSlept || next == SandboxBusy
	case SandboxSlept:
		return next == SandboxIdle
	default:
		return false
	}
}

// ToIdle returns a copy of the sandbox transitioned to SandboxIdle, setting
// IdleFrom to now and clearing BusyFrom. It is a no-op copy (caller decides
// whether to persist) so store implementations can diff before writing.
func (s Sandbox) ToIdle(now time.Time) Sandbox {
	s.State = SandboxIdle
	s.IdleFrom = &now
	s.BusyFrom = nil
	s.UpdatedAt = now
	return s
}

// ToBusy returns a copy of the sandbox transitioned to SandboxBusy.
func (s Sandbox) ToBusy(now time.Time) Sandbox {
	s.State = SandboxBusy
	s.BusyFrom = &now
	s.IdleFrom = nil
	s.UpdatedAt = now
	return s
}

// ToSlept returns a copy of the sandbox transitioned to SandboxSlept with
// both timers cleared.
func (s Sandbox) ToSlept(now time.Time) Sandbox {
	s.State = SandboxSlept
	s.IdleFrom = nil
	s.BusyFrom = nil
	s.UpdatedAt = now
	return s
}

// ClearContextCutoff resets the context accounting window, used by the
// sandbox's context/clear operation.
func (s Sandbox) ClearContextCutoff(now time.Time) Sandbox {
	s.ContextCutoffAt = &now
	s.LastContextLength = 0
	s.UpdatedAt = now
	return s
}

// WithContextLength returns a copy with LastContextLength set to tokens,
// clamped to zero.
func (s Sandbox) WithContextLength(tokens int) Sandbox {
	if tokens < 0 {
		tokens = 0
	}
	s.LastContextLength = tokens
	return s
}

// CopySpec selects which volumes to carry over when a sandbox is created as
// a remix of an existing one.
type CopySpec struct {
	SandboxID string `json:"sandbox_id"`
	Data      bool   `json:"data,omitempty"`
	Code      bool   `json:"code,omitempty"`
	Secrets   bool   `json:"secrets,omitempty"`
	Content   bool   `json:"content,omitempty"`
}

// IsEmpty reports whether no volumes were selected for copying.
func (c *CopySpec) IsEmpty() bool {
	return c == nil || (!c.Data && !c.Code && !c.Secrets && !c.Content)
}
