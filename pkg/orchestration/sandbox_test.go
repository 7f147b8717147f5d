package orchestration

import (
	"testing"
	"time"
)

func TestSandboxState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from SandboxState
		to   SandboxState
		want bool
	}{
		{SandboxInit, SandboxIdle, true},
		{SandboxInit, SandboxBusy, false},
		{SandboxIdle, SandboxBusy, true},
		{SandboxIdle, SandboxSlept, true},
		{SandboxBusy, SandboxIdle, true},
		{SandboxBusy, SandboxSlept, true},
		{SandboxSlept, SandboxIdle, true},
		{SandboxSlept, SandboxBusy, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s->%s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSandbox_ToIdle_ToBusy_ExactlyOneTimerSet(t *testing.T) {
	now := time.Now()
	s := Sandbox{State: SandboxInit}

	idle := s.ToIdle(now)
	if idle.IdleFrom == nil || idle.BusyFrom != nil {
		t.Errorf("idle transition invariant violated: idle_from=%v busy_from=%v", idle.IdleFrom, idle.BusyFrom)
	}

	busy := idle.ToBusy(now.Add(time.Second))
	if busy.BusyFrom == nil || busy.IdleFrom != nil {
		t.Errorf("busy transition invariant violated: idle_from=%v busy_from=%v", busy.IdleFrom, busy.BusyFrom)
	}
}

func TestSandbox_ToSlept_ClearsBothTimers(t *testing.T) {
	now := time.Now()
	s := Sandbox{State: SandboxBusy, BusyFrom: &now}
	slept := s.ToSlept(now)
	if slept.IdleFrom != nil || slept.BusyFrom != nil {
		t.Errorf("slept sandbox must have no timers set, got idle_from=%v busy_from=%v", slept.IdleFrom, slept.BusyFrom)
	}
}

func TestSandbox_WithContextLength_ClampsNegative(t *testing.T) {
	s := Sandbox{}
	s = s.WithContextLength(-10)
	if s.LastContextLength != 0 {
		t.Errorf("LastContextLength = %d, want 0", s.LastContextLength)
	}
	s = s.WithContextLength(500)
	if s.LastContextLength != 500 {
		t.Errorf("LastContextLength = %d, want 500", s.LastContextLength)
	}
}

func TestSandbox_ClearContextCutoff(t *testing.T) {
	now := time.Now()
	s := Sandbox{LastContextLength: 1000}
	cleared := s.ClearContextCutoff(now)
	if cleared.LastContextLength != 0 {
		t.Errorf("LastContextLength = %d, want 0", cleared.LastContextLength)
	}
	if cleared.ContextCutoffAt == nil || !cleared.ContextCutoffAt.Equal(now) {
		t.Errorf("ContextCutoffAt = %v, want %v", cleared.ContextCutoffAt, now)
	}
}

func TestCopySpec_IsEmpty(t *testing.T) {
	if !(*CopySpec)(nil).IsEmpty() {
		t.Error("nil CopySpec should be empty")
	}
	if !(&CopySpec{}).IsEmpty() {
		t.Error("zero-value CopySpec should be empty")
	}
	if (&CopySpec{Code: true}).IsEmpty() {
		t.Error("CopySpec with Code set should not be empty")
	}
}
