package orchestration

import (
	"testing"
	"time"
)

func TestCanonicalOutputType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"markdown", itemTypeMD},
		{"md", itemTypeMD},
		{"MD", itemTypeMD},
		{"json", itemTypeJSON},
		{"stdout", itemTypeStdout},
		{"stderr", itemTypeStderr},
		{"exit_code", itemTypeExitCode},
		{"commentary", itemTypeCommentary},
		{"bogus", itemTypeText},
		{"", itemTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := canonicalOutputType(tt.raw); got != tt.want {
				t.Errorf("canonicalOutputType(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestContentItem_Normalize_Idempotent(t *testing.T) {
	items := []ContentItem{
		{Type: "markdown", Content: "hello"},
		{Type: "json", Content: map[string]any{"a": 1}},
		{Type: "unknown", Content: 42},
		{Type: "text", Content: map[string]any{"content": "nested"}},
		{Type: "text", Content: map[string]any{"text": "nested-text"}},
		{Type: "text", Content: nil},
		{Type: "text", Content: true},
	}
	for _, item := range items {
		once := item.Normalize()
		twice := once.Normalize()
		if once.Type != twice.Type || once.Content != twice.Content {
			t.Errorf("Normalize not idempotent for %+v: once=%+v twice=%+v", item, once, twice)
		}
	}
}

func TestContentItem_Normalize_CoercesNestedContent(t *testing.T) {
	item := ContentItem{Type: "text", Content: map[string]any{"content": "inner"}}
	got := item.Normalize()
	if got.Content != "inner" {
		t.Errorf("Content = %v, want %q", got.Content, "inner")
	}
}

func TestContentItem_Normalize_JSONPreservesRawContent(t *testing.T) {
	item := ContentItem{Type: "json", Content: map[string]any{"a": 1}}
	got := item.Normalize()
	if _, ok := got.Content.(map[string]any); !ok {
		t.Errorf("json item content should remain structured, got %T", got.Content)
	}
}

func TestNewTask_TimeoutAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := NewTask("sandbox-1", TaskTypeSH, nil, false, 30, now)
	if task.TimeoutAt == nil {
		t.Fatal("expected TimeoutAt to be set")
	}
	want := now.Add(30 * time.Second)
	if !task.TimeoutAt.Equal(want) {
		t.Errorf("TimeoutAt = %v, want %v", task.TimeoutAt, want)
	}

	zeroTimeout := NewTask("sandbox-1", TaskTypeSH, nil, false, 0, now)
	if zeroTimeout.TimeoutAt != nil {
		t.Errorf("expected nil TimeoutAt for zero timeout_seconds, got %v", zeroTimeout.TimeoutAt)
	}
}

func TestTask_WithTimeoutSeconds_RecomputesOrClears(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := NewTask("sandbox-1", TaskTypeNL, nil, false, 60, now)

	later := now.Add(time.Minute)
	updated := task.WithTimeoutSeconds(120, later)
	want := later.Add(120 * time.Second)
	if updated.TimeoutAt == nil || !updated.TimeoutAt.Equal(want) {
		t.Errorf("TimeoutAt = %v, want %v", updated.TimeoutAt, want)
	}

	cleared := task.WithTimeoutSeconds(0, later)
	if cleared.TimeoutAt != nil {
		t.Errorf("expected TimeoutAt cleared, got %v", cleared.TimeoutAt)
	}
}

func TestTask_WithContextLength_ClampsNegative(t *testing.T) {
	now := time.Now()
	task := NewTask("sandbox-1", TaskTypeNL, nil, false, 0, now)
	task = task.WithContextLength(-5, now)
	if task.ContextLength != 0 {
		t.Errorf("ContextLength = %d, want 0", task.ContextLength)
	}
	task = task.WithContextLength(42, now)
	if task.ContextLength != 42 {
		t.Errorf("ContextLength = %d, want 42", task.ContextLength)
	}
}

func TestTask_AppendSteps_GrowsOnly(t *testing.T) {
	now := time.Now()
	task := NewTask("sandbox-1", TaskTypeNL, nil, false, 0, now)
	task = task.AppendSteps([]TaskStep{{Index: 0, Role: "model"}}, now)
	if len(task.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(task.Steps))
	}
	task = task.AppendSteps([]TaskStep{{Index: 1, Role: "tool"}}, now)
	if len(task.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(task.Steps))
	}
	if task.Steps[0].Role != "model" || task.Steps[1].Role != "tool" {
		t.Errorf("steps out of order: %+v", task.Steps)
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskQueued, false},
		{TaskRunning, false},
		{TaskCompleted, true},
		{TaskFailed, true},
		{TaskTimedOut, true},
		{TaskCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseTaskType(t *testing.T) {
	tests := []struct {
		raw  string
		want TaskType
	}{
		{"sh", TaskTypeSH},
		{"bash", TaskTypeSH},
		{"py", TaskTypePY},
		{"python", TaskTypePY},
		{"js", TaskTypeJS},
		{"node", TaskTypeJS},
		{"nl", TaskTypeNL},
		{"", TaskTypeNL},
		{"anything-else", TaskTypeNL},
	}
	for _, tt := range tests {
		if got := ParseTaskType(tt.raw); got != tt.want {
			t.Errorf("ParseTaskType(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestTask_IsOverdue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := NewTask("sandbox-1", TaskTypeNL, nil, false, 10, now)
	if task.IsOverdue(now.Add(5 * time.Second)) {
		t.Error("task should not be overdue yet")
	}
	if !task.IsOverdue(now.Add(11 * time.Second)) {
		t.Error("task should be overdue")
	}
}
