package orchestration

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskType identifies the kind of input a Task carries.
type TaskType string

const (
	TaskTypeNL TaskType = "nl" // natural-language prompt
	TaskTypeSH TaskType = "sh" // shell command
	TaskTypePY TaskType = "py" // python snippet
	TaskTypeJS TaskType = "js" // javascript snippet
)

// ParseTaskType maps a wire/db value to a TaskType, defaulting to
// TaskTypeNL for anything unrecognized rather than erroring — task type is
// advisory context for the executor's system prompt, not a hard contract.
func ParseTaskType(s string) TaskType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sh", "shell", "bash":
		return TaskTypeSH
	case "py", "python":
		return TaskTypePY
	case "js", "javascript", "node", "nodejs":
		return TaskTypeJS
	default:
		return TaskTypeNL
	}
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status represents a finished task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	default:
		return false
	}
}

// ContentItem is one element of a task's input or normalized output.
// Type is canonicalized by Normalize to one of mdType/textType/jsonType/
// stdoutType/stderrType/exitCodeType/commentaryType.
type ContentItem struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Content any    `json:"content"`
}

const (
	itemTypeMD        = "md"
	itemTypeText      = "text"
	itemTypeJSON      = "json"
	itemTypeStdout    = "stdout"
	itemTypeStderr    = "stderr"
	itemTypeExitCode  = "exit_code"
	itemTypeCommentary = "commentary"
)

// canonicalOutputType maps a raw type string to its canonical form. Unknown
// types fall back to "text" — the same default the original system used so
// that an unrecognized item is never silently dropped.
func canonicalOutputType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "markdown", "md":
		return itemTypeMD
	case "json":
		return itemTypeJSON
	case "stdout":
		return itemTypeStdout
	case "stderr":
		return itemTypeStderr
	case "exit_code", "exitcode":
		return itemTypeExitCode
	case "commentary":
		return itemTypeCommentary
	default:
		return itemTypeText
	}
}

// Normalize canonicalizes an item's Type and, for every non-json type,
// coerces Content to a string. It is idempotent: Normalize(Normalize(x))
// equals Normalize(x) for any x.
func (i ContentItem) Normalize() ContentItem {
	out := i
	out.Type = canonicalOutputType(i.Type)
	if out.Type == itemTypeJSON {
		return out
	}
	out.Content = coerceToString(i.Content)
	return out
}

// coerceToString flattens nested output shapes the way the original
// output-normalization routine did: strings pass through, numbers/bools are
// formatted, and objects are searched for a nested "content" or "text"
// field before falling back to a JSON dump.
func coerceToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		if nested, ok := val["content"]; ok {
			return coerceToString(nested)
		}
		if nested, ok := val["text"]; ok {
			return coerceToString(nested)
		}
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		// json.Marshal wraps bare strings in quotes; numbers/bools/arrays
		// are returned as their literal JSON representation, matching the
		// original's Value::String/Number/Bool handling.
		return string(b)
	}
}

// NormalizeOutputItems canonicalizes every item in a slice, in order.
func NormalizeOutputItems(items []ContentItem) []ContentItem {
	out := make([]ContentItem, len(items))
	for i, item := range items {
		out[i] = item.Normalize()
	}
	return out
}

// TaskStep records one inference/tool turn in a task's append-only trace.
type TaskStep struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"` // "model" | "tool"
	Tool      string    `json:"tool,omitempty"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskOutput holds a task's final rendered text plus its normalized
// structured items.
type TaskOutput struct {
	Text  string        `json:"text,omitempty"`
	Items []ContentItem `json:"items,omitempty"`
}

// Normalize returns a copy of the output with Items canonicalized.
func (o TaskOutput) Normalize() TaskOutput {
	o.Items = NormalizeOutputItems(o.Items)
	return o
}

// Task is a unit of work executed inside a sandbox by the Task Executor.
//
// Invariants: Steps only grows (callers must append, never replace or
// truncate); ContextLength is never negative; TimeoutAt is recomputed
// whenever TimeoutSeconds changes to a positive value and cleared when it
// is set to zero or below.
type Task struct {
	ID        string     `json:"id"`
	SandboxID string     `json:"sandbox_id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`

	Input  []ContentItem `json:"input"`
	Output TaskOutput    `json:"output"`
	Steps  []TaskStep    `json:"steps"`

	ContextLength int `json:"context_length"`

	Background     bool       `json:"background"`
	TimeoutSeconds int        `json:"timeout_seconds,omitempty"`
	TimeoutAt      *time.Time `json:"timeout_at,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask builds a queued Task with a fresh id-less zero value; callers set
// ID once the store assigns one. TimeoutAt is computed from TimeoutSeconds
// relative to now, matching SandboxTask::create in the original model.
func NewTask(sandboxID string, typ TaskType, input []ContentItem, background bool, timeoutSeconds int, now time.Time) Task {
	t := Task{
		SandboxID:      sandboxID,
		Type:           typ,
		Status:         TaskQueued,
		Input:          input,
		Output:         TaskOutput{},
		Steps:          []TaskStep{},
		Background:     background,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if timeoutSeconds > 0 {
		at := now.Add(time.Duration(timeoutSeconds) * time.Second)
		t.TimeoutAt = &at
	}
	return t
}

// WithTimeoutSeconds returns a copy with TimeoutSeconds (and the derived
// TimeoutAt) updated relative to now.
func (t Task) WithTimeoutSeconds(seconds int, now time.Time) Task {
	t.TimeoutSeconds = seconds
	if seconds > 0 {
		at := now.Add(time.Duration(seconds) * time.Second)
		t.TimeoutAt = &at
	} else {
		t.TimeoutAt = nil
	}
	t.UpdatedAt = now
	return t
}

// AppendSteps returns a copy of the task with newSteps appended to its
// existing trace. Steps is append-only by contract; this is the only
// sanctioned way to grow it.
func (t Task) AppendSteps(newSteps []TaskStep, now time.Time) Task {
	t.Steps = append(append([]TaskStep{}, t.Steps...), newSteps...)
	t.UpdatedAt = now
	return t
}

// WithContextLength returns a copy with ContextLength set, clamped to zero.
func (t Task) WithContextLength(tokens int, now time.Time) Task {
	if tokens < 0 {
		tokens = 0
	}
	t.ContextLength = tokens
	t.UpdatedAt = now
	return t
}

// IsOverdue reports whether the task's deadline has elapsed as of now.
func (t Task) IsOverdue(now time.Time) bool {
	return t.TimeoutAt != nil && now.After(*t.TimeoutAt)
}
