package orchestration

import "time"

// RequestKind identifies the operation a queued Request asks the Controller
// to perform.
type RequestKind string

const (
	RequestCreateSandbox    RequestKind = "create_sandbox"
	RequestWakeSandbox      RequestKind = "wake_sandbox"
	RequestSleepSandbox     RequestKind = "sleep_sandbox"
	RequestDestroySandbox   RequestKind = "destroy_sandbox"
	RequestPublishSandbox   RequestKind = "publish_sandbox"
	RequestUnpublishSandbox RequestKind = "unpublish_sandbox"
	RequestExecuteCommand   RequestKind = "execute_command"
	RequestCreateTask       RequestKind = "create_task"
)

// RequestStatus is the lifecycle status of a queued Request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// CanTransitionTo enforces the monotonic pending -> processing ->
// (completed|failed) progression; no status ever moves backward.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestProcessing
	case RequestProcessing:
		return next == RequestCompleted || next == RequestFailed
	default:
		return false
	}
}

// Request is a single work item the Controller's reconciler claims and
// dispatches by Kind. Payload is kind-specific and decoded by the handler
// for that kind.
type Request struct {
	ID        string        `json:"id"`
	SandboxID string        `json:"sandbox_id"`
	Kind      RequestKind   `json:"kind"`
	Creator   string        `json:"creator"`
	Payload   []byte        `json:"payload"`
	Status    RequestStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// LockedBy/LockedUntil track which worker holds the claim and for how
	// long, mirroring the lease fields used for task execution claims.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// CreateSandboxPayload is the Payload shape for RequestCreateSandbox.
type CreateSandboxPayload struct {
	Owner              string    `json:"owner"`
	Description        string    `json:"description,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	IdleTimeoutSeconds int       `json:"idle_timeout_seconds,omitempty"`
	BusyTimeoutSeconds int       `json:"busy_timeout_seconds,omitempty"`
	CopyFrom           *CopySpec `json:"copy_from,omitempty"`
	InitialPrompt      string    `json:"initial_prompt,omitempty"`
}

// WakeSandboxPayload is the Payload shape for RequestWakeSandbox.
type WakeSandboxPayload struct {
	InitialPrompt string `json:"initial_prompt,omitempty"`
}

// ExecuteCommandPayload is the Payload shape for RequestExecuteCommand.
type ExecuteCommandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// PublishSandboxPayload is the Payload shape for RequestPublishSandbox and
// RequestUnpublishSandbox; both key the shared publish area by Name.
type PublishSandboxPayload struct {
	Name string `json:"name"`
}

// CreateTaskPayload is the Payload shape for RequestCreateTask.
type CreateTaskPayload struct {
	Type           TaskType `json:"type"`
	Input          []ContentItem `json:"input"`
	Background     bool     `json:"background,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}
