package sandboxrt

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// TaskStore is the persistence contract for tasks, separate from
// controlplane.Store because it's consumed from inside a running sandbox
// rather than by the Controller.
type TaskStore interface {
	CreateTask(ctx context.Context, task *orchestration.Task) error
	GetTask(ctx context.Context, sandboxID, id string) (*orchestration.Task, error)
	UpdateTask(ctx context.Context, task *orchestration.Task) error
	ListTasks(ctx context.Context, sandboxID string, limit, offset int) ([]*orchestration.Task, error)
	CountTasks(ctx context.Context, sandboxID string) (int, error)

	// LatestContextLength returns the most recently updated task's
	// ContextLength for sandboxID, or 0 if the sandbox has no tasks yet.
	// Mirrors task.rs::latest_context_length — used to decide admission
	// without replaying the whole task history.
	LatestContextLength(ctx context.Context, sandboxID string) (int, error)
}
