package controlplane

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// Store defines the persistence contract for the control plane: sandboxes
// and the request queue that drives their lifecycle transitions.
type Store interface {
	// Sandboxes

	CreateSandbox(ctx context.Context, sandbox *orchestration.Sandbox) error
	GetSandbox(ctx context.Context, id string) (*orchestration.Sandbox, error)
	UpdateSandbox(ctx context.Context, sandbox *orchestration.Sandbox) error
	DeleteSandbox(ctx context.Context, id string) error
	ListSandboxes(ctx context.Context, opts ListSandboxesOptions) ([]*orchestration.Sandbox, error)

	// OverdueSandboxes returns non-slept sandboxes whose idle/busy timer has
	// exceeded its configured timeout, ordered most-overdue-first, bounded
	// to limit. Sandboxes with a nil IdleFrom/BusyFrom while in that state
	// are backfilled to now by the caller before this is queried.
	OverdueSandboxes(ctx context.Context, now time.Time, limit int) ([]*orchestration.Sandbox, error)

	// NonSleptSandboxes returns every sandbox not currently in SandboxSlept,
	// for the health scan to probe.
	NonSleptSandboxes(ctx context.Context) ([]*orchestration.Sandbox, error)

	// Requests

	CreateRequest(ctx context.Context, req *orchestration.Request) error
	GetRequest(ctx context.Context, id string) (*orchestration.Request, error)

	// ClaimPendingRequests atomically claims up to limit pending requests
	// for workerID, transitioning them to RequestProcessing and returning
	// the claimed rows. Implementations must use a single atomic claim
	// (SELECT ... FOR UPDATE SKIP LOCKED, or an equivalent conditional
	// UPDATE) so that two concurrent callers never claim the same row.
	ClaimPendingRequests(ctx context.Context, workerID string, limit int, leaseDuration time.Duration) ([]*orchestration.Request, error)

	// CompleteRequest marks a claimed request completed or failed.
	CompleteRequest(ctx context.Context, id string, status orchestration.RequestStatus, errMsg string) error

	// ReleaseRequest releases a claim without completing the request, used
	// on graceful shutdown so another worker can pick it up immediately.
	ReleaseRequest(ctx context.Context, id string) error

	// ListRequests returns requests matching opts.
	ListRequests(ctx context.Context, opts ListRequestsOptions) ([]*orchestration.Request, error)
}

// ListSandboxesOptions filters ListSandboxes.
type ListSandboxesOptions struct {
	Owner  string
	State  *orchestration.SandboxState
	Limit  int
	Offset int
}

// ListRequestsOptions filters ListRequests.
type ListRequestsOptions struct {
	SandboxID string
	Status    *orchestration.RequestStatus
	Limit     int
	Offset    int
}

// Closer is implemented by stores that hold an underlying connection.
type Closer interface {
	Close() error
}
