package sandboxrt

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// memStoreForTest is a minimal in-memory controlplane.Store, used only to
// exercise admission/context-clear logic without a real database. Request
// queue methods are unimplemented since nothing in this package's tests
// drives the request queue.
type memStoreForTest struct {
	mu        sync.Mutex
	sandboxes map[string]*orchestration.Sandbox
}

func newMemStoreForTest() *memStoreForTest {
	return &memStoreForTest{sandboxes: map[string]*orchestration.Sandbox{}}
}

var _ controlplane.Store = (*memStoreForTest)(nil)

func (m *memStoreForTest) CreateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sb
	m.sandboxes[sb.ID] = &cp
	return nil
}

func (m *memStoreForTest) GetSandbox(ctx context.Context, id string) (*orchestration.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[id]
	if !ok {
		return nil, controlplane.ErrSandboxNotFound
	}
	cp := *sb
	return &cp, nil
}

func (m *memStoreForTest) UpdateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sb
	m.sandboxes[sb.ID] = &cp
	return nil
}

func (m *memStoreForTest) DeleteSandbox(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, id)
	return nil
}

func (m *memStoreForTest) ListSandboxes(ctx context.Context, opts controlplane.ListSandboxesOptions) ([]*orchestration.Sandbox, error) {
	return nil, nil
}

func (m *memStoreForTest) OverdueSandboxes(ctx context.Context, now time.Time, limit int) ([]*orchestration.Sandbox, error) {
	return nil, nil
}

func (m *memStoreForTest) NonSleptSandboxes(ctx context.Context) ([]*orchestration.Sandbox, error) {
	return nil, nil
}

func (m *memStoreForTest) CreateRequest(ctx context.Context, req *orchestration.Request) error {
	return nil
}

func (m *memStoreForTest) GetRequest(ctx context.Context, id string) (*orchestration.Request, error) {
	return nil, controlplane.ErrRequestNotFound
}

func (m *memStoreForTest) ClaimPendingRequests(ctx context.Context, workerID string, limit int, leaseDuration time.Duration) ([]*orchestration.Request, error) {
	return nil, nil
}

func (m *memStoreForTest) CompleteRequest(ctx context.Context, id string, status orchestration.RequestStatus, errMsg string) error {
	return nil
}

func (m *memStoreForTest) ReleaseRequest(ctx context.Context, id string) error {
	return nil
}

func (m *memStoreForTest) ListRequests(ctx context.Context, opts controlplane.ListRequestsOptions) ([]*orchestration.Request, error) {
	return nil, nil
}
