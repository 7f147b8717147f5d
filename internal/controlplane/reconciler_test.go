package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/controlplane/containermgr"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

type memStore struct {
	mu        sync.Mutex
	sandboxes map[string]*orchestration.Sandbox
	requests  map[string]*orchestration.Request
}

func newMemStore() *memStore {
	return &memStore{
		sandboxes: make(map[string]*orchestration.Sandbox),
		requests:  make(map[string]*orchestration.Request),
	}
}

func (m *memStore) CreateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sb
	m.sandboxes[sb.ID] = &cp
	return nil
}

func (m *memStore) GetSandbox(ctx context.Context, id string) (*orchestration.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[id]
	if !ok {
		return nil, ErrSandboxNotFound
	}
	cp := *sb
	return &cp, nil
}

func (m *memStore) UpdateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sandboxes[sb.ID]; !ok {
		return ErrSandboxNotFound
	}
	cp := *sb
	m.sandboxes[sb.ID] = &cp
	return nil
}

func (m *memStore) DeleteSandbox(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, id)
	return nil
}

func (m *memStore) ListSandboxes(ctx context.Context, opts ListSandboxesOptions) ([]*orchestration.Sandbox, error) {
	return nil, nil
}

func (m *memStore) OverdueSandboxes(ctx context.Context, now time.Time, limit int) ([]*orchestration.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orchestration.Sandbox
	for _, sb := range m.sandboxes {
		switch sb.State {
		case orchestration.SandboxIdle:
			if sb.IdleFrom != nil && now.Sub(*sb.IdleFrom) >= time.Duration(sb.IdleTimeoutSeconds)*time.Second {
				cp := *sb
				out = append(out, &cp)
			}
		case orchestration.SandboxBusy:
			if sb.BusyTimeoutSeconds > 0 && sb.BusyFrom != nil && now.Sub(*sb.BusyFrom) >= time.Duration(sb.BusyTimeoutSeconds)*time.Second {
				cp := *sb
				out = append(out, &cp)
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) NonSleptSandboxes(ctx context.Context) ([]*orchestration.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orchestration.Sandbox
	for _, sb := range m.sandboxes {
		if sb.State != orchestration.SandboxSlept {
			cp := *sb
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateRequest(ctx context.Context, req *orchestration.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *memStore) GetRequest(ctx context.Context, id string) (*orchestration.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memStore) ClaimPendingRequests(ctx context.Context, workerID string, limit int, leaseDuration time.Duration) ([]*orchestration.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*orchestration.Request
	now := time.Now()
	until := now.Add(leaseDuration)
	for _, req := range m.requests {
		if req.Status != orchestration.RequestPending {
			continue
		}
		req.Status = orchestration.RequestProcessing
		req.LockedBy = workerID
		req.LockedUntil = &until
		req.UpdatedAt = now
		cp := *req
		claimed = append(claimed, &cp)
		if len(claimed) >= limit {
			break
		}
	}
	return claimed, nil
}

func (m *memStore) CompleteRequest(ctx context.Context, id string, status orchestration.RequestStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	now := time.Now()
	req.Status = status
	req.Error = errMsg
	req.CompletedAt = &now
	req.LockedBy = ""
	req.LockedUntil = nil
	return nil
}

func (m *memStore) ReleaseRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	req.Status = orchestration.RequestPending
	req.LockedBy = ""
	req.LockedUntil = nil
	return nil
}

func (m *memStore) ListRequests(ctx context.Context, opts ListRequestsOptions) ([]*orchestration.Request, error) {
	return nil, nil
}

var _ Store = (*memStore)(nil)

type fakeManager struct {
	mu      sync.Mutex
	created []string
	started []string
	stopped []string
	removed []string
	health  map[string]containermgr.HealthStatus
}

func newFakeManager() *fakeManager {
	return &fakeManager{health: make(map[string]containermgr.HealthStatus)}
}

func (f *fakeManager) Create(ctx context.Context, spec containermgr.CreateSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec.SandboxID)
	return nil
}
func (f *fakeManager) Start(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sandboxID)
	return nil
}
func (f *fakeManager) Stop(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sandboxID)
	return nil
}
func (f *fakeManager) Remove(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sandboxID)
	return nil
}
func (f *fakeManager) Exec(ctx context.Context, spec containermgr.ExecSpec) (*containermgr.ExecResult, error) {
	return &containermgr.ExecResult{Stdout: "ok"}, nil
}
func (f *fakeManager) IsHealthy(ctx context.Context, sandboxID string) (containermgr.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.health[sandboxID]; ok {
		return status, nil
	}
	return containermgr.HealthHealthy, nil
}
func (f *fakeManager) CreateVolume(ctx context.Context, sandboxID string, kind containermgr.VolumeKind) error {
	return nil
}
func (f *fakeManager) RemoveVolume(ctx context.Context, sandboxID string, kind containermgr.VolumeKind) error {
	return nil
}
func (f *fakeManager) CopyFrom(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	return nil
}
func (f *fakeManager) CopyTo(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	return nil
}

var _ containermgr.Manager = (*fakeManager)(nil)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeRunner) RunTask(ctx context.Context, sandboxID string, payload orchestration.CreateTaskPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, sandboxID)
	return nil
}

func TestReconciler_HandleCreateSandbox(t *testing.T) {
	store := newMemStore()
	runtime := newFakeManager()
	runner := &fakeRunner{}
	r := NewReconciler(store, runtime, nil, runner, ReconcilerConfig{Logger: slog.Default()})

	payload, _ := json.Marshal(orchestration.CreateSandboxPayload{Owner: "owner-1", InitialPrompt: "hello"})
	req := &orchestration.Request{ID: "req-1", SandboxID: "sb-1", Kind: orchestration.RequestCreateSandbox, Payload: payload, Status: orchestration.RequestProcessing}

	if err := r.dispatch(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sb, err := store.GetSandbox(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("sandbox not found: %v", err)
	}
	if sb.State != orchestration.SandboxIdle {
		t.Errorf("state = %v, want idle", sb.State)
	}
	if sb.IdleFrom == nil {
		t.Error("expected idle_from to be set")
	}
	if len(runtime.created) != 1 || len(runtime.started) != 1 {
		t.Errorf("runtime calls = %+v", runtime)
	}
	if len(runner.runs) != 1 {
		t.Errorf("expected initial prompt to seed one task, got %d", len(runner.runs))
	}
}

func TestReconciler_HealthScan_UnknownNeverForcesSleep(t *testing.T) {
	store := newMemStore()
	runtime := newFakeManager()
	now := time.Now()
	idleFrom := now
	store.sandboxes["sb-1"] = &orchestration.Sandbox{ID: "sb-1", State: orchestration.SandboxIdle, IdleFrom: &idleFrom, IdleTimeoutSeconds: 900}
	runtime.health["sb-1"] = containermgr.HealthUnknown

	r := NewReconciler(store, runtime, nil, nil, ReconcilerConfig{Logger: slog.Default()})
	recovered := r.healthScan(context.Background())
	if recovered != 0 {
		t.Fatalf("recovered = %d, want 0", recovered)
	}
	sb, _ := store.GetSandbox(context.Background(), "sb-1")
	if sb.State != orchestration.SandboxIdle {
		t.Errorf("state = %v, want idle (unchanged)", sb.State)
	}
}

func TestReconciler_HealthScan_UnhealthyForcesSleep(t *testing.T) {
	store := newMemStore()
	runtime := newFakeManager()
	now := time.Now()
	idleFrom := now
	store.sandboxes["sb-1"] = &orchestration.Sandbox{ID: "sb-1", State: orchestration.SandboxIdle, IdleFrom: &idleFrom, IdleTimeoutSeconds: 900}
	runtime.health["sb-1"] = containermgr.HealthUnhealthy

	r := NewReconciler(store, runtime, nil, nil, ReconcilerConfig{Logger: slog.Default()})
	recovered := r.healthScan(context.Background())
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}
	sb, _ := store.GetSandbox(context.Background(), "sb-1")
	if sb.State != orchestration.SandboxSlept {
		t.Errorf("state = %v, want slept", sb.State)
	}
}

func TestReconciler_AutoSleepScan_EnqueuesSleepRequest(t *testing.T) {
	store := newMemStore()
	runtime := newFakeManager()
	overdue := time.Now().Add(-time.Hour)
	store.sandboxes["sb-1"] = &orchestration.Sandbox{ID: "sb-1", State: orchestration.SandboxIdle, IdleFrom: &overdue, IdleTimeoutSeconds: 900}

	r := NewReconciler(store, runtime, nil, nil, ReconcilerConfig{Logger: slog.Default()})
	scheduled := r.autoSleepScan(context.Background())
	if scheduled != 1 {
		t.Fatalf("scheduled = %d, want 1", scheduled)
	}

	var found bool
	for _, req := range store.requests {
		if req.SandboxID == "sb-1" && req.Kind == orchestration.RequestSleepSandbox {
			found = true
		}
	}
	if !found {
		t.Error("expected a sleep_sandbox request to be enqueued")
	}
}

func TestReconciler_DispatchUnknownKind(t *testing.T) {
	store := newMemStore()
	runtime := newFakeManager()
	r := NewReconciler(store, runtime, nil, nil, ReconcilerConfig{Logger: slog.Default()})

	err := r.dispatch(context.Background(), &orchestration.Request{Kind: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown request kind")
	}
}
