package schedule

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// fakeStore is a minimal in-memory controlplane.Store sufficient to drive
// Scheduler tests without a real database.
type fakeStore struct {
	controlplane.Store
	requests []*orchestration.Request
}

func (f *fakeStore) CreateRequest(ctx context.Context, req *orchestration.Request) error {
	f.requests = append(f.requests, req)
	return nil
}

func TestScheduler_AddEntry_InvalidCronRejected(t *testing.T) {
	s := NewScheduler(&fakeStore{}, slog.Default(), time.Second)
	err := s.AddEntry(Entry{Name: "bad", SandboxID: "sb-1", Schedule: "not a cron expr"}, time.Now())
	if err == nil {
		t.Fatal("expected error for invalid cron schedule")
	}
}

func TestScheduler_Tick_FiresDueEntryOnce(t *testing.T) {
	store := &fakeStore{}
	s := NewScheduler(store, slog.Default(), time.Second)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.AddEntry(Entry{
		Name:      "nightly",
		SandboxID: "sb-1",
		Schedule:  "@every 1m",
		Payload:   orchestration.CreateTaskPayload{Type: orchestration.TaskTypeNL},
	}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.tick(context.Background())
	if len(store.requests) != 0 {
		t.Fatalf("expected no requests before the first tick is due, got %d", len(store.requests))
	}

	s.mu.Lock()
	s.entries[0].nextRun = now
	s.mu.Unlock()

	s.tick(context.Background())
	if len(store.requests) != 1 {
		t.Fatalf("expected exactly one seeded request, got %d", len(store.requests))
	}
	if store.requests[0].Kind != orchestration.RequestCreateTask {
		t.Errorf("kind = %v, want create_task", store.requests[0].Kind)
	}
	if store.requests[0].SandboxID != "sb-1" {
		t.Errorf("sandbox id = %q, want sb-1", store.requests[0].SandboxID)
	}

	s.tick(context.Background())
	if len(store.requests) != 1 {
		t.Fatalf("expected no additional requests until the next cron tick, got %d", len(store.requests))
	}
}
