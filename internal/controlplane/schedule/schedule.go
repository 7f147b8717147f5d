// Package schedule runs an optional recurring job that seeds create_task
// requests on a cron schedule, independent of the main reconciler poll loop.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// cronParser accepts both the standard 5-field form and an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Entry is one recurring seeding rule: on each cron tick, a create_task
// request is enqueued against SandboxID with the given payload.
type Entry struct {
	Name      string
	SandboxID string
	Schedule  string
	Payload   orchestration.CreateTaskPayload

	nextRun time.Time
	sched   cron.Schedule
}

// Scheduler periodically enqueues create_task requests for each configured
// Entry whose cron schedule has come due.
type Scheduler struct {
	store  controlplane.Store
	logger *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	entries []*Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler builds a Scheduler. pollInterval<=0 defaults to 10s,
// matching the cadence the task scheduler this was adapted from uses for
// its due-task poll loop.
func NewScheduler(store controlplane.Store, logger *slog.Logger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, logger: logger, pollInterval: pollInterval}
}

// AddEntry registers a recurring seeding rule and computes its first run
// time relative to now.
func (s *Scheduler) AddEntry(e Entry, now time.Time) error {
	sched, err := cronParser.Parse(e.Schedule)
	if err != nil {
		return fmt.Errorf("controlplane/schedule: parse schedule %q: %w", e.Schedule, err)
	}
	entry := e
	entry.sched = sched
	entry.nextRun = sched.Next(now)

	s.mu.Lock()
	s.entries = append(s.entries, &entry)
	s.mu.Unlock()
	return nil
}

// Start runs the poll loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*Entry, 0)
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.fire(ctx, e, now); err != nil {
			s.logger.Error("schedule: failed to seed create_task request",
				"entry", e.Name, "sandbox_id", e.SandboxID, "error", err)
		}
		s.mu.Lock()
		e.nextRun = e.sched.Next(now)
		s.mu.Unlock()
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal create_task payload: %w", err)
	}

	req := &orchestration.Request{
		ID:        uuid.NewString(),
		SandboxID: e.SandboxID,
		Kind:      orchestration.RequestCreateTask,
		Creator:   "scheduler:" + strings.TrimSpace(e.Name),
		Payload:   payload,
		Status:    orchestration.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	s.logger.Info("schedule: seeded create_task request",
		"entry", e.Name, "sandbox_id", e.SandboxID, "request_id", req.ID)
	return nil
}
