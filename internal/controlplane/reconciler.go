package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/controlplane/containermgr"
	"github.com/haasonsaas/nexus/internal/controlplane/token"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// TaskRunner dispatches a newly created task into the sandbox task
// executor. The reconciler only enqueues and transitions state; it never
// runs a task's inner loop itself.
type TaskRunner interface {
	// RunTask starts task execution against sandboxID and returns once the
	// task has been durably created, without necessarily waiting for the
	// task to finish when background is true.
	RunTask(ctx context.Context, sandboxID string, payload orchestration.CreateTaskPayload) error
}

// ReconcilerConfig tunes the Controller's poll cadence and batch sizes.
type ReconcilerConfig struct {
	WorkerID string

	// PollInterval is slept between cycles that did no work, matching the
	// upstream agent manager's 10s idle backoff.
	PollInterval time.Duration

	// ClaimBatchSize bounds how many pending requests are claimed per
	// cycle.
	ClaimBatchSize int

	// LeaseDuration is how long a claimed request's lock is held before it
	// is considered abandoned.
	LeaseDuration time.Duration

	// AutoSleepBatchSize bounds how many overdue sandboxes are scheduled
	// for sleep per cycle.
	AutoSleepBatchSize int

	Logger *slog.Logger

	// Metrics records reconciler cycle/dispatch counters. Nil disables
	// metrics recording.
	Metrics *observability.Metrics

	// Tracer wraps each cycle in a span. Nil disables tracing.
	Tracer *observability.Tracer
}

func (c *ReconcilerConfig) setDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = 5
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 10 * time.Minute
	}
	if c.AutoSleepBatchSize <= 0 {
		c.AutoSleepBatchSize = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Reconciler is the control plane's main loop: it claims pending requests
// and dispatches them by kind, scans for sandboxes overdue on their
// idle/busy timeout, and probes the health of every non-slept sandbox —
// each cycle, then sleeps PollInterval if none of the three did any work.
type Reconciler struct {
	store   Store
	runtime containermgr.Manager
	tokens  *token.Service
	runner  TaskRunner
	cfg     ReconcilerConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewReconciler builds a Reconciler. runner may be nil if create_task/
// execute_command requests are not expected to be dispatched through this
// instance (e.g. a reconciler running only the lifecycle subset of kinds).
func NewReconciler(store Store, runtime containermgr.Manager, tokens *token.Service, runner TaskRunner, cfg ReconcilerConfig) *Reconciler {
	cfg.setDefaults()
	return &Reconciler{store: store, runtime: runtime, tokens: tokens, runner: runner, cfg: cfg}
}

// Start runs the reconcile loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.cfg.Logger.Info("controlplane: reconciler starting",
		"worker_id", r.cfg.WorkerID, "poll_interval", r.cfg.PollInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			processed := r.runCycle(ctx)
			if processed == 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.cfg.PollInterval):
				}
			}
		}
	}()
}

// Stop cancels the reconcile loop and waits for it to exit.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// runCycle runs one iteration: dispatch claimed requests, auto-sleep scan,
// health scan. It returns the total count of items acted on, used by the
// caller to decide whether to sleep before the next cycle.
func (r *Reconciler) runCycle(ctx context.Context) int {
	start := time.Now()
	if r.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = r.cfg.Tracer.Start(ctx, "controlplane.reconciler.cycle")
		defer span.End()
	}

	dispatched := r.dispatchPendingRequests(ctx)
	slept := r.autoSleepScan(ctx)
	recovered := r.healthScan(ctx)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordReconcilerCycle(slept, recovered, time.Since(start).Seconds())
	}
	return dispatched + slept + recovered
}

func (r *Reconciler) dispatchPendingRequests(ctx context.Context) int {
	claimed, err := r.store.ClaimPendingRequests(ctx, r.cfg.WorkerID, r.cfg.ClaimBatchSize, r.cfg.LeaseDuration)
	if err != nil {
		r.cfg.Logger.Error("controlplane: claim pending requests failed", "error", err)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordError("reconciler", "claim_pending_requests_failed")
		}
		return 0
	}

	for _, req := range claimed {
		if err := r.dispatch(ctx, req); err != nil {
			r.cfg.Logger.Error("controlplane: request failed", "request_id", req.ID, "kind", req.Kind, "error", err)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordRequestDispatched(string(req.Kind), "error")
			}
			if cErr := r.store.CompleteRequest(ctx, req.ID, orchestration.RequestFailed, err.Error()); cErr != nil {
				r.cfg.Logger.Error("controlplane: failed to mark request failed", "request_id", req.ID, "error", cErr)
			}
			continue
		}
		if err := r.store.CompleteRequest(ctx, req.ID, orchestration.RequestCompleted, ""); err != nil {
			r.cfg.Logger.Error("controlplane: failed to mark request completed", "request_id", req.ID, "error", err)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordRequestDispatched(string(req.Kind), "success")
		}
		r.cfg.Logger.Info("controlplane: request completed", "request_id", req.ID, "kind", req.Kind)
	}
	return len(claimed)
}

func (r *Reconciler) dispatch(ctx context.Context, req *orchestration.Request) error {
	switch req.Kind {
	case orchestration.RequestCreateSandbox:
		return r.handleCreateSandbox(ctx, req)
	case orchestration.RequestWakeSandbox:
		return r.handleWakeSandbox(ctx, req)
	case orchestration.RequestSleepSandbox:
		return r.handleSleepSandbox(ctx, req)
	case orchestration.RequestDestroySandbox:
		return r.handleDestroySandbox(ctx, req)
	case orchestration.RequestPublishSandbox:
		return r.handlePublishSandbox(ctx, req)
	case orchestration.RequestUnpublishSandbox:
		return r.handleUnpublishSandbox(ctx, req)
	case orchestration.RequestExecuteCommand:
		return r.handleExecuteCommand(ctx, req)
	case orchestration.RequestCreateTask:
		return r.handleCreateTask(ctx, req)
	default:
		return fmt.Errorf("controlplane: unknown request kind %q", req.Kind)
	}
}

func (r *Reconciler) handleCreateSandbox(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.CreateSandboxPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode create_sandbox payload: %w", err)
	}

	now := time.Now()
	idleTimeout := payload.IdleTimeoutSeconds
	if idleTimeout <= 0 {
		idleTimeout = orchestration.DefaultIdleTimeoutSeconds
	}

	sb := &orchestration.Sandbox{
		ID:                 req.SandboxID,
		Owner:              payload.Owner,
		State:              orchestration.SandboxInit,
		Description:        payload.Description,
		Tags:                payload.Tags,
		IdleTimeoutSeconds: idleTimeout,
		BusyTimeoutSeconds: payload.BusyTimeoutSeconds,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if payload.CopyFrom != nil {
		sb.SnapshotOrigin = payload.CopyFrom.SandboxID
	}

	if err := r.store.CreateSandbox(ctx, sb); err != nil {
		return fmt.Errorf("persist sandbox: %w", err)
	}

	createSpec := containermgr.CreateSpec{SandboxID: sb.ID}
	if payload.CopyFrom != nil && !payload.CopyFrom.IsEmpty() {
		createSpec.CopyFrom = map[containermgr.VolumeKind]string{}
		if payload.CopyFrom.Data {
			createSpec.CopyFrom[containermgr.VolumeData] = payload.CopyFrom.SandboxID
		}
		if payload.CopyFrom.Code {
			createSpec.CopyFrom[containermgr.VolumeCode] = payload.CopyFrom.SandboxID
		}
		if payload.CopyFrom.Secrets {
			createSpec.CopyFrom[containermgr.VolumeSecrets] = payload.CopyFrom.SandboxID
		}
		if payload.CopyFrom.Content {
			createSpec.CopyFrom[containermgr.VolumeContent] = payload.CopyFrom.SandboxID
		}
	}
	if err := r.runtime.Create(ctx, createSpec); err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := r.runtime.Start(ctx, sb.ID); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	if payload.InitialPrompt != "" {
		if err := r.seedInitialPrompt(ctx, sb.ID, payload.InitialPrompt); err != nil {
			return fmt.Errorf("seed initial prompt: %w", err)
		}
	}

	idled := sb.ToIdle(time.Now())
	return r.store.UpdateSandbox(ctx, &idled)
}

// seedInitialPrompt enqueues the sandbox's first task before the sandbox
// flips to idle, so a racing wake/idle scan can never observe an idle
// sandbox with no pending work.
func (r *Reconciler) seedInitialPrompt(ctx context.Context, sandboxID, prompt string) error {
	payload := orchestration.CreateTaskPayload{
		Type:  orchestration.TaskTypeNL,
		Input: []orchestration.ContentItem{{Type: "text", Content: prompt}},
	}
	if r.runner == nil {
		return fmt.Errorf("no task runner configured")
	}
	return r.runner.RunTask(ctx, sandboxID, payload)
}

func (r *Reconciler) handleWakeSandbox(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.WakeSandboxPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("decode wake_sandbox payload: %w", err)
		}
	}

	sb, err := r.store.GetSandbox(ctx, req.SandboxID)
	if err != nil {
		return err
	}
	if sb.State != orchestration.SandboxSlept {
		return nil
	}

	if err := r.runtime.Start(ctx, sb.ID); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	if payload.InitialPrompt != "" {
		if err := r.seedInitialPrompt(ctx, sb.ID, payload.InitialPrompt); err != nil {
			return fmt.Errorf("seed initial prompt: %w", err)
		}
	}

	idled := sb.ToIdle(time.Now())
	return r.store.UpdateSandbox(ctx, &idled)
}

func (r *Reconciler) handleSleepSandbox(ctx context.Context, req *orchestration.Request) error {
	sb, err := r.store.GetSandbox(ctx, req.SandboxID)
	if err != nil {
		return err
	}
	if sb.State == orchestration.SandboxSlept {
		return nil
	}
	if err := r.runtime.Stop(ctx, sb.ID); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	slept := sb.ToSlept(time.Now())
	return r.store.UpdateSandbox(ctx, &slept)
}

func (r *Reconciler) handleDestroySandbox(ctx context.Context, req *orchestration.Request) error {
	if err := r.runtime.Remove(ctx, req.SandboxID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	for _, kind := range []containermgr.VolumeKind{containermgr.VolumeCode, containermgr.VolumeData, containermgr.VolumeSecrets, containermgr.VolumeContent} {
		if err := r.runtime.RemoveVolume(ctx, req.SandboxID, kind); err != nil {
			r.cfg.Logger.Warn("controlplane: failed to remove volume", "sandbox_id", req.SandboxID, "kind", kind, "error", err)
		}
	}
	return r.store.DeleteSandbox(ctx, req.SandboxID)
}

func (r *Reconciler) handlePublishSandbox(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.PublishSandboxPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode publish_sandbox payload: %w", err)
	}
	return r.runtime.CopyFrom(ctx, req.SandboxID, "/sandbox/content", "/published/"+payload.Name)
}

func (r *Reconciler) handleUnpublishSandbox(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.PublishSandboxPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode unpublish_sandbox payload: %w", err)
	}
	return r.runtime.RemoveVolume(ctx, "published", containermgr.VolumeKind(payload.Name))
}

func (r *Reconciler) handleExecuteCommand(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.ExecuteCommandPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode execute_command payload: %w", err)
	}
	_, err := r.runtime.Exec(ctx, containermgr.ExecSpec{
		SandboxID: req.SandboxID,
		Command:   payload.Command,
		Args:      payload.Args,
	})
	return err
}

func (r *Reconciler) handleCreateTask(ctx context.Context, req *orchestration.Request) error {
	var payload orchestration.CreateTaskPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode create_task payload: %w", err)
	}
	if r.runner == nil {
		return fmt.Errorf("no task runner configured")
	}
	return r.runner.RunTask(ctx, req.SandboxID, payload)
}

// autoSleepScan backfills idle_from/busy_from on any sandbox missing it,
// then enqueues a sleep_sandbox request for every sandbox whose idle or
// busy timer has exceeded its configured timeout.
func (r *Reconciler) autoSleepScan(ctx context.Context) int {
	now := time.Now()

	overdue, err := r.store.OverdueSandboxes(ctx, now, r.cfg.AutoSleepBatchSize)
	if err != nil {
		r.cfg.Logger.Error("controlplane: overdue sandbox scan failed", "error", err)
		return 0
	}

	scheduled := 0
	for _, sb := range overdue {
		req := &orchestration.Request{
			ID:        uuid.NewString(),
			SandboxID: sb.ID,
			Kind:      orchestration.RequestSleepSandbox,
			Creator:   "system:auto_sleep",
			Payload:   []byte(`{"reason":"auto_sleep_timeout"}`),
			Status:    orchestration.RequestPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.store.CreateRequest(ctx, req); err != nil {
			r.cfg.Logger.Error("controlplane: failed to enqueue auto-sleep request", "sandbox_id", sb.ID, "error", err)
			continue
		}
		r.cfg.Logger.Info("controlplane: scheduled sandbox for auto-sleep", "sandbox_id", sb.ID)
		scheduled++
	}
	return scheduled
}

// healthScan probes every non-slept sandbox's container. Only a definite
// HealthUnhealthy result forces the sandbox to slept for recovery;
// HealthUnknown is treated as "retry next cycle" so a transient runtime
// error never masquerades as a dead sandbox.
func (r *Reconciler) healthScan(ctx context.Context) int {
	active, err := r.store.NonSleptSandboxes(ctx)
	if err != nil {
		r.cfg.Logger.Error("controlplane: health scan listing failed", "error", err)
		return 0
	}
	if len(active) == 0 {
		return 0
	}

	recovered := 0
	for _, sb := range active {
		status, err := r.runtime.IsHealthy(ctx, sb.ID)
		if err != nil {
			r.cfg.Logger.Error("controlplane: health check failed, will retry next cycle", "sandbox_id", sb.ID, "error", err)
			continue
		}
		switch status {
		case containermgr.HealthHealthy, containermgr.HealthUnknown:
			continue
		case containermgr.HealthUnhealthy:
			slept := sb.ToSlept(time.Now())
			if err := r.store.UpdateSandbox(ctx, &slept); err != nil {
				r.cfg.Logger.Error("controlplane: failed to mark unhealthy sandbox slept", "sandbox_id", sb.ID, "error", err)
				continue
			}
			r.cfg.Logger.Warn("controlplane: sandbox marked slept due to container failure", "sandbox_id", sb.ID, "was_state", sb.State)
			recovered++
		}
	}
	return recovered
}
