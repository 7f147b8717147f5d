package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/internal/controlplane/containermgr"
	"github.com/haasonsaas/nexus/internal/controlplane/store"
	"github.com/haasonsaas/nexus/internal/controlplane/token"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sandboxrt"
	"github.com/haasonsaas/nexus/internal/toolcatalog"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// =============================================================================
// Control Plane Command Handlers
// =============================================================================

// openControlPlaneStore opens the backing store for the sandboxed-agent
// control plane. database.url is treated as a SQLite path when it carries a
// "sqlite://" scheme or a ".db"/".sqlite" suffix; otherwise it is opened as
// a Postgres DSN via lib/pq, matching the rest of Nexus's database.url
// handling.
func openControlPlaneStore(cfg *config.Config) (controlplane.Store, sandboxrt.TaskStore, func() error, error) {
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	dsn := strings.TrimSpace(cfg.Database.URL)
	if dsn == "" {
		return nil, nil, nil, fmt.Errorf("database.url is required")
	}

	if path, ok := sqlitePath(dsn); ok {
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s, s.Close, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres store: %w", err)
	}
	s := store.NewPostgresStore(db)
	return s, s, db.Close, nil
}

func sqlitePath(dsn string) (string, bool) {
	if strings.HasPrefix(dsn, "sqlite://") {
		return strings.TrimPrefix(dsn, "sqlite://"), true
	}
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return dsn, true
	}
	return "", false
}

// openContainerManager selects and constructs a containermgr.Manager
// according to SandboxRuntime.Backend.
func openContainerManager(cfg *config.Config) (containermgr.Manager, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.SandboxRuntime.Backend))
	switch backend {
	case "", "docker":
		image := strings.TrimSpace(os.Getenv("NEXUS_SANDBOX_IMAGE"))
		if image == "" {
			image = "nexus-sandbox:latest"
		}
		return containermgr.NewDockerManager(image), nil
	case "daytona":
		resolved, err := containermgr.ResolveDaytonaConfig(containermgr.DaytonaConfig{})
		if err != nil {
			return nil, fmt.Errorf("resolve daytona config: %w", err)
		}
		return containermgr.NewDaytonaManager(resolved)
	case "firecracker":
		return containermgr.NewFirecrackerManager(containermgr.FirecrackerConfig{
			VCPUCount:  2,
			MemSizeMiB: cfg.SandboxRuntime.MemoryLimitMiB,
			SocketDir:  cfg.SandboxRuntime.WorkspaceRoot,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox_runtime.backend %q", backend)
	}
}

func buildTaskExecutor(cfg *config.Config, sandboxes controlplane.Store, tasks sandboxrt.TaskStore, metrics *observability.Metrics) (*sandboxrt.Executor, error) {
	anthropicCfg := cfg.LLM.Providers["anthropic"]
	provider, err := sandboxrt.NewAnthropicProvider(sandboxrt.AnthropicConfig{
		APIKey:       anthropicCfg.APIKey,
		BaseURL:      anthropicCfg.BaseURL,
		DefaultModel: anthropicCfg.DefaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("build inference provider: %w", err)
	}

	catalog := toolcatalog.NewCatalog(cfg.SandboxRuntime.WorkspaceRoot).WithMetrics(metrics)

	return sandboxrt.NewExecutor(sandboxes, tasks, provider, catalog, sandboxrt.ExecutorConfig{
		MaxParseRetries: cfg.ToolCatalog.MaxParseRetries,
		DefaultModel:    anthropicCfg.DefaultModel,
	}), nil
}

func runControlPlaneServe(cmd *cobra.Command, configPath string) error {
	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sandboxes, tasks, closeStore, err := openControlPlaneStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	runtime, err := openContainerManager(cfg)
	if err != nil {
		return err
	}

	tokens := token.NewService(cfg.Auth.JWTSecret, "nexus-control-plane", cfg.Auth.TokenExpiry)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "nexus-control-plane",
		ServiceVersion: version,
		Environment:    strings.ToLower(cfg.Logging.Level),
	})

	executor, err := buildTaskExecutor(cfg, sandboxes, tasks, metrics)
	if err != nil {
		return err
	}

	reconciler := controlplane.NewReconciler(sandboxes, runtime, tokens, executor, controlplane.ReconcilerConfig{
		PollInterval:       cfg.ControlPlane.PollInterval,
		ClaimBatchSize:     cfg.ControlPlane.BatchSize,
		LeaseDuration:      cfg.ControlPlane.LockDuration,
		AutoSleepBatchSize: cfg.ControlPlane.BatchSize,
		Logger:             slog.Default(),
		Metrics:            metrics,
		Tracer:             tracer,
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := startMetricsServer(cfg.Server.MetricsPort)
	defer func() { _ = metricsServer.Close() }()

	slog.Info("control plane reconciler starting",
		"backend", cfg.SandboxRuntime.Backend,
		"poll_interval", cfg.ControlPlane.PollInterval,
		"metrics_port", cfg.Server.MetricsPort,
	)
	reconciler.Start(ctx)

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping reconciler")
	reconciler.Stop()
	if err := shutdownTracer(context.Background()); err != nil {
		slog.Error("tracer shutdown failed", "error", err)
	}
	return nil
}

// startMetricsServer exposes the Prometheus /metrics endpoint on a background
// HTTP server. Listen failures are logged, not fatal, so a port conflict
// doesn't take down the reconciler.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func runControlPlaneRequestsList(cmd *cobra.Command, configPath, sandboxID, statusFlag string, limit int) error {
	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sandboxes, _, closeStore, err := openControlPlaneStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	opts := controlplane.ListRequestsOptions{SandboxID: sandboxID, Limit: limit}
	if strings.TrimSpace(statusFlag) != "" {
		st := orchestration.RequestStatus(strings.TrimSpace(statusFlag))
		opts.Status = &st
	}

	requests, err := sandboxes.ListRequests(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	if len(requests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No requests found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSANDBOX\tKIND\tSTATUS\tCREATOR\tCREATED")
	for _, req := range requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.SandboxID, req.Kind, req.Status, req.Creator, req.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return w.Flush()
}

func runControlPlaneSandboxesList(cmd *cobra.Command, configPath, owner, stateFlag string, limit int) error {
	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sandboxes, _, closeStore, err := openControlPlaneStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	opts := controlplane.ListSandboxesOptions{Owner: owner, Limit: limit}
	if strings.TrimSpace(stateFlag) != "" {
		st := orchestration.SandboxState(strings.TrimSpace(stateFlag))
		opts.State = &st
	}

	list, err := sandboxes.ListSandboxes(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("list sandboxes: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sandboxes found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tSTATE\tIDLE TIMEOUT\tCREATED")
	for _, sb := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%s\n",
			sb.ID, sb.Owner, sb.State, sb.IdleTimeoutSeconds, sb.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return w.Flush()
}
