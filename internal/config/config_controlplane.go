package config

import "time"

// ControlPlaneConfig configures the sandboxed-agent orchestration reconciler:
// how often it polls the request queue, how many requests it claims per
// cycle, and how often it scans for overdue/idle sandboxes.
type ControlPlaneConfig struct {
	// PollInterval is how often the reconciler polls for pending requests.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchSize is the maximum number of requests claimed per poll cycle.
	BatchSize int `yaml:"batch_size"`

	// LockDuration is how long a claimed request's lease is held before
	// another worker may reclaim it.
	LockDuration time.Duration `yaml:"lock_duration"`

	// AutoSleepScanInterval is how often OverdueSandboxes is scanned to put
	// idle/busy-timed-out sandboxes to sleep.
	AutoSleepScanInterval time.Duration `yaml:"auto_sleep_scan_interval"`

	// HealthCheckInterval is how often running sandboxes are health-checked
	// against their container backend.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DefaultControlPlaneConfig returns the zero-value-safe defaults used when a
// field is left unset in config.
func DefaultControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		PollInterval:          2 * time.Second,
		BatchSize:             10,
		LockDuration:          30 * time.Second,
		AutoSleepScanInterval: 30 * time.Second,
		HealthCheckInterval:   60 * time.Second,
	}
}

// SandboxRuntimeConfig selects and configures the per-sandbox container
// backend the reconciler dispatches Create/Start/Stop/Exec calls to.
type SandboxRuntimeConfig struct {
	// Backend selects the ContainerManager implementation: "docker",
	// "firecracker", or "daytona".
	Backend string `yaml:"backend"`

	// WorkspaceRoot is the host directory new sandbox volumes are rooted
	// under.
	WorkspaceRoot string `yaml:"workspace_root"`

	// CPULimit and MemoryLimitMiB bound the resources a single sandbox's
	// container/microVM may consume.
	CPULimit       float64 `yaml:"cpu_limit"`
	MemoryLimitMiB int64   `yaml:"memory_limit_mib"`

	// DefaultIdleTimeoutSeconds and DefaultBusyTimeoutSeconds seed new
	// sandboxes' timeout fields when a create request omits them.
	DefaultIdleTimeoutSeconds int `yaml:"default_idle_timeout_seconds"`
	DefaultBusyTimeoutSeconds int `yaml:"default_busy_timeout_seconds"`
}

// ToolCatalogConfig bounds the native tool implementations' resource usage
// and names which directories/files the workspace-scanning tools ignore.
type ToolCatalogConfig struct {
	// WebFetchMaxBytes caps the response body size the web_fetch tool reads.
	WebFetchMaxBytes int64 `yaml:"web_fetch_max_bytes"`

	// WebFetchTimeout bounds a single web_fetch call.
	WebFetchTimeout time.Duration `yaml:"web_fetch_timeout"`

	// IgnoredDirs and IgnoredFiles are skipped by directory-listing and
	// search tools (e.g. ".git", "node_modules").
	IgnoredDirs  []string `yaml:"ignored_dirs"`
	IgnoredFiles []string `yaml:"ignored_files"`

	// ToolTimeouts overrides the default per-tool execution timeout by
	// tool name.
	ToolTimeouts map[string]time.Duration `yaml:"tool_timeouts"`

	// MaxParseRetries bounds how many times the executor re-prompts the
	// model after a malformed XML invocation before failing the task.
	MaxParseRetries int `yaml:"max_parse_retries"`
}

// DefaultToolCatalogConfig returns the defaults used when unset.
func DefaultToolCatalogConfig() ToolCatalogConfig {
	return ToolCatalogConfig{
		WebFetchMaxBytes: 5 << 20,
		WebFetchTimeout:  15 * time.Second,
		IgnoredDirs:      []string{".git", "node_modules", "vendor", "__pycache__"},
		MaxParseRetries:  10,
	}
}
