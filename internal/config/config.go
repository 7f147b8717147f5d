package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the orchestration control
// plane.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`

	ControlPlane   ControlPlaneConfig   `yaml:"control_plane"`
	SandboxRuntime SandboxRuntimeConfig `yaml:"sandbox_runtime"`
	ToolCatalog    ToolCatalogConfig    `yaml:"tool_catalog"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)

	// Apply defaults
	applyDefaults(&cfg)

	// Validate config
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	applyControlPlaneDefaults(cfg)
}

func applyControlPlaneDefaults(cfg *Config) {
	defaults := DefaultControlPlaneConfig()
	if cfg.ControlPlane.PollInterval == 0 {
		cfg.ControlPlane.PollInterval = defaults.PollInterval
	}
	if cfg.ControlPlane.BatchSize == 0 {
		cfg.ControlPlane.BatchSize = defaults.BatchSize
	}
	if cfg.ControlPlane.LockDuration == 0 {
		cfg.ControlPlane.LockDuration = defaults.LockDuration
	}
	if cfg.ControlPlane.AutoSleepScanInterval == 0 {
		cfg.ControlPlane.AutoSleepScanInterval = defaults.AutoSleepScanInterval
	}
	if cfg.ControlPlane.HealthCheckInterval == 0 {
		cfg.ControlPlane.HealthCheckInterval = defaults.HealthCheckInterval
	}

	if cfg.SandboxRuntime.Backend == "" {
		cfg.SandboxRuntime.Backend = "docker"
	}
	if cfg.SandboxRuntime.DefaultIdleTimeoutSeconds == 0 {
		cfg.SandboxRuntime.DefaultIdleTimeoutSeconds = 900
	}

	toolDefaults := DefaultToolCatalogConfig()
	if cfg.ToolCatalog.WebFetchMaxBytes == 0 {
		cfg.ToolCatalog.WebFetchMaxBytes = toolDefaults.WebFetchMaxBytes
	}
	if cfg.ToolCatalog.WebFetchTimeout == 0 {
		cfg.ToolCatalog.WebFetchTimeout = toolDefaults.WebFetchTimeout
	}
	if len(cfg.ToolCatalog.IgnoredDirs) == 0 {
		cfg.ToolCatalog.IgnoredDirs = toolDefaults.IgnoredDirs
	}
	if cfg.ToolCatalog.MaxParseRetries == 0 {
		cfg.ToolCatalog.MaxParseRetries = toolDefaults.MaxParseRetries
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("NEXUS_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}

	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	// JWT secret validation: require minimum 32 bytes when set
	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if cfg.SandboxRuntime.Backend != "" {
		switch cfg.SandboxRuntime.Backend {
		case "docker", "firecracker", "daytona":
		default:
			issues = append(issues, "sandbox_runtime.backend must be \"docker\", \"firecracker\", or \"daytona\"")
		}
	}
	if cfg.ControlPlane.BatchSize < 0 {
		issues = append(issues, "control_plane.batch_size must be >= 0")
	}
	if cfg.ToolCatalog.MaxParseRetries < 0 {
		issues = append(issues, "tool_catalog.max_parse_retries must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
