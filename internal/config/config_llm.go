package config

// LLMConfig configures the inference provider the Task Executor dispatches
// completions to. Nexus's multi-provider routing/auto-discovery/Bedrock
// layers are out of scope here: the control plane talks to Anthropic only.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}
