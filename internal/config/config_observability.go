package config

// LoggingConfig controls the structured logger's level/output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
