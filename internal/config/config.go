package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InsightsConfig configures the optional SQLite insight store.
type InsightsConfig struct {
	// Enabled turns on insight extraction after completed subtasks
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the insights database
	DBPath string `yaml:"db_path"`
}

// Config holds the tunable knobs of the build engine.
type Config struct {
	// MaxRetries is the per-subtask attempt budget before it is marked stuck
	MaxRetries int `yaml:"max_retries"`

	// IterationDelay is the pause between work-iterator passes
	IterationDelay time.Duration `yaml:"iteration_delay"`

	// PollInterval is the pause-mailbox polling interval
	PollInterval time.Duration `yaml:"poll_interval"`

	// RateLimitCeiling bounds a rate-limit wait
	RateLimitCeiling time.Duration `yaml:"rate_limit_ceiling"`

	// AuthCeiling bounds an auth-failure wait
	AuthCeiling time.Duration `yaml:"auth_ceiling"`

	// MaxQAIterations is the hard ceiling of the standalone QA loop
	MaxQAIterations int `yaml:"max_qa_iterations"`

	// MaxQACycles bounds the orchestrator's inline review/fix phase
	MaxQACycles int `yaml:"max_qa_cycles"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is where build logs are written, relative to the build dir
	LogDir string `yaml:"log_dir"`

	// Insights configures the insight store
	Insights InsightsConfig `yaml:"insights"`
}

// DefaultConfig returns a Config with the engine's standard values.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		IterationDelay:   5 * time.Second,
		PollInterval:     15 * time.Second,
		RateLimitCeiling: 2 * time.Hour,
		AuthCeiling:      24 * time.Hour,
		MaxQAIterations:  50,
		MaxQACycles:      3,
		LogLevel:         "info",
		LogDir:           "logs",
		Insights: InsightsConfig{
			Enabled: true,
			DBPath:  "memory/insights.db",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file returns
// the defaults without error; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations arrive as YAML strings ("30s", "2h"); decode through a
	// shadow struct and parse.
	type yamlConfig struct {
		MaxRetries       *int           `yaml:"max_retries"`
		IterationDelay   string         `yaml:"iteration_delay"`
		PollInterval     string         `yaml:"poll_interval"`
		RateLimitCeiling string         `yaml:"rate_limit_ceiling"`
		AuthCeiling      string         `yaml:"auth_ceiling"`
		MaxQAIterations  *int           `yaml:"max_qa_iterations"`
		MaxQACycles      *int           `yaml:"max_qa_cycles"`
		LogLevel         string         `yaml:"log_level"`
		LogDir           string         `yaml:"log_dir"`
		Insights         *InsightsConfig `yaml:"insights"`
	}
	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if raw.MaxRetries != nil {
		cfg.MaxRetries = *raw.MaxRetries
	}
	if raw.MaxQAIterations != nil {
		cfg.MaxQAIterations = *raw.MaxQAIterations
	}
	if raw.MaxQACycles != nil {
		cfg.MaxQACycles = *raw.MaxQACycles
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.LogDir != "" {
		cfg.LogDir = raw.LogDir
	}
	if raw.Insights != nil {
		cfg.Insights = *raw.Insights
	}
	for _, d := range []struct {
		value string
		dst   *time.Duration
		name  string
	}{
		{raw.IterationDelay, &cfg.IterationDelay, "iteration_delay"},
		{raw.PollInterval, &cfg.PollInterval, "poll_interval"},
		{raw.RateLimitCeiling, &cfg.RateLimitCeiling, "rate_limit_ceiling"},
		{raw.AuthCeiling, &cfg.AuthCeiling, "auth_ceiling"},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.IterationDelay < 0 {
		return fmt.Errorf("iteration_delay must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxQAIterations < 1 {
		return fmt.Errorf("max_qa_iterations must be at least 1, got %d", c.MaxQAIterations)
	}
	if c.MaxQACycles < 1 {
		return fmt.Errorf("max_qa_cycles must be at least 1, got %d", c.MaxQACycles)
	}
	return nil
}
