// Package config loads and validates the control-plane configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentgate/agentgate/internal/constraint"
	"github.com/agentgate/agentgate/pkg/ratelimit"
	"github.com/agentgate/agentgate/pkg/types"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Audit       AuditConfig       `yaml:"audit"`
	Constraints ConstraintsConfig `yaml:"constraints"`
	RateLimit   ratelimit.Config  `yaml:"rate_limit"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Snapshots   SnapshotsConfig   `yaml:"snapshots"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Development DevelopmentConfig `yaml:"development"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"` // none | api_key
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	KeysFile   string `yaml:"keys_file"`
	HeaderName string `yaml:"header_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type AuditConfig struct {
	Dir        string          `yaml:"dir"`
	SQLitePath string          `yaml:"sqlite_path"`
	QueueSize  int             `yaml:"queue_size"`
	Rotation   RotationConfig  `yaml:"rotation"`
	Integrity  IntegrityConfig `yaml:"integrity"`
}

type RotationConfig struct {
	MaxSizeMB int `yaml:"max_size_mb"`
}

type IntegrityConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyFile string `yaml:"key_file"`
	KeyEnv  string `yaml:"key_env"`
}

type ConstraintsConfig struct {
	Resource  ResourceConstraintConfig   `yaml:"resource"`
	Operation constraint.OperationConfig `yaml:"operation"`
	Access    constraint.AccessConfig    `yaml:"access"`
}

// ResourceConstraintConfig mirrors constraint.ResourceConfig with the
// interval as a duration string.
type ResourceConstraintConfig struct {
	MaxMemoryMB   float64 `yaml:"max_memory_mb"`
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxDiskMB     float64 `yaml:"max_disk_mb"`
	CheckInterval string  `yaml:"check_interval"`
}

type MonitorConfig struct {
	Enabled       bool                  `yaml:"enabled"`
	Interval      string                `yaml:"interval"`
	HistoryWindow string                `yaml:"history_window"`
	Limits        []types.ResourceLimit `yaml:"limits"`
}

type SnapshotsConfig struct {
	Root      string `yaml:"root"`
	Dir       string `yaml:"dir"`
	Retention int    `yaml:"retention"`
}

type RecoveryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffBase string `yaml:"backoff_base"`
	ScratchDir  string `yaml:"scratch_dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type DevelopmentConfig struct {
	DisableAuth bool `yaml:"disable_auth"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(b)
}

func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "30s"
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = "1m"
	}
	if cfg.Server.MaxRequestSize == "" {
		cfg.Server.MaxRequestSize = "10MB"
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = "/var/lib/agentgate/audit"
	}
	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1024
	}
	if cfg.Audit.Rotation.MaxSizeMB <= 0 {
		cfg.Audit.Rotation.MaxSizeMB = 10
	}
	if cfg.Constraints.Resource.CheckInterval == "" {
		cfg.Constraints.Resource.CheckInterval = "100ms"
	}
	if cfg.Constraints.Operation.MaxImpactScore <= 0 {
		cfg.Constraints.Operation.MaxImpactScore = 0.8
	}
	if cfg.RateLimit.OperationsPerMinute <= 0 {
		cfg.RateLimit = ratelimit.DefaultConfig()
	}
	if cfg.Monitor.Interval == "" {
		cfg.Monitor.Interval = "1s"
	}
	if cfg.Monitor.HistoryWindow == "" {
		cfg.Monitor.HistoryWindow = "1h"
	}
	for i := range cfg.Monitor.Limits {
		if cfg.Monitor.Limits[i].Action == "" {
			cfg.Monitor.Limits[i].Action = types.ActionWarn
		}
	}
	if cfg.Snapshots.Root == "" {
		cfg.Snapshots.Root = "."
	}
	if cfg.Snapshots.Dir == "" {
		cfg.Snapshots.Dir = ".agentgate/snapshots"
	}
	if cfg.Recovery.MaxAttempts <= 0 {
		cfg.Recovery.MaxAttempts = 3
	}
	if cfg.Recovery.BackoffBase == "" {
		cfg.Recovery.BackoffBase = "1s"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/readyz"
	}
}

func validateConfig(cfg *Config) error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"constraints.resource.check_interval", cfg.Constraints.Resource.CheckInterval},
		{"monitor.interval", cfg.Monitor.Interval},
		{"monitor.history_window", cfg.Monitor.HistoryWindow},
		{"recovery.backoff_base", cfg.Recovery.BackoffBase},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if _, err := ParseByteSize(cfg.Server.MaxRequestSize); err != nil {
		return fmt.Errorf("server.max_request_size: %w", err)
	}
	switch cfg.Auth.Type {
	case "none", "api_key":
	default:
		return fmt.Errorf("auth.type: unsupported %q", cfg.Auth.Type)
	}
	if cfg.Auth.Type == "api_key" && cfg.Auth.APIKey.KeysFile == "" {
		return fmt.Errorf("auth.api_key.keys_file is required when auth.type is api_key")
	}
	for i, l := range cfg.Monitor.Limits {
		if l.Resource == "" {
			return fmt.Errorf("monitor.limits[%d].resource is required", i)
		}
		if l.HardLimit > 0 && l.SoftLimit > l.HardLimit {
			return fmt.Errorf("monitor.limits[%d]: soft_limit exceeds hard_limit", i)
		}
		switch l.Action {
		case types.ActionWarn, types.ActionThrottle, types.ActionSuspend, types.ActionTerminate, types.ActionRollback:
		default:
			return fmt.Errorf("monitor.limits[%d].action: unsupported %q", i, l.Action)
		}
	}
	if cfg.Audit.Integrity.Enabled && cfg.Audit.Integrity.KeyFile == "" && cfg.Audit.Integrity.KeyEnv == "" {
		return fmt.Errorf("audit.integrity: key_file or key_env is required when enabled")
	}
	return nil
}

// Duration parses a config duration string; callers validate first.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
