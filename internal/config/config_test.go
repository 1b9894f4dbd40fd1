package config

import (
	"testing"

	"github.com/agentgate/agentgate/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("{}"))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.Equal(t, "none", cfg.Auth.Type)
	require.Equal(t, "X-API-Key", cfg.Auth.APIKey.HeaderName)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, 1024, cfg.Audit.QueueSize)
	require.Equal(t, 10, cfg.Audit.Rotation.MaxSizeMB)
	require.Equal(t, 60, cfg.RateLimit.OperationsPerMinute)
	require.Equal(t, 10, cfg.RateLimit.BurstLimit)
	require.Equal(t, "1s", cfg.Monitor.Interval)
	require.Equal(t, 0.8, cfg.Constraints.Operation.MaxImpactScore)
	require.Equal(t, "/healthz", cfg.Health.Path)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  addr: "0.0.0.0:9090"
audit:
  dir: /tmp/audit
  sqlite_path: /tmp/audit/index.db
  integrity:
    enabled: true
    key_env: AGENTGATE_HMAC_KEY
constraints:
  operation:
    max_operations_per_minute: 30
    allowed_operations: [read, write]
    restricted_patterns: ['rm\s+-rf']
  access:
    allowed_paths: [src/]
    restricted_paths: [src/secrets/]
    max_scope: directory
rate_limit:
  operations_per_minute: 120
  burst_limit: 20
monitor:
  enabled: true
  interval: 500ms
  limits:
    - resource: cpu
      soft_limit: 70
      hard_limit: 90
      action: throttle
snapshots:
  root: /workspace
  dir: /workspace/.snapshots
  retention: 5
`))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	require.True(t, cfg.Audit.Integrity.Enabled)
	require.Equal(t, 30, cfg.Constraints.Operation.MaxOperationsPerMinute)
	require.Equal(t, []string{"read", "write"}, cfg.Constraints.Operation.AllowedOperations)
	require.Equal(t, []string{"src/"}, cfg.Constraints.Access.AllowedPaths)
	require.Equal(t, 120, cfg.RateLimit.OperationsPerMinute)
	require.Len(t, cfg.Monitor.Limits, 1)
	require.Equal(t, types.ResourceCPU, cfg.Monitor.Limits[0].Resource)
	require.Equal(t, types.ActionThrottle, cfg.Monitor.Limits[0].Action)
	require.Equal(t, 5, cfg.Snapshots.Retention)
}

func TestLimitActionDefaultsToWarn(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
monitor:
  limits:
    - resource: memory
      hard_limit: 512
`))
	require.NoError(t, err)
	require.Len(t, cfg.Monitor.Limits, 1)
	require.Equal(t, types.ActionWarn, cfg.Monitor.Limits[0].Action)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad interval", "monitor:\n  interval: fast\n"},
		{"bad auth type", "auth:\n  type: oauth\n"},
		{"api_key without keys file", "auth:\n  type: api_key\n"},
		{"soft over hard", "monitor:\n  limits:\n    - resource: cpu\n      soft_limit: 95\n      hard_limit: 90\n"},
		{"limit without resource", "monitor:\n  limits:\n    - soft_limit: 1\n"},
		{"integrity without key", "audit:\n  integrity:\n    enabled: true\n"},
		{"unknown limit action", "monitor:\n  limits:\n    - resource: cpu\n      hard_limit: 90\n      action: reboot\n"},
		{"bad request size", "server:\n  max_request_size: huge\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"10MB":  10 * 1000 * 1000,
		"1MiB":  1024 * 1024,
		"512":   512,
		"2_000": 2000,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "huge", "-1MB"} {
		_, err := ParseByteSize(in)
		require.Error(t, err, in)
	}
}
