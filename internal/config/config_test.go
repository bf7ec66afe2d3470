package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearAdvisorEnv keeps developer machines with a real key from leaking
// into the default comparisons.
func clearAdvisorEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NEXUS_GENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	clearAdvisorEnv(t)

	got, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("config differs from defaults (-want +got):\n%s", diff)
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	clearAdvisorEnv(t)

	path := filepath.Join(t.TempDir(), "nexus.yaml")
	raw := `
core:
  data_dir: /var/lib/nexus
  log_level: debug
policy:
  execution_mode: SAFE
proposals:
  create_threshold: 0.9
api:
  addr: 127.0.0.1:9000
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	got, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Core.DataDir = "/var/lib/nexus"
	want.Core.LogLevel = "debug"
	want.Policy.ExecutionMode = ModeSafe
	want.Proposals.CreateThreshold = 0.9
	want.API.Addr = "127.0.0.1:9000"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	clearAdvisorEnv(t)

	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  addr: 127.0.0.1:9000\n"), 0o644))

	t.Setenv("NEXUS_API_ADDR", "127.0.0.1:9999")
	t.Setenv("PROPOSAL_V2_CREATE_THRESHOLD", "0.91")
	t.Setenv("ENABLE_EXECUTOR_REAL_APPLY", "true")
	t.Setenv("NEXUS_EXECUTION_MODE", "safe")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", got.API.Addr)
	assert.Equal(t, 0.91, got.Proposals.CreateThreshold)
	assert.True(t, got.Experiments.RealApply)
	assert.Equal(t, ModeSafe, got.Policy.ExecutionMode)
}

func TestEnvIgnoresUnparseableValues(t *testing.T) {
	clearAdvisorEnv(t)
	t.Setenv("NEXUS_RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("PROPOSAL_V2_CREATE_THRESHOLD", "high")

	got, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30, got.API.RateLimitPerMinute)
	assert.Equal(t, 0.55, got.Proposals.CreateThreshold)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("core: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad execution mode", func(c *Config) { c.Policy.ExecutionMode = "YOLO" }, "execution_mode"},
		{"bad experiment mode", func(c *Config) { c.Experiments.ModeDefault = "fast" }, "mode_default"},
		{"zero cycle interval", func(c *Config) { c.Learning.CycleIntervalSeconds = 0 }, "cycle_interval_seconds"},
		{"zero timeout", func(c *Config) { c.Executor.DefaultTimeoutSeconds = 0 }, "timeouts"},
		{"default above max timeout", func(c *Config) { c.Executor.DefaultTimeoutSeconds = 400 }, "exceeds"},
		{"zero rate limit", func(c *Config) { c.API.RateLimitPerMinute = 0 }, "rate_limit_per_minute"},
		{"zero scout workers", func(c *Config) { c.Scout.MaxWorkers = 0 }, "max_workers"},
		{"zero verify attempts", func(c *Config) { c.Verification.MaxAttempts = 0 }, "max_attempts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.CycleInterval())
	assert.Equal(t, 60*time.Second, cfg.DefaultActionTimeout())
	assert.Equal(t, 300*time.Second, cfg.MaxActionTimeout())
	assert.Equal(t, 10*time.Second, cfg.GracefulShutdownTimeout())
	assert.Equal(t, time.Minute, cfg.CacheTTL())
}

func TestPathsDeriveFromDataDir(t *testing.T) {
	cfg := Default()
	cfg.Core.DataDir = "/data/nexus"

	assert.Equal(t, "/data/nexus/brain", cfg.BrainDir())
	assert.True(t, filepath.IsAbs(cfg.KnowledgePath()))
	assert.Contains(t, cfg.KnowledgePath(), cfg.BrainDir())
	assert.Contains(t, cfg.ProposalsV2Path(), cfg.MemoryDir())
	assert.Contains(t, cfg.PolicyStatePath(), cfg.StateDir())

	assert.Equal(t, filepath.Join("/data/nexus", "backups"), cfg.BackupsDir())
	cfg.Backup.Dir = "/mnt/backups"
	assert.Equal(t, "/mnt/backups", cfg.BackupsDir())

	assert.Contains(t, cfg.Dirs(), cfg.Core.WorkspaceDir)
}
