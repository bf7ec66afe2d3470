// Package config holds the full runtime configuration. Values come from
// built-in defaults, then an optional YAML file, then environment overrides,
// in that order. See env.go for the recognized variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by every component.
type Config struct {
	Core         CoreConfig         `yaml:"core"`
	Policy       PolicyConfig       `yaml:"policy"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Memory       MemoryConfig       `yaml:"memory"`
	Scout        ScoutConfig        `yaml:"scout"`
	Proposals    ProposalsConfig    `yaml:"proposals"`
	Experiments  ExperimentsConfig  `yaml:"experiments"`
	Verification VerificationConfig `yaml:"verification"`
	Canary       CanaryConfig       `yaml:"canary"`
	Bandit       BanditConfig       `yaml:"bandit"`
	CAFE         CAFEConfig         `yaml:"cafe"`
	Debugger     DebuggerConfig     `yaml:"debugger"`
	Learning     LearningConfig     `yaml:"learning"`
	API          APIConfig          `yaml:"api"`
	Backup       BackupConfig       `yaml:"backup"`
	Advisor      AdvisorConfig      `yaml:"advisor"`
	Budget       BudgetConfig       `yaml:"budget"`
}

// CoreConfig covers process identity and filesystem roots.
type CoreConfig struct {
	ProjectRoot  string `yaml:"project_root"`
	DataDir      string `yaml:"data_dir"`
	WorkspaceDir string `yaml:"workspace_dir"`
	LogLevel     string `yaml:"log_level"`
	Development  bool   `yaml:"development"`
}

// PolicyConfig configures the path/command gate.
type PolicyConfig struct {
	ExecutionMode  string   `yaml:"execution_mode"` // FULL_AUTO | SAFE
	AllowedRoots   []string `yaml:"allowed_roots"`
	SensitivePaths []string `yaml:"sensitive_paths"`
}

// ExecutorConfig configures the action executor.
type ExecutorConfig struct {
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds     int    `yaml:"max_timeout_seconds"`
	HistoryRingSize       int    `yaml:"history_ring_size"`
	OutputCapBytes        int    `yaml:"output_cap_bytes"`
	PythonBinary          string `yaml:"python_binary"`
}

// MemoryConfig configures the memory store and its query cache.
type MemoryConfig struct {
	CacheTTLSeconds    int `yaml:"cache_ttl_seconds"`
	RetentionDays      int `yaml:"retention_days"`
	RetentionMinHits   int `yaml:"retention_min_hits"`
	DedupWindowMinutes int `yaml:"dedup_window_minutes"`
}

// ScoutConfig configures the knowledge scout.
type ScoutConfig struct {
	MaxWorkers         int     `yaml:"max_workers"`
	FetchTimeoutSecs   int     `yaml:"fetch_timeout_seconds"`
	MinScore           float64 `yaml:"min_score"`
	ForwardTopFindings int     `yaml:"forward_top_findings"`
	WatchSources       bool    `yaml:"watch_sources"`
}

// ProposalsConfig covers both the v2 engine and the v1 compat path.
type ProposalsConfig struct {
	EnableV2             bool    `yaml:"enable_v2"`
	CreateThreshold      float64 `yaml:"create_threshold"`
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
	AllowBlocked         bool    `yaml:"allow_blocked"`
	EnableAutoApproveV1  bool    `yaml:"enable_auto_approve_v1"`
	AutoApproveScoreV1   float64 `yaml:"auto_approve_score_v1"`
	UnblockMinScore      float64 `yaml:"unblock_min_score"`
	MaxPerIteration      int     `yaml:"max_per_iteration"`
}

// ExperimentsConfig configures the experiment executor.
type ExperimentsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ModeDefault string `yaml:"mode_default"` // safe | normal
	RealApply   bool   `yaml:"real_apply"`
	MaxPatches  int    `yaml:"max_patches"`
}

// VerificationConfig configures the outcome verifier.
type VerificationConfig struct {
	HoldoutEnabled       bool `yaml:"holdout_enabled"`
	HoldoutSeconds       int  `yaml:"holdout_seconds"`
	RetryIntervalSeconds int  `yaml:"retry_interval_seconds"`
	MaxAttempts          int  `yaml:"max_attempts"`
}

// CanaryConfig is the normal-mode guardrail.
type CanaryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxPerHour      int      `yaml:"max_per_hour"`
	MinPriority     float64  `yaml:"min_priority"`
	AllowedRisk     []string `yaml:"allowed_risk"`
	CooldownSeconds int      `yaml:"cooldown_seconds"`
}

// BanditConfig configures Thompson-sampling policy selection.
type BanditConfig struct {
	Enabled     bool    `yaml:"enabled"`
	HistoryMax  int     `yaml:"history_max"`
	WeightMin   float64 `yaml:"weight_min"`
	WeightMax   float64 `yaml:"weight_max"`
	DriftMaxTot float64 `yaml:"drift_max_total"`
	DriftMinAvg float64 `yaml:"drift_min_mean"`
	DriftMaxAvg float64 `yaml:"drift_max_mean"`
	DriftShrink float64 `yaml:"drift_shrink_ratio"`
}

// CAFEConfig holds scorer thresholds and calibration knobs.
type CAFEConfig struct {
	Enabled            bool    `yaml:"enabled"`
	CalibrationEnabled bool    `yaml:"calibration_enabled"`
	ConfidenceMin      float64 `yaml:"confidence_min"`
	HelpfulMin         float64 `yaml:"helpful_min"`
	HarmlessMin        float64 `yaml:"harmless_min"`
	WeightHelpful      float64 `yaml:"weight_helpful"`
	WeightHarmless     float64 `yaml:"weight_harmless"`
	WeightReliability  float64 `yaml:"weight_reliability"`
	BiasScale          float64 `yaml:"bias_scale"`
	BiasCap            float64 `yaml:"bias_cap"`
	BlendFactor        float64 `yaml:"blend_factor"`
	MinSamples         int     `yaml:"min_samples"`
}

// DebuggerConfig caps the self-debugger in-memory buffers.
type DebuggerConfig struct {
	DecisionsMax int `yaml:"decisions_max"`
	ActionsMax   int `yaml:"actions_max"`
	ErrorsMax    int `yaml:"errors_max"`
	MetricsMax   int `yaml:"metrics_max"`
	SessionsMax  int `yaml:"sessions_max"`
}

// LearningConfig drives the top-level scheduler cadence.
type LearningConfig struct {
	CycleIntervalSeconds      int     `yaml:"cycle_interval_seconds"`
	KnowledgeScanInterval     int     `yaml:"knowledge_scan_interval_seconds"`
	CAFECalibrationInterval   int     `yaml:"cafe_calibration_interval_seconds"`
	AdvancedReviewInterval    int     `yaml:"advanced_review_interval_seconds"`
	CleanupInterval           int     `yaml:"cleanup_interval_seconds"`
	DailySelfLearningInterval int     `yaml:"daily_self_learning_interval_seconds"`
	StagnationWarnStreak      int     `yaml:"stagnation_warn_streak"`
	StagnationApproveDelta    float64 `yaml:"stagnation_approve_delta"`
	SelfReminderEnabled       bool    `yaml:"self_reminder_enabled"`
	MaxActionableProposals    int     `yaml:"max_actionable_proposals"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr                    string `yaml:"addr"`
	RateLimitPerMinute      int    `yaml:"rate_limit_per_minute"`
	GracefulShutdownSeconds int    `yaml:"graceful_shutdown_seconds"`
}

// BackupConfig configures archive creation and retention.
type BackupConfig struct {
	Dir        string `yaml:"dir"`
	MaxBackups int    `yaml:"max_backups"` // 0 = unlimited
}

// AdvisorConfig selects and tunes the advisor implementations.
type AdvisorConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BudgetConfig bounds estimated spend.
type BudgetConfig struct {
	DailyLimitUSD float64 `yaml:"daily_limit_usd"`
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates. An empty path or a missing file is not an
// error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Policy.ExecutionMode {
	case ModeFullAuto, ModeSafe:
	default:
		return fmt.Errorf("policy.execution_mode must be %s or %s, got %q", ModeFullAuto, ModeSafe, c.Policy.ExecutionMode)
	}
	switch c.Experiments.ModeDefault {
	case ExperimentModeSafe, ExperimentModeNormal:
	default:
		return fmt.Errorf("experiments.mode_default must be safe or normal, got %q", c.Experiments.ModeDefault)
	}
	if c.Learning.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("learning.cycle_interval_seconds must be positive")
	}
	if c.Executor.DefaultTimeoutSeconds <= 0 || c.Executor.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("executor timeouts must be positive")
	}
	if c.Executor.DefaultTimeoutSeconds > c.Executor.MaxTimeoutSeconds {
		return fmt.Errorf("executor.default_timeout_seconds exceeds max_timeout_seconds")
	}
	if c.API.RateLimitPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit_per_minute must be positive")
	}
	if c.Scout.MaxWorkers <= 0 {
		return fmt.Errorf("scout.max_workers must be positive")
	}
	if c.Verification.MaxAttempts <= 0 {
		return fmt.Errorf("verification.max_attempts must be positive")
	}
	return nil
}

// Execution mode names for PolicyConfig.ExecutionMode.
const (
	ModeFullAuto = "FULL_AUTO"
	ModeSafe     = "SAFE"
)

// Experiment execution modes.
const (
	ExperimentModeSafe   = "safe"
	ExperimentModeNormal = "normal"
)

// CycleInterval returns the loop sleep as a duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Learning.CycleIntervalSeconds) * time.Second
}

// DefaultActionTimeout returns the executor default deadline.
func (c *Config) DefaultActionTimeout() time.Duration {
	return time.Duration(c.Executor.DefaultTimeoutSeconds) * time.Second
}

// MaxActionTimeout returns the executor deadline cap.
func (c *Config) MaxActionTimeout() time.Duration {
	return time.Duration(c.Executor.MaxTimeoutSeconds) * time.Second
}

// GracefulShutdownTimeout returns the API drain deadline.
func (c *Config) GracefulShutdownTimeout() time.Duration {
	return time.Duration(c.API.GracefulShutdownSeconds) * time.Second
}

// CacheTTL returns the search cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Memory.CacheTTLSeconds) * time.Second
}
