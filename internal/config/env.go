package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides maps recognized environment variables onto the config.
// Unparseable values are ignored so a bad variable never prevents startup.
func (c *Config) applyEnvOverrides() {
	setStr(&c.Core.ProjectRoot, "NEXUS_PROJECT_ROOT")
	setStr(&c.Core.DataDir, "NEXUS_DATA_DIR")
	setStr(&c.Core.WorkspaceDir, "NEXUS_WORKSPACE_DIR")
	setStr(&c.Core.LogLevel, "NEXUS_LOG_LEVEL")

	if v := os.Getenv("NEXUS_EXECUTION_MODE"); v != "" {
		c.Policy.ExecutionMode = strings.ToUpper(strings.TrimSpace(v))
	}

	setInt(&c.Memory.CacheTTLSeconds, "NEXUS_CACHE_TTL")
	setInt(&c.Learning.CycleIntervalSeconds, "NEXUS_CYCLE_INTERVAL")
	setStr(&c.Backup.Dir, "NEXUS_BACKUP_DIR")
	setInt(&c.Backup.MaxBackups, "NEXUS_MAX_BACKUPS")

	setFloat(&c.Proposals.AutoApproveScoreV1, "AUTO_APPROVE_PROPOSAL_SCORE")
	setBool(&c.Proposals.EnableAutoApproveV1, "ENABLE_AUTO_APPROVE_PROPOSALS")
	setBool(&c.Proposals.EnableV2, "ENABLE_PROPOSAL_V2")
	setFloat(&c.Proposals.CreateThreshold, "PROPOSAL_V2_CREATE_THRESHOLD")
	setFloat(&c.Proposals.AutoApproveThreshold, "PROPOSAL_V2_AUTO_APPROVE_THRESHOLD")
	setBool(&c.Proposals.AllowBlocked, "CAFE_ALLOW_BLOCKED_PROPOSALS")

	setBool(&c.Experiments.Enabled, "ENABLE_EXPERIMENT_EXECUTOR")
	if v := os.Getenv("EXECUTION_MODE_DEFAULT"); v != "" {
		c.Experiments.ModeDefault = strings.ToLower(strings.TrimSpace(v))
	}
	setBool(&c.Experiments.RealApply, "ENABLE_EXECUTOR_REAL_APPLY")
	setInt(&c.Experiments.MaxPatches, "EXECUTOR_REAL_APPLY_MAX_PATCHES")

	setBool(&c.Verification.HoldoutEnabled, "VERIFICATION_HOLDOUT_ENABLED")
	setInt(&c.Verification.HoldoutSeconds, "VERIFICATION_HOLDOUT_SECONDS")
	setInt(&c.Verification.RetryIntervalSeconds, "VERIFICATION_RETRY_INTERVAL_SECONDS")
	setInt(&c.Verification.MaxAttempts, "VERIFICATION_MAX_ATTEMPTS")

	setBool(&c.Canary.Enabled, "ENABLE_NORMAL_MODE_CANARY")
	setInt(&c.Canary.MaxPerHour, "NORMAL_MODE_MAX_PER_HOUR")
	setFloat(&c.Canary.MinPriority, "NORMAL_MODE_MIN_PRIORITY")
	if v := os.Getenv("NORMAL_MODE_ALLOWED_RISK"); v != "" {
		var risks []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				risks = append(risks, r)
			}
		}
		if len(risks) > 0 {
			c.Canary.AllowedRisk = risks
		}
	}
	setInt(&c.Canary.CooldownSeconds, "NORMAL_MODE_COOLDOWN_SECONDS")

	setBool(&c.Bandit.Enabled, "ENABLE_POLICY_BANDIT")

	setBool(&c.CAFE.Enabled, "ENABLE_CAFE_LOOP")
	setBool(&c.CAFE.CalibrationEnabled, "ENABLE_CAFE_CALIBRATION")
	setFloat(&c.CAFE.ConfidenceMin, "CAFE_CONFIDENCE_MIN")
	setFloat(&c.CAFE.HelpfulMin, "CAFE_HELPFUL_MIN")
	setFloat(&c.CAFE.HarmlessMin, "CAFE_HARMLESS_MIN")
	setFloat(&c.CAFE.WeightHelpful, "CAFE_WEIGHT_HELPFUL")
	setFloat(&c.CAFE.WeightHarmless, "CAFE_WEIGHT_HARMLESS")
	setFloat(&c.CAFE.WeightReliability, "CAFE_WEIGHT_RELIABILITY")

	setInt(&c.Debugger.DecisionsMax, "DEBUGGER_DECISIONS_MAX")
	setInt(&c.Debugger.ActionsMax, "DEBUGGER_ACTIONS_MAX")
	setInt(&c.Debugger.ErrorsMax, "DEBUGGER_ERRORS_MAX")
	setInt(&c.Debugger.MetricsMax, "DEBUGGER_METRICS_MAX")
	setInt(&c.Debugger.SessionsMax, "DEBUGGER_SESSIONS_MAX")

	setBool(&c.Learning.SelfReminderEnabled, "SELF_REMINDER_ENABLED")

	setStr(&c.API.Addr, "NEXUS_API_ADDR")
	setInt(&c.API.RateLimitPerMinute, "NEXUS_RATE_LIMIT_PER_MINUTE")
	setInt(&c.API.GracefulShutdownSeconds, "GRACEFUL_SHUTDOWN_TIMEOUT_SEC")

	if v := os.Getenv("NEXUS_GENAI_API_KEY"); v != "" {
		c.Advisor.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Advisor.APIKey = v
	}
	setStr(&c.Advisor.Model, "NEXUS_ADVISOR_MODEL")
	setFloat(&c.Budget.DailyLimitUSD, "NEXUS_DAILY_BUDGET_USD")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
