package config

// Default returns the built-in configuration. Every value here can be
// overridden by the YAML file or the environment.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			ProjectRoot:  ".",
			DataDir:      "data",
			WorkspaceDir: "workspace",
			LogLevel:     "info",
		},
		Policy: PolicyConfig{
			ExecutionMode: ModeFullAuto,
			AllowedRoots:  []string{"workspace", "data", "src"},
			SensitivePaths: []string{
				"/etc", "/System", "/private/etc", "/boot", "/proc", "/sys",
			},
		},
		Executor: ExecutorConfig{
			DefaultTimeoutSeconds: 60,
			MaxTimeoutSeconds:     300,
			HistoryRingSize:       500,
			OutputCapBytes:        2048,
			PythonBinary:          "python3",
		},
		Memory: MemoryConfig{
			CacheTTLSeconds:    60,
			RetentionDays:      90,
			RetentionMinHits:   1,
			DedupWindowMinutes: 30,
		},
		Scout: ScoutConfig{
			MaxWorkers:         5,
			FetchTimeoutSecs:   20,
			MinScore:           6.0,
			ForwardTopFindings: 3,
			WatchSources:       true,
		},
		Proposals: ProposalsConfig{
			EnableV2:             true,
			CreateThreshold:      0.55,
			AutoApproveThreshold: 0.82,
			AllowBlocked:         false,
			EnableAutoApproveV1:  true,
			AutoApproveScoreV1:   8.5,
			UnblockMinScore:      7.0,
			MaxPerIteration:      3,
		},
		Experiments: ExperimentsConfig{
			Enabled:     true,
			ModeDefault: ExperimentModeSafe,
			RealApply:   false,
			MaxPatches:  2,
		},
		Verification: VerificationConfig{
			HoldoutEnabled:       true,
			HoldoutSeconds:       300,
			RetryIntervalSeconds: 600,
			MaxAttempts:          3,
		},
		Canary: CanaryConfig{
			Enabled:         false,
			MaxPerHour:      1,
			MinPriority:     0.9,
			AllowedRisk:     []string{"low"},
			CooldownSeconds: 3600,
		},
		Bandit: BanditConfig{
			Enabled:     true,
			HistoryMax:  1000,
			WeightMin:   0.1,
			WeightMax:   4.0,
			DriftMaxTot: 200,
			DriftMinAvg: 0.05,
			DriftMaxAvg: 0.95,
			DriftShrink: 0.5,
		},
		CAFE: CAFEConfig{
			Enabled:            true,
			CalibrationEnabled: true,
			ConfidenceMin:      0.35,
			HelpfulMin:         0.30,
			HarmlessMin:        0.40,
			WeightHelpful:      0.5,
			WeightHarmless:     0.3,
			WeightReliability:  0.2,
			BiasScale:          0.10,
			BiasCap:            0.05,
			BlendFactor:        0.3,
			MinSamples:         5,
		},
		Debugger: DebuggerConfig{
			DecisionsMax: 200,
			ActionsMax:   500,
			ErrorsMax:    200,
			MetricsMax:   500,
			SessionsMax:  50,
		},
		Learning: LearningConfig{
			CycleIntervalSeconds:      60,
			KnowledgeScanInterval:     3600,
			CAFECalibrationInterval:   6 * 3600,
			AdvancedReviewInterval:    6 * 3600,
			CleanupInterval:           7 * 24 * 3600,
			DailySelfLearningInterval: 24 * 3600,
			StagnationWarnStreak:      5,
			StagnationApproveDelta:    0.2,
			SelfReminderEnabled:       false,
			MaxActionableProposals:    3,
		},
		API: APIConfig{
			Addr:                    ":8300",
			RateLimitPerMinute:      30,
			GracefulShutdownSeconds: 10,
		},
		Backup: BackupConfig{
			Dir:        "",
			MaxBackups: 10,
		},
		Advisor: AdvisorConfig{
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 30,
		},
		Budget: BudgetConfig{
			DailyLimitUSD: 5.0,
		},
	}
}
