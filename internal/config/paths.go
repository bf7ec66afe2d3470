package config

import "path/filepath"

// Directory layout under DataDir. These names are a stable contract with
// operators and the backup tooling.

func (c *Config) BrainDir() string       { return filepath.Join(c.Core.DataDir, "brain") }
func (c *Config) MemoryDir() string      { return filepath.Join(c.Core.DataDir, "memory") }
func (c *Config) ExperimentsDir() string { return filepath.Join(c.Core.DataDir, "experiments") }
func (c *Config) StateDir() string       { return filepath.Join(c.Core.DataDir, "state") }
func (c *Config) LogsDir() string        { return filepath.Join(c.Core.DataDir, "logs") }

// BackupsDir honours the NEXUS_BACKUP_DIR override, defaulting to
// data/backups.
func (c *Config) BackupsDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Core.DataDir, "backups")
}

// Dirs returns every directory the process must be able to create.
func (c *Config) Dirs() []string {
	return []string{
		c.BrainDir(),
		c.MemoryDir(),
		c.ExperimentsDir(),
		c.StateDir(),
		c.LogsDir(),
		c.BackupsDir(),
		c.Core.WorkspaceDir,
	}
}

// Well-known file paths.

func (c *Config) KnowledgePath() string     { return filepath.Join(c.BrainDir(), "knowledge.jsonl") }
func (c *Config) PatternsPath() string      { return filepath.Join(c.BrainDir(), "patterns.jsonl") }
func (c *Config) EventsPath() string        { return filepath.Join(c.BrainDir(), "events.jsonl") }
func (c *Config) FeedbackPath() string      { return filepath.Join(c.BrainDir(), "feedback.jsonl") }
func (c *Config) ActionHistoryPath() string { return filepath.Join(c.BrainDir(), "action_history.jsonl") }
func (c *Config) FindingsPath() string      { return filepath.Join(c.BrainDir(), "findings.jsonl") }
func (c *Config) SourcesPath() string       { return filepath.Join(c.BrainDir(), "sources.json") }
func (c *Config) TasksPath() string         { return filepath.Join(c.BrainDir(), "tasks.json") }
func (c *Config) DecisionLogPath() string   { return filepath.Join(c.BrainDir(), "decision_log.json") }
func (c *Config) IssuesPath() string        { return filepath.Join(c.BrainDir(), "issues.json") }
func (c *Config) MetricsPath() string       { return filepath.Join(c.BrainDir(), "metrics.json") }
func (c *Config) ImprovementsPath() string  { return filepath.Join(c.BrainDir(), "improvements.json") }

func (c *Config) LearningEventsPath() string { return filepath.Join(c.MemoryDir(), "learning_events.jsonl") }
func (c *Config) ProposalsV2Path() string {
	return filepath.Join(c.MemoryDir(), "improvement_proposals_v2.json")
}
func (c *Config) OutcomeEvidencePath() string {
	return filepath.Join(c.MemoryDir(), "outcome_evidence.jsonl")
}

func (c *Config) ExperimentRunsPath() string {
	return filepath.Join(c.ExperimentsDir(), "experiment_runs_v2.json")
}

func (c *Config) PolicyStatePath() string {
	return filepath.Join(c.StateDir(), "learning_policy_state.json")
}
func (c *Config) LearningStatePath() string { return filepath.Join(c.StateDir(), "learning_state.json") }
func (c *Config) CAFEStatePath() string     { return filepath.Join(c.StateDir(), "cafe_state.json") }
func (c *Config) SkillsPath() string        { return filepath.Join(c.StateDir(), "skills.json") }
func (c *Config) ReviewQueuePath() string   { return filepath.Join(c.StateDir(), "review_queue.json") }
func (c *Config) BudgetPath() string        { return filepath.Join(c.StateDir(), "budget.json") }

// Advisory lock files for cross-process exclusion.
func (c *Config) ScanLockPath() string  { return filepath.Join(c.StateDir(), "knowledge_scan.lock") }
func (c *Config) ApplyLockPath() string { return filepath.Join(c.StateDir(), "improvement_apply.lock") }
func (c *Config) DailyLockPath() string {
	return filepath.Join(c.StateDir(), "daily_self_learning.lock")
}
