package storage

import "time"

// Event streams.
const (
	StreamProduction    = "production"
	StreamNonProduction = "non_production"
)

// Proposal statuses. Transitions are strictly forward:
// pending_approval -> approved -> executed -> verified | rejected.
const (
	ProposalPendingApproval = "pending_approval"
	ProposalApproved        = "approved"
	ProposalExecuted        = "executed"
	ProposalVerified        = "verified"
	ProposalRejected        = "rejected"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Experiment modes.
const (
	ModeSafe   = "safe"
	ModeNormal = "normal"
)

// Verdicts.
const (
	VerdictWin          = "win"
	VerdictLoss         = "loss"
	VerdictInconclusive = "inconclusive"
)

// CAFEResult is the scorer output attached to events and evidence.
type CAFEResult struct {
	Score         float64  `json:"score"`
	Confidence    float64  `json:"confidence"`
	Helpful       float64  `json:"helpful"`
	Harmless      float64  `json:"harmless"`
	Reliability   float64  `json:"reliability"`
	Blocked       bool     `json:"blocked"`
	Reasons       []string `json:"reasons,omitempty"`
	ModelConfBias float64  `json:"model_conf_bias"`
}

// LearningEvent is a scored observation eligible for proposal generation.
type LearningEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Source     string         `json:"source"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content"`
	Title      string         `json:"title,omitempty"`
	Hypothesis string         `json:"hypothesis,omitempty"`
	Novelty    float64        `json:"novelty"`
	Value      float64        `json:"value"`
	Risk       float64        `json:"risk"`
	Confidence float64        `json:"confidence"`
	Context    map[string]any `json:"context,omitempty"`
	Model      string         `json:"model,omitempty"`
	Stream     string         `json:"stream"`
	CAFE       *CAFEResult    `json:"cafe,omitempty"`
}

// ProposalV2 is a candidate self-improvement with explicit priority, risk,
// signature and plan.
type ProposalV2 struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	OriginEventIDs []string       `json:"origin_event_ids"`
	Title          string         `json:"title"`
	Hypothesis     string         `json:"hypothesis"`
	PlanSteps      []string       `json:"plan_steps"`
	ExpectedImpact string         `json:"expected_impact"`
	RiskLevel      string         `json:"risk_level"`
	Status         string         `json:"status"`
	Confidence     float64        `json:"confidence"`
	Priority       float64        `json:"priority"`
	Signature      string         `json:"signature"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the proposal can no longer advance.
func (p *ProposalV2) Terminal() bool {
	return p.Status == ProposalVerified || p.Status == ProposalRejected
}

// HealthSnapshot is the metric set compared by the outcome verifier.
type HealthSnapshot struct {
	HealthScore        float64   `json:"health_score"`
	OpenIssues         int       `json:"open_issues"`
	TotalErrors        int       `json:"total_errors"`
	AvgDurationMs      float64   `json:"avg_duration_ms"`
	SuccessRate        float64   `json:"success_rate"`
	ProposalThroughput int       `json:"proposal_throughput"`
	CapturedAt         time.Time `json:"captured_at"`
}

// Delta is metrics_after minus metrics_before.
type Delta struct {
	HealthScore        float64 `json:"health_score"`
	OpenIssues         int     `json:"open_issues"`
	TotalErrors        int     `json:"total_errors"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
	SuccessRate        float64 `json:"success_rate"`
	ProposalThroughput int     `json:"proposal_throughput"`
}

// Diff computes after minus before.
func Diff(before, after HealthSnapshot) Delta {
	return Delta{
		HealthScore:        after.HealthScore - before.HealthScore,
		OpenIssues:         after.OpenIssues - before.OpenIssues,
		TotalErrors:        after.TotalErrors - before.TotalErrors,
		AvgDurationMs:      after.AvgDurationMs - before.AvgDurationMs,
		SuccessRate:        after.SuccessRate - before.SuccessRate,
		ProposalThroughput: after.ProposalThroughput - before.ProposalThroughput,
	}
}

// ExecutionReport summarizes what the experiment actually did.
type ExecutionReport struct {
	Success          bool    `json:"success"`
	Simulated        bool    `json:"simulated"`
	PatchesApplied   int     `json:"patches_applied"`
	PatchesSucceeded int     `json:"patches_succeeded"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Detail           string  `json:"detail,omitempty"`
}

// ExperimentRun records one invocation of the experiment executor.
type ExperimentRun struct {
	ID              string           `json:"id"`
	ProposalID      string           `json:"proposal_id"`
	Mode            string           `json:"mode"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	Actions         []string         `json:"actions,omitempty"`
	Artifacts       RunArtifacts     `json:"artifacts"`
	ExecutionStatus string           `json:"execution_status"`
	Execution       *ExecutionReport `json:"execution,omitempty"`
	Verification    map[string]any   `json:"verification,omitempty"`
}

// RunArtifacts carries the baseline captured before mutation.
type RunArtifacts struct {
	BaselineHealth   *HealthSnapshot `json:"baseline_health,omitempty"`
	ThroughputBefore int             `json:"throughput_before"`
	Extra            map[string]any  `json:"extra,omitempty"`
}

// OutcomeEvidence is the verifier's post-run record.
type OutcomeEvidence struct {
	ID               string          `json:"id"`
	ExperimentID     string          `json:"experiment_id"`
	ProposalID       string          `json:"proposal_id,omitempty"`
	MetricsBefore    *HealthSnapshot `json:"metrics_before,omitempty"`
	MetricsAfter     *HealthSnapshot `json:"metrics_after,omitempty"`
	Delta            *Delta          `json:"delta,omitempty"`
	Verdict          string          `json:"verdict"`
	Confidence       float64         `json:"confidence"`
	Signals          []string        `json:"signals,omitempty"`
	Execution        *ExecutionReport `json:"execution,omitempty"`
	PendingRecheck   bool            `json:"pending_recheck,omitempty"`
	HoldoutPending   bool            `json:"holdout_pending,omitempty"`
	NextRecheckAfter *time.Time      `json:"next_recheck_after,omitempty"`
	Attempt          int             `json:"attempt"`
	Model            string          `json:"model,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	CAFE             *CAFEResult     `json:"cafe,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
