// Package verify judges finished experiment runs against their baseline
// health snapshot and produces outcome evidence with a win/loss/inconclusive
// verdict. Marginal runs are parked for recheck instead of being forced to
// a verdict.
package verify

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/cafe"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Signal thresholds. A delta must clear these to count as a positive or
// negative signal.
const (
	healthSignal  = 1.0
	latencyGain   = -100.0
	latencyLoss   = 200.0
	successSignal = 0.02

	criticalHealthDrop = -2.0
	criticalErrors     = 2

	epsHealth  = 0.5
	epsLatency = 50.0
	epsSuccess = 0.01

	recheckConfidenceBar = 0.58
	evidenceScanLimit    = 500
)

// Evidence reasons.
const (
	ReasonHoldout        = "holdout_window"
	ReasonCritical       = "critical_regression"
	ReasonRegressions    = "multiple_regressions"
	ReasonImprovement    = "improvement_signals"
	ReasonNoSignal       = "no_clear_signal"
	ReasonThroughput     = "throughput_improved_without_regression"
	ReasonRetryExhausted = "retry_exhausted"
)

// HealthFunc captures the current health snapshot.
type HealthFunc func(ctx context.Context) storage.HealthSnapshot

// Proposals is the slice of the proposal engine the verifier needs.
type Proposals interface {
	Get(id string) (storage.ProposalV2, bool)
	MarkStatus(id, status string, extra map[string]any) error
}

// Options configure holdout and retry behavior.
type Options struct {
	HoldoutEnabled       bool
	HoldoutSeconds       int
	RetryIntervalSeconds int
	MaxAttempts          int
}

// Verifier produces outcome evidence for experiment runs.
type Verifier struct {
	store  *storage.Store
	props  Proposals
	health HealthFunc
	scorer *cafe.Scorer
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// New builds a verifier. scorer may be nil.
func New(store *storage.Store, props Proposals, health HealthFunc, scorer *cafe.Scorer, opts Options, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryIntervalSeconds <= 0 {
		opts.RetryIntervalSeconds = 600
	}
	return &Verifier{
		store:  store,
		props:  props,
		health: health,
		scorer: scorer,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// VerifyExperiment scores one run. The returned evidence is already
// persisted; callers inspect PendingRecheck to schedule retries.
func (v *Verifier) VerifyExperiment(ctx context.Context, runID string) (storage.OutcomeEvidence, error) {
	run, ok := v.store.FindRun(runID)
	if !ok {
		return storage.OutcomeEvidence{}, nexuserr.Newf(nexuserr.KindNotFound, "experiment run %s not found", runID)
	}

	now := v.now().UTC()
	attempt := v.attemptNumber(runID)

	if v.opts.HoldoutEnabled && run.FinishedAt != nil {
		release := run.FinishedAt.Add(time.Duration(v.opts.HoldoutSeconds) * time.Second)
		if now.Before(release) {
			ev := v.baseEvidence(run, attempt, now)
			ev.Verdict = storage.VerdictInconclusive
			ev.Confidence = 0.5
			ev.Reason = ReasonHoldout
			ev.PendingRecheck = true
			ev.HoldoutPending = true
			ev.NextRecheckAfter = &release
			return ev, v.record(run, ev, false)
		}
	}

	before := storage.HealthSnapshot{}
	if run.Artifacts.BaselineHealth != nil {
		before = *run.Artifacts.BaselineHealth
	}
	after := v.health(ctx)
	delta := storage.Diff(before, after)

	positives, negatives := classifySignals(delta)
	execFailed := run.Execution == nil || !run.Execution.Success

	verdict := storage.VerdictInconclusive
	confidence := 0.5
	reason := ReasonNoSignal
	signals := append([]string(nil), positives...)
	signals = append(signals, negatives...)

	switch {
	case delta.HealthScore <= criticalHealthDrop || delta.OpenIssues >= 1 || delta.TotalErrors >= criticalErrors || execFailed:
		verdict = storage.VerdictLoss
		confidence = 0.85
		reason = ReasonCritical
		if execFailed {
			signals = append(signals, "execution_failed")
		}
	case len(negatives) >= 2:
		verdict = storage.VerdictLoss
		confidence = 0.7
		reason = ReasonRegressions
	case len(positives) >= 1 && len(negatives) == 0:
		verdict = storage.VerdictWin
		confidence = 0.66
		if len(positives) > 1 {
			confidence = 0.8
		}
		reason = ReasonImprovement
	}

	// A real run that only moved proposal throughput still counts as a win
	// when nothing regressed.
	if verdict == storage.VerdictInconclusive {
		simulatedSuccess := run.Execution != nil && run.Execution.Success && run.Execution.Simulated
		if delta.ProposalThroughput > 0 &&
			math.Abs(delta.HealthScore) < healthSignal &&
			delta.OpenIssues <= 0 &&
			!simulatedSuccess {
			verdict = storage.VerdictWin
			if confidence < 0.62 {
				confidence = 0.62
			}
			reason = ReasonThroughput
			signals = append(signals, "throughput_gain")
		}
	}

	pendingRecheck := verdict == storage.VerdictInconclusive &&
		confidence < recheckConfidenceBar &&
		math.Abs(delta.HealthScore) < epsHealth &&
		math.Abs(delta.AvgDurationMs) < epsLatency &&
		math.Abs(delta.SuccessRate) < epsSuccess &&
		delta.OpenIssues == 0 &&
		delta.TotalErrors == 0

	if pendingRecheck && attempt > v.opts.MaxAttempts {
		pendingRecheck = false
		reason = ReasonRetryExhausted
	}

	ev := v.baseEvidence(run, attempt, now)
	ev.MetricsBefore = &before
	ev.MetricsAfter = &after
	ev.Delta = &delta
	ev.Verdict = verdict
	ev.Confidence = confidence
	ev.Signals = signals
	ev.Reason = reason
	ev.PendingRecheck = pendingRecheck
	if pendingRecheck {
		next := now.Add(time.Duration(v.opts.RetryIntervalSeconds) * time.Second)
		ev.NextRecheckAfter = &next
	}

	return ev, v.record(run, ev, !pendingRecheck)
}

func (v *Verifier) baseEvidence(run storage.ExperimentRun, attempt int, now time.Time) storage.OutcomeEvidence {
	return storage.OutcomeEvidence{
		ID:           "evd_" + uuid.NewString()[:8],
		ExperimentID: run.ID,
		ProposalID:   run.ProposalID,
		Execution:    run.Execution,
		Attempt:      attempt,
		Model:        v.proposalModel(run.ProposalID),
		CreatedAt:    now,
	}
}

func (v *Verifier) proposalModel(proposalID string) string {
	p, ok := v.props.Get(proposalID)
	if !ok {
		return ""
	}
	if m, ok := p.Metadata["model"].(string); ok {
		return m
	}
	return ""
}

// record persists evidence, attaches the verification to the run, and then
// promotes the proposal. That ordering keeps the run's verification visible
// before the proposal turns verified.
func (v *Verifier) record(run storage.ExperimentRun, ev storage.OutcomeEvidence, promote bool) error {
	if v.scorer != nil {
		scored := v.scorer.ScoreEvidence(ev)
		ev.CAFE = &scored
	}
	if err := v.store.AppendEvidence(ev); err != nil {
		return err
	}

	verification := map[string]any{
		"evidence_id":     ev.ID,
		"verdict":         ev.Verdict,
		"confidence":      ev.Confidence,
		"reason":          ev.Reason,
		"pending_recheck": ev.PendingRecheck,
		"attempt":         ev.Attempt,
		"verified_at":     ev.CreatedAt,
	}
	if err := v.store.UpdateRuns(func(rf *storage.RunsFile) error {
		for i := range rf.Runs {
			if rf.Runs[i].ID == run.ID {
				rf.Runs[i].Verification = verification
				return nil
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if promote {
		extra := map[string]any{"verdict": ev.Verdict, "evidence_id": ev.ID}
		if err := v.props.MarkStatus(run.ProposalID, storage.ProposalVerified, extra); err != nil {
			v.log.Warn("proposal promotion failed",
				zap.String("proposal_id", run.ProposalID),
				zap.Error(err))
		}
	}

	v.log.Info("experiment verified",
		zap.String("run_id", run.ID),
		zap.String("verdict", ev.Verdict),
		zap.Float64("confidence", ev.Confidence),
		zap.String("reason", ev.Reason),
		zap.Bool("pending_recheck", ev.PendingRecheck),
		zap.Int("attempt", ev.Attempt))
	return nil
}

// attemptNumber is one more than the count of prior non-holdout rechecks.
func (v *Verifier) attemptNumber(runID string) int {
	evs, err := v.store.RecentEvidence(evidenceScanLimit)
	if err != nil {
		return 1
	}
	n := 1
	for i := range evs {
		if evs[i].ExperimentID == runID && evs[i].PendingRecheck && !evs[i].HoldoutPending {
			n++
		}
	}
	return n
}

func classifySignals(d storage.Delta) (positives, negatives []string) {
	if d.HealthScore >= healthSignal {
		positives = append(positives, "health_improved")
	}
	if d.OpenIssues <= -1 {
		positives = append(positives, "issues_reduced")
	}
	if d.TotalErrors <= -1 {
		positives = append(positives, "errors_reduced")
	}
	if d.AvgDurationMs <= latencyGain {
		positives = append(positives, "latency_improved")
	}
	if d.SuccessRate >= successSignal {
		positives = append(positives, "success_rate_improved")
	}

	if d.HealthScore <= -healthSignal {
		negatives = append(negatives, "health_degraded")
	}
	if d.OpenIssues >= 1 {
		negatives = append(negatives, "issues_increased")
	}
	if d.TotalErrors >= 1 {
		negatives = append(negatives, "errors_increased")
	}
	if d.AvgDurationMs >= latencyLoss {
		negatives = append(negatives, "latency_degraded")
	}
	if d.SuccessRate <= -successSignal {
		negatives = append(negatives, "success_rate_degraded")
	}
	return positives, negatives
}
