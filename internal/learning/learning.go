// Package learning runs the top-level scheduler: one driver goroutine that
// walks the iteration steps in order, multiplexing the slower cycles (scan,
// calibration, review, cleanup, daily self-learning) over wall-clock
// thresholds. Step failures are recorded and never abort an iteration.
package learning

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/bandit"
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/cafe"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/lock"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/proposal"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

const resultsMax = 100

// HealthFunc captures the current health snapshot.
type HealthFunc func(ctx context.Context) storage.HealthSnapshot

// Scanner is the slice of the scout the loop drives.
type Scanner interface {
	ScanAll(ctx context.Context) (scout.ScanReport, error)
	RecentFindings(limit int) ([]scout.Finding, error)
	Stats() map[string]any
}

// Experiments executes approved proposals.
type Experiments interface {
	ExecuteProposal(ctx context.Context, proposalID, mode string) (storage.ExperimentRun, error)
	NormalRunsSince(cutoff time.Time) int
}

// RunVerifier judges finished runs.
type RunVerifier interface {
	VerifyExperiment(ctx context.Context, runID string) (storage.OutcomeEvidence, error)
}

// Calibrator folds outcome evidence back into scorer biases.
type Calibrator interface {
	Calibrate(evidence []storage.OutcomeEvidence) ([]cafe.FamilyStats, error)
}

// Deps are the collaborators one loop drives. Nil entries disable the
// corresponding step rather than failing it.
type Deps struct {
	Store        *storage.Store
	Memory       *memory.Store
	Governor     *memory.Governor
	Engine       *proposal.Engine
	Improvements *proposal.ImprovementStore
	Experiments  Experiments
	Verifier     RunVerifier
	Calibrator   Calibrator
	Bandit       *bandit.Bandit
	Scanner      Scanner
	Health       HealthFunc
	Bus          *bus.Bus
}

// Options tune the scheduler. FromConfig maps the full configuration.
type Options struct {
	CycleInterval       time.Duration
	ScanInterval        time.Duration
	CalibrationInterval time.Duration
	ReviewInterval      time.Duration
	CleanupInterval     time.Duration
	DailyInterval       time.Duration

	StagnationWarnStreak   int
	StagnationApproveDelta float64
	SelfReminderEnabled    bool
	MaxActionable          int
	GenerateLimit          int

	EnableV2             bool
	EnableAutoApproveV1  bool
	AutoApproveScoreV1   float64
	AutoApproveThreshold float64
	UnblockMinScore      float64

	RetryInterval time.Duration
	MaxAttempts   int

	ModeDefault string
	RealApply   bool
	Canary      config.CanaryConfig

	BanditEnabled      bool
	CalibrationEnabled bool

	RetentionDays    int
	RetentionMinHits int

	StatePath       string
	ReviewQueuePath string
	ScanLockPath    string
	ApplyLockPath   string
	DailyLockPath   string
	LogsDir         string
	BrainDir        string
}

// FromConfig distills the scheduler options out of the full config.
func FromConfig(cfg *config.Config) Options {
	return Options{
		CycleInterval:       time.Duration(cfg.Learning.CycleIntervalSeconds) * time.Second,
		ScanInterval:        time.Duration(cfg.Learning.KnowledgeScanInterval) * time.Second,
		CalibrationInterval: time.Duration(cfg.Learning.CAFECalibrationInterval) * time.Second,
		ReviewInterval:      time.Duration(cfg.Learning.AdvancedReviewInterval) * time.Second,
		CleanupInterval:     time.Duration(cfg.Learning.CleanupInterval) * time.Second,
		DailyInterval:       time.Duration(cfg.Learning.DailySelfLearningInterval) * time.Second,

		StagnationWarnStreak:   cfg.Learning.StagnationWarnStreak,
		StagnationApproveDelta: cfg.Learning.StagnationApproveDelta,
		SelfReminderEnabled:    cfg.Learning.SelfReminderEnabled,
		MaxActionable:          cfg.Learning.MaxActionableProposals,
		GenerateLimit:          cfg.Proposals.MaxPerIteration,

		EnableV2:             cfg.Proposals.EnableV2,
		EnableAutoApproveV1:  cfg.Proposals.EnableAutoApproveV1,
		AutoApproveScoreV1:   cfg.Proposals.AutoApproveScoreV1,
		AutoApproveThreshold: cfg.Proposals.AutoApproveThreshold,
		UnblockMinScore:      cfg.Proposals.UnblockMinScore,

		RetryInterval: time.Duration(cfg.Verification.RetryIntervalSeconds) * time.Second,
		MaxAttempts:   cfg.Verification.MaxAttempts,

		ModeDefault: cfg.Experiments.ModeDefault,
		RealApply:   cfg.Experiments.RealApply,
		Canary:      cfg.Canary,

		BanditEnabled:      cfg.Bandit.Enabled,
		CalibrationEnabled: cfg.CAFE.CalibrationEnabled,

		RetentionDays:    cfg.Memory.RetentionDays,
		RetentionMinHits: cfg.Memory.RetentionMinHits,

		StatePath:       cfg.LearningStatePath(),
		ReviewQueuePath: cfg.ReviewQueuePath(),
		ScanLockPath:    cfg.ScanLockPath(),
		ApplyLockPath:   cfg.ApplyLockPath(),
		DailyLockPath:   cfg.DailyLockPath(),
		LogsDir:         cfg.LogsDir(),
		BrainDir:        cfg.BrainDir(),
	}
}

// pendingVerification is a run waiting for a later verification attempt.
type pendingVerification struct {
	RunID      string           `json:"run_id"`
	ProposalID string           `json:"proposal_id"`
	Mode       string           `json:"mode"`
	Attempts   int              `json:"attempts"`
	NextAt     time.Time        `json:"next_at"`
	Selection  bandit.Selection `json:"selection,omitempty"`
}

// State is the persisted scheduler position.
type State struct {
	Iteration            int64                 `json:"iteration"`
	LastIterationAt      time.Time             `json:"last_iteration_at"`
	LastScanAt           time.Time             `json:"last_scan_at"`
	LastCalibrationAt    time.Time             `json:"last_calibration_at"`
	LastReviewAt         time.Time             `json:"last_review_at"`
	LastCleanupAt        time.Time             `json:"last_cleanup_at"`
	LastDailyAt          time.Time             `json:"last_daily_at"`
	NoLearningStreak     int                   `json:"no_learning_streak"`
	NoImprovementStreak  int                   `json:"no_improvement_streak"`
	FocusIndex           int                   `json:"focus_index"`
	FocusArea            string                `json:"focus_area"`
	CooldownUntil        *time.Time            `json:"cooldown_until,omitempty"`
	PendingVerifications []pendingVerification `json:"pending_verifications,omitempty"`
}

// StepError is one failed step inside an iteration.
type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// IterationResult is the record of one scheduler pass.
type IterationResult struct {
	Iteration  int64                  `json:"iteration"`
	StartedAt  time.Time              `json:"started_at"`
	DurationMs int64                  `json:"duration_ms"`
	Health     storage.HealthSnapshot `json:"health"`
	Steps      map[string]any         `json:"steps"`
	Errors     []StepError            `json:"errors,omitempty"`
}

func (r *IterationResult) addError(step string, err error) {
	r.Errors = append(r.Errors, StepError{Step: step, Error: err.Error()})
}

// Loop is the scheduler. One goroutine runs iterations; accessors are safe
// from API handlers.
type Loop struct {
	deps   Deps
	opts   Options
	canary *canaryGuard
	review *reviewQueue

	mu      sync.Mutex
	state   State
	results []IterationResult

	log *zap.Logger
	now func() time.Time
}

// New restores scheduler state from StatePath when present.
func New(deps Deps, opts Options, log *zap.Logger) (*Loop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	applyOptionDefaults(&opts)

	l := &Loop{
		deps: deps,
		opts: opts,
		log:  log,
		now:  time.Now,
	}
	l.canary = &canaryGuard{
		cfg:         opts.Canary,
		modeDefault: opts.ModeDefault,
		realApply:   opts.RealApply,
		now:         func() time.Time { return l.now() },
	}
	if deps.Experiments != nil {
		l.canary.normalRuns = deps.Experiments.NormalRunsSince
	}
	if deps.Memory != nil && opts.ReviewQueuePath != "" {
		l.review = newReviewQueue(opts.ReviewQueuePath, deps.Memory, log)
	}

	if opts.StatePath != "" {
		var st State
		found, err := storage.ReadJSON(opts.StatePath, &st)
		if err != nil {
			return nil, err
		}
		if found {
			l.state = st
		}
	}
	if l.state.FocusArea == "" {
		l.state.FocusArea = focusAreas[0]
	}
	return l, nil
}

func applyOptionDefaults(opts *Options) {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = 60 * time.Second
	}
	if opts.MaxActionable <= 0 {
		opts.MaxActionable = 3
	}
	if opts.GenerateLimit <= 0 {
		opts.GenerateLimit = 3
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 600 * time.Second
	}
	if opts.StagnationWarnStreak <= 0 {
		opts.StagnationWarnStreak = 5
	}
	if opts.StagnationApproveDelta <= 0 {
		opts.StagnationApproveDelta = 0.2
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	if opts.ModeDefault == "" {
		opts.ModeDefault = storage.ModeSafe
	}
}

// Run drives iterations until the context ends. The first iteration starts
// immediately.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("learning loop started",
		zap.Duration("cycle_interval", l.opts.CycleInterval))
	l.RunIteration(ctx)

	ticker := time.NewTicker(l.opts.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("learning loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.RunIteration(ctx)
		}
	}
}

// RunIteration executes one full pass of steps 1-10.
func (l *Loop) RunIteration(ctx context.Context) IterationResult {
	started := l.now().UTC()
	l.mu.Lock()
	l.state.Iteration++
	iteration := l.state.Iteration
	stateSnapshot := l.state
	l.mu.Unlock()

	res := IterationResult{
		Iteration: iteration,
		StartedAt: started,
		Steps:     map[string]any{},
	}
	progress := iterationProgress{}

	res.Health = l.stepHealth(ctx)

	findings := l.stepScan(ctx, &res, &stateSnapshot, &progress)
	l.stepImprovements(&res, stateSnapshot, res.Health, &progress)
	l.stepPipeline(ctx, &res, stateSnapshot, findings, &progress)
	l.stepCalibration(&res, &stateSnapshot)
	l.stepReview(&res, &stateSnapshot, &progress)
	l.stepCleanup(&res, &stateSnapshot)
	l.stepSelfCheck(&res, &stateSnapshot, progress)
	l.stepDaily(&res, &stateSnapshot, res.Health, findings)

	finished := l.now().UTC()
	res.DurationMs = finished.Sub(started).Milliseconds()
	stateSnapshot.LastIterationAt = finished

	l.mu.Lock()
	// Counters and cooldown may have moved inside the steps; prefer the live
	// values and fold the snapshot's clock fields back in.
	stateSnapshot.Iteration = l.state.Iteration
	stateSnapshot.PendingVerifications = l.state.PendingVerifications
	stateSnapshot.CooldownUntil = l.state.CooldownUntil
	l.state = stateSnapshot
	l.results = append(l.results, res)
	if len(l.results) > resultsMax {
		l.results = append([]IterationResult(nil), l.results[len(l.results)-resultsMax:]...)
	}
	l.mu.Unlock()

	l.persistState(&res)
	l.selfReminder(res)

	if l.deps.Bus != nil {
		l.deps.Bus.Emit("learning_iteration", map[string]any{
			"iteration":   iteration,
			"duration_ms": res.DurationMs,
			"errors":      len(res.Errors),
		})
	}
	l.log.Info("iteration complete",
		zap.Int64("iteration", iteration),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Int("errors", len(res.Errors)))
	return res
}

// iterationProgress tracks what moved this pass for the streak bookkeeping.
type iterationProgress struct {
	learned  bool
	improved bool
}

func (l *Loop) stepHealth(ctx context.Context) storage.HealthSnapshot {
	if l.deps.Health == nil {
		return storage.HealthSnapshot{CapturedAt: l.now().UTC()}
	}
	return l.deps.Health(ctx)
}

// stepScan runs the knowledge scan when due, guarded by the scan flock.
// Returns the findings feeding the v2 pipeline this iteration.
func (l *Loop) stepScan(ctx context.Context, res *IterationResult, st *State, progress *iterationProgress) []scout.Finding {
	if l.deps.Scanner == nil {
		return nil
	}
	now := l.now().UTC()
	if l.opts.ScanInterval > 0 && now.Sub(st.LastScanAt) < l.opts.ScanInterval {
		return l.recentFindings()
	}

	fl, err := lock.Acquire(l.opts.ScanLockPath)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			res.Steps["scan"] = "skipped_lock_held"
			l.log.Info("knowledge scan skipped, lock held elsewhere")
		} else {
			res.addError("scan", err)
		}
		return l.recentFindings()
	}
	defer fl.Release()

	report, err := l.deps.Scanner.ScanAll(ctx)
	if err != nil {
		res.addError("scan", err)
		return l.recentFindings()
	}
	st.LastScanAt = now
	res.Steps["scan"] = map[string]any{
		"findings":    len(report.Findings),
		"scanned":     report.Scanned,
		"skipped":     report.Skipped,
		"unavailable": report.Unavailable,
		"forwarded":   report.Forwarded,
	}
	if report.Forwarded > 0 {
		progress.learned = true
	}
	l.writeRnDNotes(report.Findings)
	return report.Findings
}

func (l *Loop) recentFindings() []scout.Finding {
	findings, err := l.deps.Scanner.RecentFindings(20)
	if err != nil {
		return nil
	}
	return findings
}

// writeRnDNotes appends the day's top findings to the research notes log.
func (l *Loop) writeRnDNotes(findings []scout.Finding) {
	if l.opts.LogsDir == "" {
		return
	}
	now := l.now().UTC()
	path := filepath.Join(l.opts.LogsDir, "rnd_notes_"+now.Format("20060102")+".jsonl")
	count := 0
	for _, f := range findings {
		if f.Type == scout.FindingUnavailable || count >= 3 {
			continue
		}
		note := map[string]any{
			"ts":     now,
			"source": f.Source,
			"title":  f.Title,
			"score":  f.Score(),
			"url":    f.URL,
		}
		if err := storage.AppendJSONL(path, note); err != nil {
			l.log.Warn("rnd note write failed", zap.Error(err))
			return
		}
		count++
	}
}

// stepImprovements handles the v1 compat store under the apply flock.
func (l *Loop) stepImprovements(res *IterationResult, st State, health storage.HealthSnapshot, progress *iterationProgress) {
	if l.deps.Improvements == nil {
		return
	}
	err := lock.WithLock(l.opts.ApplyLockPath, func() error {
		summary := map[string]any{}
		if l.opts.EnableAutoApproveV1 {
			approved, err := l.deps.Improvements.AutoApprove(l.opts.AutoApproveScoreV1)
			if err != nil {
				return err
			}
			summary["auto_approved"] = len(approved)
		}
		if st.NoImprovementStreak >= l.opts.StagnationWarnStreak && health.OpenIssues == 0 {
			if imp, ok, err := l.deps.Improvements.UnblockOne(l.opts.UnblockMinScore); err != nil {
				return err
			} else if ok {
				summary["unblocked"] = imp.ID
				l.log.Info("stagnation unblock approved",
					zap.String("id", imp.ID),
					zap.Float64("score", imp.SourceScore))
			}
		}
		applied := 0
		for _, imp := range l.deps.Improvements.ApprovedUnapplied() {
			if _, err := l.deps.Improvements.MarkApplied(imp.ID); err != nil {
				l.log.Warn("improvement apply failed", zap.String("id", imp.ID), zap.Error(err))
				continue
			}
			applied++
		}
		summary["applied"] = applied
		if applied > 0 {
			progress.improved = true
		}
		res.Steps["improvements"] = summary
		return nil
	})
	if errors.Is(err, lock.ErrHeld) {
		res.Steps["improvements"] = "skipped_lock_held"
		l.log.Info("improvement apply skipped, lock held elsewhere")
	} else if err != nil {
		res.addError("improvements", err)
	}
}

// stepPipeline is the v2 path: policy selection, event intake, proposal
// generation, canary-gated execution, verification, bandit feedback.
func (l *Loop) stepPipeline(ctx context.Context, res *IterationResult, st State, findings []scout.Finding, progress *iterationProgress) {
	if !l.opts.EnableV2 || l.deps.Engine == nil || l.deps.Store == nil {
		return
	}
	summary := map[string]any{}
	defer func() { res.Steps["pipeline"] = summary }()

	var selection bandit.Selection
	approveThreshold := l.opts.AutoApproveThreshold
	scanMinScore := 0.0
	if l.opts.BanditEnabled && l.deps.Bandit != nil {
		sel, err := l.deps.Bandit.SelectPolicy()
		if err != nil {
			res.addError("pipeline", err)
		} else {
			selection = sel
			summary["policy"] = sel.Choices
			if v, ok := sel.Float(bandit.FamilyApproveThreshold); ok {
				approveThreshold = v
			}
			if v, ok := sel.Float(bandit.FamilyScanMinScore); ok {
				scanMinScore = v
			}
		}
	}

	recorded := l.recordEvents(findings, scanMinScore, res)
	summary["events_recorded"] = len(recorded)
	if len(recorded) > 0 {
		progress.learned = true
	}

	created, err := l.deps.Engine.GenerateFromEvents(ctx, recorded, l.opts.GenerateLimit, true)
	if err != nil {
		res.addError("pipeline", err)
	}
	summary["proposals_created"] = len(created)

	if st.NoImprovementStreak >= l.opts.StagnationWarnStreak {
		approveThreshold -= l.opts.StagnationApproveDelta
		summary["stagnation_threshold"] = approveThreshold
	}
	approvedN, err := l.deps.Engine.AutoApproveSafe(l.opts.MaxActionable, approveThreshold)
	if err != nil {
		res.addError("pipeline", err)
	}
	summary["auto_approved"] = approvedN

	if l.deps.Experiments != nil && l.deps.Verifier != nil {
		executed, wins := l.executeApproved(ctx, res, selection, summary)
		summary["executed"] = executed
		if wins > 0 {
			progress.improved = true
		}
	}

	retried, wins := l.retryPendingVerifications(ctx, res)
	if retried > 0 {
		summary["verification_retries"] = retried
	}
	if wins > 0 {
		progress.improved = true
	}
}

// recordEvents converts scan findings into deduplicated learning events.
func (l *Loop) recordEvents(findings []scout.Finding, minScore float64, res *IterationResult) []storage.LearningEvent {
	if len(findings) == 0 {
		return nil
	}
	now := l.now().UTC()
	var events []storage.LearningEvent
	for _, f := range findings {
		if f.Type == scout.FindingUnavailable || f.Score() < minScore {
			continue
		}
		events = append(events, storage.LearningEvent{
			ID:         "evt_" + uuid.NewString()[:8],
			Timestamp:  now,
			Source:     "scout:" + f.Source,
			EventType:  "scan_finding",
			Title:      f.Title,
			Content:    f.Title,
			Novelty:    f.Relevance,
			Value:      f.Relevance,
			Risk:       0.2,
			Confidence: 0.6,
			Stream:     storage.StreamNonProduction,
		})
	}
	if len(events) == 0 {
		return nil
	}
	if l.deps.Governor != nil {
		recent, err := l.deps.Store.RecentEvents(200)
		if err != nil {
			res.addError("pipeline", err)
		} else {
			events = l.deps.Governor.Dedup(events, recent)
		}
	}
	var recorded []storage.LearningEvent
	for _, ev := range events {
		if err := l.deps.Store.AppendEvent(ev); err != nil {
			res.addError("pipeline", err)
			break
		}
		recorded = append(recorded, ev)
	}
	return recorded
}

// executeApproved runs up to MaxActionable approved proposals through the
// canary gate, the executor, and the verifier. Returns runs and win count.
func (l *Loop) executeApproved(ctx context.Context, res *IterationResult, selection bandit.Selection, summary map[string]any) (int, int) {
	l.mu.Lock()
	cooldown := l.state.CooldownUntil
	l.mu.Unlock()

	executed, wins, failed := 0, 0, 0
	var modes []string
	for _, p := range l.deps.Engine.Approved(l.opts.MaxActionable) {
		decision := l.canary.decide(p, cooldown)
		modes = append(modes, decision.Mode+":"+decision.Reason)

		run, err := l.deps.Experiments.ExecuteProposal(ctx, p.ID, decision.Mode)
		if err != nil {
			res.addError("pipeline", err)
			continue
		}
		executed++
		if run.Execution == nil || !run.Execution.Success {
			failed++
			l.log.Warn("execution unsuccessful, verdict withheld",
				zap.String("run_id", run.ID),
				zap.String("proposal_id", p.ID))
			continue
		}

		evidence, err := l.deps.Verifier.VerifyExperiment(ctx, run.ID)
		if err != nil {
			res.addError("pipeline", err)
			continue
		}
		if evidence.PendingRecheck || evidence.HoldoutPending {
			l.schedulePending(run.ID, p.ID, decision.Mode, selection, evidence.NextRecheckAfter)
			continue
		}
		if evidence.Verdict == storage.VerdictWin {
			wins++
		}
		l.settleVerdict(evidence, selection, p.ID, decision.Mode)
	}
	if len(modes) > 0 {
		summary["modes"] = modes
	}
	if failed > 0 {
		summary["executions_failed"] = failed
	}
	return executed, wins
}

func (l *Loop) schedulePending(runID, proposalID, mode string, selection bandit.Selection, nextAfter *time.Time) {
	next := l.now().UTC().Add(l.opts.RetryInterval)
	if nextAfter != nil && nextAfter.After(next) {
		next = *nextAfter
	}
	l.mu.Lock()
	l.state.PendingVerifications = append(l.state.PendingVerifications, pendingVerification{
		RunID:      runID,
		ProposalID: proposalID,
		Mode:       mode,
		Attempts:   1,
		NextAt:     next,
		Selection:  selection,
	})
	l.mu.Unlock()
	l.log.Info("verification recheck scheduled",
		zap.String("run_id", runID),
		zap.Time("next_at", next))
}

// settleVerdict feeds the bandit and applies the canary loss consequences.
func (l *Loop) settleVerdict(evidence storage.OutcomeEvidence, selection bandit.Selection, proposalID, mode string) {
	if l.deps.Bandit != nil && len(selection.Choices) > 0 {
		weight := 0.5 + evidence.Confidence
		if err := l.deps.Bandit.Update(evidence.Verdict, selection, weight, map[string]any{
			"proposal_id": proposalID,
			"mode":        mode,
		}); err != nil {
			l.log.Warn("bandit update failed", zap.Error(err))
		}
	}
	if mode == storage.ModeNormal && evidence.Verdict == storage.VerdictLoss {
		until := l.now().UTC().Add(time.Duration(l.opts.Canary.CooldownSeconds) * time.Second)
		l.mu.Lock()
		l.state.CooldownUntil = &until
		l.mu.Unlock()
		if err := l.deps.Engine.Annotate(proposalID, map[string]any{"rollback_guardrail": true}); err != nil {
			l.log.Warn("rollback flag failed", zap.String("proposal_id", proposalID), zap.Error(err))
		}
		l.log.Warn("normal-mode loss, canary cooldown engaged",
			zap.String("proposal_id", proposalID),
			zap.Time("until", until))
	}
}

// retryPendingVerifications re-verifies runs whose recheck time has come.
func (l *Loop) retryPendingVerifications(ctx context.Context, res *IterationResult) (int, int) {
	if l.deps.Verifier == nil {
		return 0, 0
	}
	now := l.now().UTC()
	l.mu.Lock()
	pending := l.state.PendingVerifications
	l.state.PendingVerifications = nil
	l.mu.Unlock()

	retried, wins := 0, 0
	var keep []pendingVerification
	for _, pv := range pending {
		if pv.NextAt.After(now) {
			keep = append(keep, pv)
			continue
		}
		retried++
		evidence, err := l.deps.Verifier.VerifyExperiment(ctx, pv.RunID)
		if err != nil {
			res.addError("pipeline", err)
			continue
		}
		pv.Attempts++
		if (evidence.PendingRecheck || evidence.HoldoutPending) && pv.Attempts < l.opts.MaxAttempts {
			pv.NextAt = now.Add(l.opts.RetryInterval)
			if evidence.NextRecheckAfter != nil && evidence.NextRecheckAfter.After(pv.NextAt) {
				pv.NextAt = *evidence.NextRecheckAfter
			}
			keep = append(keep, pv)
			continue
		}
		if evidence.Verdict == storage.VerdictWin {
			wins++
		}
		l.settleVerdict(evidence, pv.Selection, pv.ProposalID, pv.Mode)
	}

	l.mu.Lock()
	l.state.PendingVerifications = append(keep, l.state.PendingVerifications...)
	l.mu.Unlock()
	return retried, wins
}

func (l *Loop) stepCalibration(res *IterationResult, st *State) {
	if !l.opts.CalibrationEnabled || l.deps.Calibrator == nil || l.deps.Store == nil {
		return
	}
	now := l.now().UTC()
	if l.opts.CalibrationInterval > 0 && now.Sub(st.LastCalibrationAt) < l.opts.CalibrationInterval {
		return
	}
	evidence, err := l.deps.Store.RecentEvidence(500)
	if err != nil {
		res.addError("calibration", err)
		return
	}
	stats, err := l.deps.Calibrator.Calibrate(evidence)
	if err != nil {
		res.addError("calibration", err)
		return
	}
	st.LastCalibrationAt = now
	res.Steps["calibration"] = map[string]any{"families": len(stats)}
}

func (l *Loop) stepReview(res *IterationResult, st *State, progress *iterationProgress) {
	if l.review == nil {
		return
	}
	now := l.now().UTC()
	if l.opts.ReviewInterval > 0 && now.Sub(st.LastReviewAt) < l.opts.ReviewInterval {
		return
	}
	summary, err := l.review.run()
	if err != nil {
		res.addError("review", err)
		return
	}
	st.LastReviewAt = now
	res.Steps["review"] = summary
	if summary.Reviewed > 0 {
		progress.learned = true
	}
}

func (l *Loop) stepCleanup(res *IterationResult, st *State) {
	if l.deps.Memory == nil {
		return
	}
	now := l.now().UTC()
	if l.opts.CleanupInterval > 0 && now.Sub(st.LastCleanupAt) < l.opts.CleanupInterval {
		return
	}
	pruned, err := l.deps.Memory.PruneOlderThan(time.Duration(l.opts.RetentionDays)*24*time.Hour, l.opts.RetentionMinHits)
	if err != nil {
		res.addError("cleanup", err)
		return
	}
	st.LastCleanupAt = now
	res.Steps["cleanup"] = map[string]any{"pruned": pruned}
}

func (l *Loop) stepSelfCheck(res *IterationResult, st *State, progress iterationProgress) {
	if progress.learned {
		st.NoLearningStreak = 0
	} else {
		st.NoLearningStreak++
	}
	if progress.improved {
		st.NoImprovementStreak = 0
	} else {
		st.NoImprovementStreak++
	}
	res.Steps["self_check"] = map[string]any{
		"no_learning_streak":    st.NoLearningStreak,
		"no_improvement_streak": st.NoImprovementStreak,
	}
	if st.NoLearningStreak == l.opts.StagnationWarnStreak {
		l.log.Warn("learning stagnation", zap.Int("streak", st.NoLearningStreak))
	}
	if st.NoImprovementStreak == l.opts.StagnationWarnStreak {
		l.log.Warn("improvement stagnation", zap.Int("streak", st.NoImprovementStreak))
	}
}

// stepDaily runs the self-learning report under the daily flock and rotates
// the focus area.
func (l *Loop) stepDaily(res *IterationResult, st *State, health storage.HealthSnapshot, findings []scout.Finding) {
	now := l.now().UTC()
	if l.opts.DailyInterval > 0 && now.Sub(st.LastDailyAt) < l.opts.DailyInterval {
		return
	}
	err := lock.WithLock(l.opts.DailyLockPath, func() error {
		st.FocusIndex = (st.FocusIndex + 1) % len(focusAreas)
		st.FocusArea = focusAreas[st.FocusIndex]

		var scannerStats map[string]any
		if l.deps.Scanner != nil {
			scannerStats = l.deps.Scanner.Stats()
		}
		ideas := buildDailyIdeas(health, scannerStats, len(findings))
		var experiments []dailyExperiment
		if l.deps.Engine != nil {
			experiments = append(experiments, simulateThresholdSensitivity(prioritiesOf(l.deps.Engine.Active()), l.opts.MaxActionable))
		}
		experiments = append(experiments, simulateSourceResilience(scannerStats))

		report := dailyReport{
			Date:         now.Format("2006-01-02"),
			GeneratedAt:  now,
			Focus:        st.FocusArea,
			Ideas:        ideas,
			Experiments:  experiments,
			Health:       health,
			ScannerStats: scannerStats,
		}
		if err := l.writeDailyArtifacts(report, now); err != nil {
			return err
		}
		st.LastDailyAt = now
		res.Steps["daily"] = map[string]any{
			"ideas":       len(ideas),
			"experiments": len(experiments),
			"focus":       st.FocusArea,
		}
		return nil
	})
	if errors.Is(err, lock.ErrHeld) {
		res.Steps["daily"] = "skipped_lock_held"
		l.log.Info("daily self-learning skipped, lock held elsewhere")
	} else if err != nil {
		res.addError("daily", err)
	}
}

func (l *Loop) writeDailyArtifacts(report dailyReport, now time.Time) error {
	stamp := now.Format("20060102")
	if l.opts.BrainDir != "" {
		path := filepath.Join(l.opts.BrainDir, "report_"+stamp+".json")
		if err := storage.WriteJSONAtomic(path, &report); err != nil {
			return err
		}
	}
	if l.opts.LogsDir == "" {
		return nil
	}
	path := filepath.Join(l.opts.LogsDir, "daily_self_learning_"+stamp+".jsonl")
	for _, idea := range report.Ideas {
		if err := storage.AppendJSONL(path, map[string]any{"ts": now, "kind": "idea", "text": idea}); err != nil {
			return err
		}
	}
	for _, ex := range report.Experiments {
		if err := storage.AppendJSONL(path, map[string]any{"ts": now, "kind": "experiment", "name": ex.Name, "conclusion": ex.Conclusion}); err != nil {
			return err
		}
	}
	return storage.AppendJSONL(path, map[string]any{"ts": now, "kind": "focus", "area": report.Focus})
}

func (l *Loop) persistState(res *IterationResult) {
	if l.opts.StatePath == "" {
		return
	}
	l.mu.Lock()
	st := l.state
	l.mu.Unlock()
	if err := storage.WriteJSONAtomic(l.opts.StatePath, &st); err != nil {
		res.addError("persist", err)
		l.log.Warn("learning state write failed", zap.Error(err))
	}
}

func (l *Loop) selfReminder(res IterationResult) {
	if !l.opts.SelfReminderEnabled || l.opts.LogsDir == "" {
		return
	}
	l.mu.Lock()
	st := l.state
	l.mu.Unlock()
	line := map[string]any{
		"ts":                    l.now().UTC(),
		"iteration":             res.Iteration,
		"focus":                 st.FocusArea,
		"no_learning_streak":    st.NoLearningStreak,
		"no_improvement_streak": st.NoImprovementStreak,
		"errors":                len(res.Errors),
	}
	path := filepath.Join(l.opts.LogsDir, "self_reminder_log.jsonl")
	if err := storage.AppendJSONL(path, line); err != nil {
		l.log.Warn("self reminder write failed", zap.Error(err))
	}
}

// CurrentState returns a copy of the persisted scheduler position.
func (l *Loop) CurrentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Results returns the most recent iteration results, newest last.
func (l *Loop) Results(limit int) []IterationResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]IterationResult(nil), l.results...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats summarizes the loop for the status endpoint.
func (l *Loop) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]any{
		"iteration":             l.state.Iteration,
		"focus_area":            l.state.FocusArea,
		"no_learning_streak":    l.state.NoLearningStreak,
		"no_improvement_streak": l.state.NoImprovementStreak,
		"pending_verifications": len(l.state.PendingVerifications),
		"last_iteration_at":     l.state.LastIterationAt,
		"last_scan_at":          l.state.LastScanAt,
		"last_daily_at":         l.state.LastDailyAt,
	}
	if l.state.CooldownUntil != nil {
		out["cooldown_until"] = *l.state.CooldownUntil
	}
	return out
}
