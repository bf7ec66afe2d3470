package learning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/theanh97/nexus-nuance-sub001/internal/bandit"
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/cafe"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/experiment"
	"github.com/theanh97/nexus-nuance-sub001/internal/lock"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/proposal"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
	"github.com/theanh97/nexus-nuance-sub001/internal/verify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// The production types must keep satisfying the loop's collaborator slices.
var (
	_ Scanner     = (*scout.Scout)(nil)
	_ Experiments = (*experiment.Executor)(nil)
	_ RunVerifier = (*verify.Verifier)(nil)
	_ Calibrator  = (*cafe.Calibrator)(nil)
)

// fakeClock anchors at real time so dedup windows behave, then advances
// only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeScanner struct {
	mu     sync.Mutex
	report scout.ScanReport
	recent []scout.Finding
	stats  map[string]any
	err    error
	scans  int
}

func (s *fakeScanner) ScanAll(ctx context.Context) (scout.ScanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return scout.ScanReport{}, s.err
	}
	s.scans++
	return s.report, nil
}

func (s *fakeScanner) RecentFindings(limit int) ([]scout.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.recent) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *fakeScanner) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		return map[string]any{}
	}
	return s.stats
}

func (s *fakeScanner) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

type execCall struct {
	ProposalID string
	Mode       string
}

// fakeExperiments mimics the executor closely enough for the loop: it marks
// the proposal executed on success so it leaves the approved queue.
type fakeExperiments struct {
	mu      sync.Mutex
	engine  *proposal.Engine
	succeed bool
	err     error
	normal  int
	calls   []execCall
}

func newFakeExperiments(engine *proposal.Engine) *fakeExperiments {
	return &fakeExperiments{engine: engine, succeed: true}
}

func (f *fakeExperiments) ExecuteProposal(ctx context.Context, proposalID, mode string) (storage.ExperimentRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.ExperimentRun{}, f.err
	}
	f.calls = append(f.calls, execCall{ProposalID: proposalID, Mode: mode})
	run := storage.ExperimentRun{
		ID:              fmt.Sprintf("run_%04d", len(f.calls)),
		ProposalID:      proposalID,
		Mode:            mode,
		StartedAt:       time.Now().UTC(),
		ExecutionStatus: "completed",
		Execution:       &storage.ExecutionReport{Success: f.succeed, Simulated: mode != storage.ModeNormal},
	}
	if f.succeed && f.engine != nil {
		_ = f.engine.MarkStatus(proposalID, storage.ProposalExecuted, nil)
	}
	return run, nil
}

func (f *fakeExperiments) NormalRunsSince(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.normal
}

func (f *fakeExperiments) executed() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

// fakeVerifier pops scripted evidence in order; the last entry repeats.
type fakeVerifier struct {
	mu    sync.Mutex
	queue []storage.OutcomeEvidence
	err   error
	calls []string
}

func (f *fakeVerifier) VerifyExperiment(ctx context.Context, runID string) (storage.OutcomeEvidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.OutcomeEvidence{}, f.err
	}
	f.calls = append(f.calls, runID)
	ev := storage.OutcomeEvidence{Verdict: storage.VerdictWin, Confidence: 0.7}
	if len(f.queue) > 0 {
		ev = f.queue[0]
		if len(f.queue) > 1 {
			f.queue = f.queue[1:]
		}
	}
	ev.ExperimentID = runID
	return ev, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCalibrator struct {
	mu    sync.Mutex
	err   error
	calls [][]storage.OutcomeEvidence
}

func (c *fakeCalibrator) Calibrate(evidence []storage.OutcomeEvidence) ([]cafe.FamilyStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.calls = append(c.calls, evidence)
	return []cafe.FamilyStats{{Family: "default", Samples: len(evidence)}}, nil
}

func (c *fakeCalibrator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeHealth struct {
	mu   sync.Mutex
	snap storage.HealthSnapshot
}

func (h *fakeHealth) fn(ctx context.Context) storage.HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *fakeHealth) set(snap storage.HealthSnapshot) {
	h.mu.Lock()
	h.snap = snap
	h.mu.Unlock()
}

type env struct {
	loop    *Loop
	clock   *fakeClock
	store   *storage.Store
	mem     *memory.Store
	engine  *proposal.Engine
	imps    *proposal.ImprovementStore
	band    *bandit.Bandit
	scanner *fakeScanner
	exps    *fakeExperiments
	ver     *fakeVerifier
	cal     *fakeCalibrator
	health  *fakeHealth
	bus     *bus.Bus
	deps    Deps
	opts    Options
	dir     string
}

// newEnv wires real storage, memory, engine, and bandit over a temp dir with
// fakes for the outward-facing collaborators. mod runs before New so tests
// can pre-seed state files and adjust options.
func newEnv(t *testing.T, mod func(deps *Deps, opts *Options)) *env {
	t.Helper()
	dir := t.TempDir()
	clock := newFakeClock()

	store := storage.New(storage.Paths{
		LearningEvents:  filepath.Join(dir, "learning_events.jsonl"),
		Proposals:       filepath.Join(dir, "improvement_proposals_v2.json"),
		ExperimentRuns:  filepath.Join(dir, "experiment_runs.json"),
		OutcomeEvidence: filepath.Join(dir, "outcome_evidence.jsonl"),
		PolicyState:     filepath.Join(dir, "policy_state.json"),
	})
	mem, err := memory.NewStore(memory.Paths{
		Knowledge: filepath.Join(dir, "knowledge.json"),
		Patterns:  filepath.Join(dir, "patterns.jsonl"),
		Events:    filepath.Join(dir, "events.jsonl"),
		Feedback:  filepath.Join(dir, "feedback.jsonl"),
	}, nil)
	require.NoError(t, err)

	engine := proposal.NewEngine(store, cafe.NewScorer(cafe.DefaultOptions()), nil, proposal.Options{
		CreateThreshold:      0.3,
		AutoApproveThreshold: 0.99,
	}, nil)
	imps := proposal.NewImprovementStore(filepath.Join(dir, "improvements.json"), nil)
	band, err := bandit.New(store, bandit.Options{Seed: 7}, nil)
	require.NoError(t, err)

	e := &env{
		clock:   clock,
		store:   store,
		mem:     mem,
		engine:  engine,
		imps:    imps,
		band:    band,
		scanner: &fakeScanner{},
		ver:     &fakeVerifier{},
		cal:     &fakeCalibrator{},
		health:  &fakeHealth{snap: storage.HealthSnapshot{HealthScore: 92, SuccessRate: 0.95}},
		bus:     bus.New(nil),
		dir:     dir,
	}
	e.exps = newFakeExperiments(engine)

	e.deps = Deps{
		Store:        store,
		Memory:       mem,
		Governor:     memory.NewGovernor(24 * time.Hour),
		Engine:       engine,
		Improvements: imps,
		Experiments:  e.exps,
		Verifier:     e.ver,
		Calibrator:   e.cal,
		Bandit:       band,
		Scanner:      e.scanner,
		Health:       e.health.fn,
		Bus:          e.bus,
	}
	e.opts = Options{
		CycleInterval:          time.Minute,
		ScanInterval:           time.Hour,
		CalibrationInterval:    time.Hour,
		ReviewInterval:         time.Hour,
		CleanupInterval:        time.Hour,
		DailyInterval:          24 * time.Hour,
		StagnationWarnStreak:   5,
		StagnationApproveDelta: 0.2,
		MaxActionable:          3,
		GenerateLimit:          3,
		EnableV2:               true,
		EnableAutoApproveV1:    true,
		AutoApproveScoreV1:     8.5,
		AutoApproveThreshold:   0.82,
		UnblockMinScore:        7.0,
		RetryInterval:          10 * time.Minute,
		MaxAttempts:            3,
		ModeDefault:            storage.ModeSafe,
		RealApply:              false,
		Canary: config.CanaryConfig{
			Enabled:         false,
			MaxPerHour:      2,
			MinPriority:     0.9,
			AllowedRisk:     []string{storage.RiskLow},
			CooldownSeconds: 3600,
		},
		BanditEnabled:      true,
		CalibrationEnabled: false,
		RetentionDays:      90,
		RetentionMinHits:   1,
		StatePath:          filepath.Join(dir, "learning_state.json"),
		ReviewQueuePath:    filepath.Join(dir, "review_queue.json"),
		ScanLockPath:       filepath.Join(dir, "locks", "knowledge_scan.lock"),
		ApplyLockPath:      filepath.Join(dir, "locks", "improvement_apply.lock"),
		DailyLockPath:      filepath.Join(dir, "locks", "daily_self_learning.lock"),
		LogsDir:            filepath.Join(dir, "logs"),
		BrainDir:           filepath.Join(dir, "brain"),
	}
	if mod != nil {
		mod(&e.deps, &e.opts)
	}

	l, err := New(e.deps, e.opts, nil)
	require.NoError(t, err)
	l.now = clock.Now
	if l.review != nil {
		l.review.now = clock.Now
	}
	e.loop = l
	return e
}

func sampleFinding(relevance float64) scout.Finding {
	return scout.Finding{
		ID:        "find_" + uuid.NewString()[:8],
		Source:    "hacker_news",
		Title:     "Incremental compaction halves tail latency",
		Type:      scout.CategoryTechnology,
		Relevance: relevance,
		URL:       "https://news.ycombinator.com/item?id=1",
		ScannedAt: time.Now().UTC(),
	}
}

func seedApprovedProposal(t *testing.T, e *env, priority float64, risk string) string {
	t.Helper()
	id := "prop_" + uuid.NewString()[:8]
	now := e.clock.Now().UTC()
	err := e.store.UpdateProposals(func(pf *storage.ProposalsFile) error {
		pf.Proposals = append(pf.Proposals, storage.ProposalV2{
			ID:         id,
			CreatedAt:  now,
			ApprovedAt: &now,
			Title:      "Tune retry backoff",
			Status:     storage.ProposalApproved,
			RiskLevel:  risk,
			Priority:   priority,
			Signature:  id,
		})
		return nil
	})
	require.NoError(t, err)
	return id
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, skipped, err := storage.TailJSONL(path, 1000)
	require.NoError(t, err)
	require.Zero(t, skipped)
	rows, bad := storage.DecodeLines[map[string]any](raw)
	require.Zero(t, bad)
	return rows
}

func TestIterationRunsAllStepsOnEmptyState(t *testing.T) {
	e := newEnv(t, nil)

	res := e.loop.RunIteration(context.Background())

	assert.Equal(t, int64(1), res.Iteration)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Steps, "scan")
	assert.Contains(t, res.Steps, "improvements")
	assert.Contains(t, res.Steps, "pipeline")
	assert.Contains(t, res.Steps, "self_check")
	assert.Contains(t, res.Steps, "daily")

	st := e.loop.CurrentState()
	assert.Equal(t, int64(1), st.Iteration)
	assert.Equal(t, 1, st.NoLearningStreak)
	assert.Equal(t, 1, st.NoImprovementStreak)
}

func TestStepErrorsDoNotAbortIteration(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		opts.CalibrationEnabled = true
	})
	e.scanner.err = fmt.Errorf("feed unreachable")
	e.cal.err = fmt.Errorf("not enough samples")

	res := e.loop.RunIteration(context.Background())

	steps := make([]string, 0, len(res.Errors))
	for _, se := range res.Errors {
		steps = append(steps, se.Step)
	}
	assert.Contains(t, steps, "scan")
	assert.Contains(t, steps, "calibration")
	assert.Contains(t, res.Steps, "self_check")
	assert.Equal(t, int64(1), e.loop.CurrentState().Iteration)
}

func TestScanSkippedWhenLockHeldElsewhere(t *testing.T) {
	e := newEnv(t, nil)
	held, err := lock.Acquire(e.opts.ScanLockPath)
	require.NoError(t, err)
	defer held.Release()

	res := e.loop.RunIteration(context.Background())

	assert.Equal(t, "skipped_lock_held", res.Steps["scan"])
	assert.Zero(t, e.scanner.scanCount())
}

func TestScanHonoursIntervalAndWritesNotes(t *testing.T) {
	e := newEnv(t, nil)
	e.scanner.report = scout.ScanReport{
		Findings: []scout.Finding{
			sampleFinding(0.95),
			{ID: "find_x1", Source: "dev_blog", Title: "feed timeout", Type: scout.FindingUnavailable},
			{ID: "find_x2", Source: "arxiv", Title: "Speculative decoding survey", Type: scout.CategoryAIML, Relevance: 0.7},
		},
		Scanned:   3,
		Forwarded: 2,
	}

	e.loop.RunIteration(context.Background())
	assert.Equal(t, 1, e.scanner.scanCount())

	// Within the interval the scan does not run again.
	e.clock.Advance(time.Minute)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 1, e.scanner.scanCount())

	e.clock.Advance(2 * time.Hour)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 2, e.scanner.scanCount())

	stamp := e.clock.Now().UTC().Format("20060102")
	notes := readJSONL(t, filepath.Join(e.opts.LogsDir, "rnd_notes_"+stamp+".jsonl"))
	require.NotEmpty(t, notes)
	assert.Equal(t, "hacker_news", notes[0]["source"])
	assert.InDelta(t, 9.5, notes[0]["score"].(float64), 1e-9)
	for _, n := range notes {
		assert.NotEqual(t, "feed timeout", n["title"])
	}
}

func TestV1AutoApproveAndApply(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.imps.Add("Cache embedding responses", "seen repeatedly in scans", "hacker_news", 9.2)
	require.NoError(t, err)

	res := e.loop.RunIteration(context.Background())

	summary, ok := res.Steps["improvements"].(map[string]any)
	require.True(t, ok, "improvements step should report a summary")
	assert.Equal(t, 1, summary["auto_approved"])
	assert.Equal(t, 1, summary["applied"])
	assert.Zero(t, e.loop.CurrentState().NoImprovementStreak)
	assert.Empty(t, e.imps.ApprovedUnapplied())
}

func TestStagnationUnblocksMidScoreImprovement(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		require.NoError(t, storage.WriteJSONAtomic(opts.StatePath, &State{
			NoImprovementStreak: 5,
			FocusArea:           "reliability",
		}))
	})
	_, err := e.imps.Add("Split oversized knowledge file", "", "self_probe", 7.4)
	require.NoError(t, err)

	res := e.loop.RunIteration(context.Background())

	summary, ok := res.Steps["improvements"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, summary["unblocked"])
	assert.Equal(t, 1, summary["applied"])
	assert.Zero(t, e.loop.CurrentState().NoImprovementStreak)
}

func TestStagnationUnblockRequiresZeroOpenIssues(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		require.NoError(t, storage.WriteJSONAtomic(opts.StatePath, &State{
			NoImprovementStreak: 5,
			FocusArea:           "reliability",
		}))
	})
	e.health.set(storage.HealthSnapshot{HealthScore: 70, OpenIssues: 2})
	_, err := e.imps.Add("Split oversized knowledge file", "", "self_probe", 7.4)
	require.NoError(t, err)

	res := e.loop.RunIteration(context.Background())

	summary, ok := res.Steps["improvements"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, summary, "unblocked")
}

func TestPipelineEndToEnd(t *testing.T) {
	// A pre-seeded stagnation streak lowers the approve bar enough for a
	// scan-sourced proposal, whichever threshold arm the bandit picks.
	e := newEnv(t, func(deps *Deps, opts *Options) {
		require.NoError(t, storage.WriteJSONAtomic(opts.StatePath, &State{
			NoImprovementStreak: 5,
			FocusArea:           "reliability",
		}))
	})
	e.scanner.report = scout.ScanReport{
		Findings:  []scout.Finding{sampleFinding(0.95)},
		Scanned:   1,
		Forwarded: 1,
	}

	res := e.loop.RunIteration(context.Background())
	require.Empty(t, res.Errors)

	summary, ok := res.Steps["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, summary["events_recorded"])
	assert.Equal(t, 1, summary["proposals_created"])
	assert.Equal(t, 1, summary["auto_approved"])
	assert.Equal(t, 1, summary["executed"])

	events, err := e.store.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "scout:hacker_news", events[0].Source)
	assert.Equal(t, "scan_finding", events[0].EventType)
	assert.Equal(t, storage.StreamNonProduction, events[0].Stream)

	calls := e.exps.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, storage.ModeSafe, calls[0].Mode)

	assert.Equal(t, 1, e.ver.callCount())
	assert.Equal(t, 1, e.band.HistoryLen())

	st := e.loop.CurrentState()
	assert.Zero(t, st.NoImprovementStreak)
	assert.Zero(t, st.NoLearningStreak)
	assert.Empty(t, st.PendingVerifications)
}

func TestDuplicateFindingsDedupedAcrossIterations(t *testing.T) {
	e := newEnv(t, nil)
	finding := sampleFinding(0.95)
	e.scanner.report = scout.ScanReport{Findings: []scout.Finding{finding}, Scanned: 1, Forwarded: 1}
	e.scanner.recent = []scout.Finding{finding}

	e.loop.RunIteration(context.Background())
	e.clock.Advance(time.Minute)
	res := e.loop.RunIteration(context.Background())

	events, err := e.store.RecentEvents(10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	summary, ok := res.Steps["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, summary["events_recorded"])
}

func TestExecutionFailureWithholdsVerdict(t *testing.T) {
	e := newEnv(t, nil)
	e.exps.succeed = false
	seedApprovedProposal(t, e, 0.95, storage.RiskLow)

	res := e.loop.RunIteration(context.Background())

	summary, ok := res.Steps["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, summary["executed"])
	assert.Equal(t, 1, summary["executions_failed"])
	assert.Zero(t, e.ver.callCount())
	assert.Zero(t, e.band.HistoryLen())
}

func TestCanaryLossTriggersCooldownAndRollbackFlag(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		opts.ModeDefault = storage.ModeNormal
		opts.RealApply = true
		opts.Canary.Enabled = true
	})
	id := seedApprovedProposal(t, e, 0.95, storage.RiskLow)
	e.ver.queue = []storage.OutcomeEvidence{{
		ProposalID: id,
		Verdict:    storage.VerdictLoss,
		Confidence: 0.8,
	}}

	e.loop.RunIteration(context.Background())

	calls := e.exps.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, storage.ModeNormal, calls[0].Mode)

	st := e.loop.CurrentState()
	require.NotNil(t, st.CooldownUntil)
	assert.WithinDuration(t, e.clock.Now().UTC().Add(time.Hour), *st.CooldownUntil, time.Second)

	p, ok := e.engine.Get(id)
	require.True(t, ok)
	assert.Equal(t, true, p.Metadata["rollback_guardrail"])

	// While the cooldown holds, the next candidate stays in safe mode.
	e.clock.Advance(10 * time.Minute)
	seedApprovedProposal(t, e, 0.95, storage.RiskLow)
	res := e.loop.RunIteration(context.Background())

	calls = e.exps.executed()
	require.Len(t, calls, 2)
	assert.Equal(t, storage.ModeSafe, calls[1].Mode)
	summary, ok := res.Steps["pipeline"].(map[string]any)
	require.True(t, ok)
	modes, ok := summary["modes"].([]string)
	require.True(t, ok)
	assert.Equal(t, "safe:cooldown_active", modes[0])
}

func TestPendingVerificationRetriesUntilVerdict(t *testing.T) {
	e := newEnv(t, nil)
	seedApprovedProposal(t, e, 0.95, storage.RiskLow)
	e.ver.queue = []storage.OutcomeEvidence{
		{Verdict: storage.VerdictInconclusive, Confidence: 0.3, PendingRecheck: true},
		{Verdict: storage.VerdictInconclusive, Confidence: 0.3, PendingRecheck: true},
		{Verdict: storage.VerdictWin, Confidence: 0.8},
	}

	e.loop.RunIteration(context.Background())
	require.Len(t, e.loop.CurrentState().PendingVerifications, 1)
	assert.Equal(t, 1, e.ver.callCount())

	// Not yet due: nothing happens.
	e.clock.Advance(time.Minute)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 1, e.ver.callCount())

	e.clock.Advance(15 * time.Minute)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 2, e.ver.callCount())
	require.Len(t, e.loop.CurrentState().PendingVerifications, 1)

	e.clock.Advance(15 * time.Minute)
	res := e.loop.RunIteration(context.Background())
	assert.Equal(t, 3, e.ver.callCount())
	assert.Empty(t, e.loop.CurrentState().PendingVerifications)
	assert.Zero(t, e.loop.CurrentState().NoImprovementStreak)

	summary, ok := res.Steps["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, summary["verification_retries"])
}

func TestPendingVerificationStopsAtMaxAttempts(t *testing.T) {
	e := newEnv(t, nil)
	seedApprovedProposal(t, e, 0.95, storage.RiskLow)
	e.ver.queue = []storage.OutcomeEvidence{
		{Verdict: storage.VerdictInconclusive, Confidence: 0.3, PendingRecheck: true},
	}

	e.loop.RunIteration(context.Background())
	for i := 0; i < 4; i++ {
		e.clock.Advance(15 * time.Minute)
		e.loop.RunIteration(context.Background())
	}

	// One verify at execute time plus two retries, then the run settles as
	// inconclusive and leaves the queue for good.
	assert.Equal(t, 3, e.ver.callCount())
	assert.Empty(t, e.loop.CurrentState().PendingVerifications)
	assert.Zero(t, e.band.HistoryLen())
}

func TestCalibrationRunsOnItsOwnInterval(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		opts.CalibrationEnabled = true
	})
	require.NoError(t, e.store.AppendEvidence(storage.OutcomeEvidence{
		ID:        "ev_1",
		Verdict:   storage.VerdictWin,
		Model:     "gemini-2.0-flash",
		CreatedAt: time.Now().UTC(),
	}))

	e.loop.RunIteration(context.Background())
	assert.Equal(t, 1, e.cal.callCount())

	e.clock.Advance(time.Minute)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 1, e.cal.callCount())

	e.clock.Advance(2 * time.Hour)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, 2, e.cal.callCount())
}

func TestReviewAndCleanupStepsWire(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.mem.Learn(memory.LearnInput{
		Source:    "scout",
		Type:      "article",
		Title:     "Go scheduler internals",
		Content:   "runqueues and work stealing",
		Relevance: 0.9,
	})
	require.NoError(t, err)

	res := e.loop.RunIteration(context.Background())

	review, ok := res.Steps["review"].(ReviewSummary)
	require.True(t, ok)
	assert.Equal(t, 1, review.Added)
	assert.Equal(t, 1, review.Tracked)

	cleanup, ok := res.Steps["cleanup"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, cleanup["pruned"])
}

func TestDailyReportRotatesFocusAndWritesArtifacts(t *testing.T) {
	e := newEnv(t, nil)
	e.scanner.stats = map[string]any{"total_scans": 10, "total_unavailable": 3}

	res := e.loop.RunIteration(context.Background())

	daily, ok := res.Steps["daily"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "learning", daily["focus"])
	assert.Equal(t, "learning", e.loop.CurrentState().FocusArea)

	stamp := e.clock.Now().UTC().Format("20060102")
	var report dailyReport
	found, err := storage.ReadJSON(filepath.Join(e.opts.BrainDir, "report_"+stamp+".json"), &report)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "learning", report.Focus)
	assert.NotEmpty(t, report.Ideas)
	require.Len(t, report.Experiments, 2)
	assert.Equal(t, "threshold_sensitivity", report.Experiments[0].Name)
	assert.Equal(t, "source_resilience", report.Experiments[1].Name)

	lines := readJSONL(t, filepath.Join(e.opts.LogsDir, "daily_self_learning_"+stamp+".jsonl"))
	kinds := map[string]int{}
	for _, ln := range lines {
		kinds[ln["kind"].(string)]++
	}
	assert.GreaterOrEqual(t, kinds["idea"], 1)
	assert.Equal(t, 2, kinds["experiment"])
	assert.Equal(t, 1, kinds["focus"])

	// Within the daily interval the report does not regenerate.
	e.clock.Advance(time.Hour)
	res = e.loop.RunIteration(context.Background())
	assert.NotContains(t, res.Steps, "daily")
	assert.Equal(t, "learning", e.loop.CurrentState().FocusArea)

	e.clock.Advance(25 * time.Hour)
	e.loop.RunIteration(context.Background())
	assert.Equal(t, "execution", e.loop.CurrentState().FocusArea)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	e := newEnv(t, nil)
	e.loop.RunIteration(context.Background())
	e.clock.Advance(time.Minute)
	e.loop.RunIteration(context.Background())

	restarted, err := New(e.deps, e.opts, nil)
	require.NoError(t, err)
	st := restarted.CurrentState()
	assert.Equal(t, int64(2), st.Iteration)
	assert.Equal(t, "learning", st.FocusArea)
	assert.Equal(t, 2, st.NoLearningStreak)
}

func TestSelfReminderAppendsPerIteration(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		opts.SelfReminderEnabled = true
	})
	e.loop.RunIteration(context.Background())
	e.clock.Advance(time.Minute)
	e.loop.RunIteration(context.Background())

	lines := readJSONL(t, filepath.Join(e.opts.LogsDir, "self_reminder_log.jsonl"))
	require.Len(t, lines, 2)
	assert.InDelta(t, 1, lines[0]["iteration"].(float64), 1e-9)
	assert.InDelta(t, 2, lines[1]["iteration"].(float64), 1e-9)
	assert.Equal(t, "learning", lines[0]["focus"])
}

func TestIterationEmitsBusEvent(t *testing.T) {
	e := newEnv(t, nil)
	e.loop.RunIteration(context.Background())

	events := e.bus.RecentEvents(5, "learning_iteration")
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Data["iteration"])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e := newEnv(t, func(deps *Deps, opts *Options) {
		opts.CycleInterval = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.GreaterOrEqual(t, e.loop.CurrentState().Iteration, int64(1))
}

func TestResultsRingKeepsNewest(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 5; i++ {
		e.loop.RunIteration(context.Background())
		e.clock.Advance(time.Second)
	}

	all := e.loop.Results(0)
	require.Len(t, all, 5)
	last := e.loop.Results(2)
	require.Len(t, last, 2)
	assert.Equal(t, int64(4), last[0].Iteration)
	assert.Equal(t, int64(5), last[1].Iteration)

	stats := e.loop.Stats()
	assert.Equal(t, int64(5), stats["iteration"])
}

func TestFromConfigMapsIntervalsAndPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Core.DataDir = filepath.Join(os.TempDir(), "nexus-test")

	opts := FromConfig(cfg)
	assert.Equal(t, time.Minute, opts.CycleInterval)
	assert.Equal(t, time.Hour, opts.ScanInterval)
	assert.Equal(t, 6*time.Hour, opts.CalibrationInterval)
	assert.Equal(t, 24*time.Hour, opts.DailyInterval)
	assert.Equal(t, 5, opts.StagnationWarnStreak)
	assert.InDelta(t, 0.2, opts.StagnationApproveDelta, 1e-9)
	assert.Equal(t, 3, opts.MaxActionable)
	assert.InDelta(t, 0.82, opts.AutoApproveThreshold, 1e-9)
	assert.Equal(t, storage.ModeSafe, opts.ModeDefault)
	assert.Equal(t, cfg.LearningStatePath(), opts.StatePath)
	assert.Equal(t, cfg.ScanLockPath(), opts.ScanLockPath)
	assert.Equal(t, cfg.LogsDir(), opts.LogsDir)
	assert.Equal(t, cfg.BrainDir(), opts.BrainDir)
}
