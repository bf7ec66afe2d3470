// Package experiment runs approved proposals, either as a non-destructive
// simulation (safe mode) or through the real-apply hook (normal mode).
package experiment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/proposal"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Execution statuses recorded on runs.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusNoChanges = "no_changes"
	StatusFailed    = "failed"
)

// ErrRequiresApproval reports execution attempted on a still-pending proposal.
var ErrRequiresApproval = nexuserr.New(nexuserr.KindValidation, "proposal requires approval before execution")

// PatchReport summarizes one real-apply self-improvement cycle.
type PatchReport struct {
	Applied   int
	Succeeded int
	CostUSD   float64
	Detail    string
}

// ApplyFunc runs a self-improvement cycle with a patch budget.
type ApplyFunc func(ctx context.Context, maxPatches int) (PatchReport, error)

// HealthFunc captures the current health snapshot.
type HealthFunc func(ctx context.Context) storage.HealthSnapshot

// Options control execution behavior.
type Options struct {
	ModeDefault string
	RealApply   bool
	MaxPatches  int
}

// Executor owns experiment runs. The apply hook may be nil, in which case
// normal mode degrades to a simulation.
type Executor struct {
	store  *storage.Store
	props  *proposal.Engine
	health HealthFunc
	apply  ApplyFunc
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// New builds the executor.
func New(store *storage.Store, props *proposal.Engine, health HealthFunc, apply ApplyFunc, opts Options, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ModeDefault == "" {
		opts.ModeDefault = storage.ModeSafe
	}
	if opts.MaxPatches <= 0 {
		opts.MaxPatches = 2
	}
	return &Executor{
		store:  store,
		props:  props,
		health: health,
		apply:  apply,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// ExecuteProposal runs one approved proposal and returns the finished run.
// The run is persisted before execution so verification always finds it.
func (e *Executor) ExecuteProposal(ctx context.Context, proposalID, mode string) (storage.ExperimentRun, error) {
	if mode == "" {
		mode = e.opts.ModeDefault
	}
	if mode != storage.ModeSafe && mode != storage.ModeNormal {
		return storage.ExperimentRun{}, nexuserr.Newf(nexuserr.KindValidation, "invalid experiment mode %q", mode)
	}

	p, ok := e.props.Get(proposalID)
	if !ok {
		return storage.ExperimentRun{}, nexuserr.Newf(nexuserr.KindNotFound, "proposal %s not found", proposalID)
	}
	switch p.Status {
	case storage.ProposalApproved:
	case storage.ProposalPendingApproval:
		return storage.ExperimentRun{}, ErrRequiresApproval
	default:
		return storage.ExperimentRun{}, nexuserr.Newf(nexuserr.KindValidation, "proposal %s is %s, not approved", proposalID, p.Status)
	}

	baseline := e.health(ctx)
	run := storage.ExperimentRun{
		ID:         "run_" + uuid.NewString()[:8],
		ProposalID: proposalID,
		Mode:       mode,
		StartedAt:  e.now().UTC(),
		Artifacts: storage.RunArtifacts{
			BaselineHealth:   &baseline,
			ThroughputBefore: baseline.ProposalThroughput,
		},
		ExecutionStatus: StatusRunning,
	}
	if err := e.store.UpdateRuns(func(rf *storage.RunsFile) error {
		rf.Runs = append(rf.Runs, run)
		return nil
	}); err != nil {
		return storage.ExperimentRun{}, err
	}

	run = e.perform(ctx, run)

	finished := e.now().UTC()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(run.StartedAt).Milliseconds()

	if err := e.updateRun(run); err != nil {
		return run, err
	}

	if run.Execution != nil && run.Execution.Success {
		extra := map[string]any{"run_id": run.ID, "mode": mode}
		if err := e.props.MarkStatus(proposalID, storage.ProposalExecuted, extra); err != nil {
			e.log.Warn("proposal status update failed after execution",
				zap.String("proposal_id", proposalID), zap.Error(err))
		}
	}

	e.log.Info("experiment finished",
		zap.String("run_id", run.ID),
		zap.String("proposal_id", proposalID),
		zap.String("mode", mode),
		zap.String("execution_status", run.ExecutionStatus),
		zap.Int64("duration_ms", run.DurationMs))
	return run, nil
}

func (e *Executor) perform(ctx context.Context, run storage.ExperimentRun) storage.ExperimentRun {
	if run.Mode == storage.ModeNormal && e.opts.RealApply && e.apply != nil {
		report, err := e.apply(ctx, e.opts.MaxPatches)
		if err != nil {
			run.ExecutionStatus = StatusFailed
			run.Execution = &storage.ExecutionReport{Success: false, Detail: err.Error()}
			return run
		}
		run.ExecutionStatus = StatusCompleted
		if report.Applied == 0 {
			run.ExecutionStatus = StatusNoChanges
		}
		run.Execution = &storage.ExecutionReport{
			Success:          true,
			PatchesApplied:   report.Applied,
			PatchesSucceeded: report.Succeeded,
			EstimatedCostUSD: report.CostUSD,
			Detail:           report.Detail,
		}
		run.Actions = append(run.Actions, "self_improvement_cycle")
		return run
	}

	run.ExecutionStatus = StatusCompleted
	run.Execution = &storage.ExecutionReport{
		Success:          true,
		Simulated:        true,
		EstimatedCostUSD: 0,
		Detail:           "simulated in safe mode, no changes applied",
	}
	run.Actions = append(run.Actions, "simulate")
	return run
}

func (e *Executor) updateRun(run storage.ExperimentRun) error {
	return e.store.UpdateRuns(func(rf *storage.RunsFile) error {
		for i := range rf.Runs {
			if rf.Runs[i].ID == run.ID {
				rf.Runs[i] = run
				return nil
			}
		}
		rf.Runs = append(rf.Runs, run)
		return nil
	})
}

// AttachVerification merges verifier output into the stored run.
func (e *Executor) AttachVerification(runID string, verification map[string]any) error {
	return e.store.UpdateRuns(func(rf *storage.RunsFile) error {
		for i := range rf.Runs {
			if rf.Runs[i].ID == runID {
				rf.Runs[i].Verification = verification
				return nil
			}
		}
		return nexuserr.Newf(nexuserr.KindNotFound, "experiment run %s not found", runID)
	})
}

// NormalRunsSince counts normal-mode runs started after the cutoff. The
// canary guardrail uses this for its sliding window.
func (e *Executor) NormalRunsSince(cutoff time.Time) int {
	rf := e.store.LoadRuns()
	n := 0
	for i := range rf.Runs {
		if rf.Runs[i].Mode == storage.ModeNormal && rf.Runs[i].StartedAt.After(cutoff) {
			n++
		}
	}
	return n
}
