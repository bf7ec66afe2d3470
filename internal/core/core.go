// Package core assembles the platform. One System owns every subsystem,
// constructed once in dependency order from the configuration, and exposes
// the shared health snapshot plus the run lifecycle. Components never hold
// back-pointers into System; they receive the narrow handles they need at
// construction time.
package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/advisor"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
	"github.com/theanh97/nexus-nuance-sub001/internal/bandit"
	"github.com/theanh97/nexus-nuance-sub001/internal/browser"
	"github.com/theanh97/nexus-nuance-sub001/internal/budget"
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/cafe"
	"github.com/theanh97/nexus-nuance-sub001/internal/codeintel"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/debugger"
	"github.com/theanh97/nexus-nuance-sub001/internal/experiment"
	"github.com/theanh97/nexus-nuance-sub001/internal/learning"
	"github.com/theanh97/nexus-nuance-sub001/internal/loop"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/metrics"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
	"github.com/theanh97/nexus-nuance-sub001/internal/proposal"
	"github.com/theanh97/nexus-nuance-sub001/internal/ratelimit"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/skills"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
	"github.com/theanh97/nexus-nuance-sub001/internal/verify"
)

// System is the assembled platform.
type System struct {
	cfg *config.Config
	log *zap.Logger

	bus      *bus.Bus
	requests *metrics.Requests
	limiter  *ratelimit.Limiter
	store    *storage.Store
	mem      *memory.Store
	cache    *memory.QueryCache
	governor *memory.Governor
	skills   *skills.Tracker
	gate     *policy.Gate
	actions  *action.Executor
	browser  *browser.Manager
	debug    *debugger.Debugger
	budget   *budget.Tracker
	advisor  advisor.Advisor
	scout    *scout.Scout
	scorer   *cafe.Scorer
	calib    *cafe.Calibrator
	engine   *proposal.Engine
	improve  *proposal.ImprovementStore
	exps     *experiment.Executor
	verifier *verify.Verifier
	bandit   *bandit.Bandit
	tasks    *loop.Loop
	learning *learning.Loop
	backups  *backup.Manager

	running     atomic.Bool
	loopMu      sync.Mutex
	loopCancel  context.CancelFunc
	loopWG      sync.WaitGroup
	shutdownOne sync.Once
}

// New builds every subsystem from the configuration. The context bounds
// slow construction work such as the GenAI client handshake; it does not
// outlive New.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, dir := range cfg.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nexuserr.Wrap(nexuserr.KindInternal, "create data directory", err)
		}
	}

	s := &System{cfg: cfg, log: log}
	s.bus = bus.New(log)
	s.requests = metrics.New()
	s.limiter = ratelimit.New(cfg.API.RateLimitPerMinute, time.Minute)

	s.store = storage.New(storage.Paths{
		LearningEvents:  cfg.LearningEventsPath(),
		Proposals:       cfg.ProposalsV2Path(),
		ExperimentRuns:  cfg.ExperimentRunsPath(),
		OutcomeEvidence: cfg.OutcomeEvidencePath(),
		PolicyState:     cfg.PolicyStatePath(),
	})

	mem, err := memory.NewStore(memory.Paths{
		Knowledge: cfg.KnowledgePath(),
		Patterns:  cfg.PatternsPath(),
		Events:    cfg.EventsPath(),
		Feedback:  cfg.FeedbackPath(),
	}, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "memory store", err)
	}
	s.mem = mem
	s.cache = memory.NewQueryCache(cfg.CacheTTL())
	s.governor = memory.NewGovernor(time.Duration(cfg.Memory.DedupWindowMinutes) * time.Minute)

	tracker, err := skills.NewTracker(cfg.SkillsPath(), log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "skill tracker", err)
	}
	s.skills = tracker

	dbg, err := debugger.New(debugger.Options{
		DecisionsMax: cfg.Debugger.DecisionsMax,
		ActionsMax:   cfg.Debugger.ActionsMax,
		ErrorsMax:    cfg.Debugger.ErrorsMax,
		MetricsMax:   cfg.Debugger.MetricsMax,
		SessionsMax:  cfg.Debugger.SessionsMax,
	}, cfg.IssuesPath(), cfg.DecisionLogPath(), log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "self debugger", err)
	}
	s.debug = dbg
	debugger.SetDefault(dbg)

	bud, err := budget.New(cfg.BudgetPath(), cfg.Budget.DailyLimitUSD, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "budget tracker", err)
	}
	s.budget = bud
	s.advisor = advisor.New(ctx, cfg.Advisor, bud, log)

	s.gate = policy.New(policy.Options{
		Mode:           cfg.Policy.ExecutionMode,
		ProjectRoot:    cfg.Core.ProjectRoot,
		AllowedRoots:   cfg.Policy.AllowedRoots,
		SensitivePaths: cfg.Policy.SensitivePaths,
	})
	s.browser = browser.NewManager(browser.DefaultConfig(), log)

	s.actions = action.New(action.Options{
		Gate:           s.gate,
		HistoryPath:    cfg.ActionHistoryPath(),
		ProjectRoot:    cfg.Core.ProjectRoot,
		DefaultTimeout: time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second,
		MaxTimeout:     time.Duration(cfg.Executor.MaxTimeoutSeconds) * time.Second,
		OutputCap:      cfg.Executor.OutputCapBytes,
		RingSize:       cfg.Executor.HistoryRingSize,
		Log:            log,
		Bus:            s.bus,
	})
	action.RegisterFileActions(s.actions)
	action.RegisterCodeActions(s.actions, action.CodeOptions{
		PythonBin: cfg.Executor.PythonBinary,
		WorkDir:   cfg.Core.WorkspaceDir,
		OutputCap: cfg.Executor.OutputCapBytes,
	})
	action.RegisterHTTPActions(s.actions, nil)
	action.RegisterSystemActions(s.actions, action.SystemOptions{
		Gate:      s.gate,
		WorkDir:   cfg.Core.WorkspaceDir,
		OutputCap: cfg.Executor.OutputCapBytes,
	})
	action.RegisterBrowserActions(s.actions, action.BrowserOptions{
		Manager:       s.browser,
		Gate:          s.gate,
		ScreenshotDir: filepath.Join(cfg.Core.WorkspaceDir, "screenshots"),
	})

	pageVerifier := loop.NewVerifier(s.browser, cfg.Core.ProjectRoot,
		time.Duration(cfg.Executor.DefaultTimeoutSeconds)*time.Second, log)
	loopOpts := loop.DefaultOptions()
	loopOpts.StatePath = cfg.TasksPath()
	loopOpts.ActionTimeout = time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second
	tasks, err := loop.New(s.actions, pageVerifier, mem, s.advisor, loopOpts, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "task loop", err)
	}
	s.tasks = tasks
	action.RegisterKnowledgeActions(s.actions, action.KnowledgeOptions{
		Store:    mem,
		Tasks:    tasks,
		Analyzer: codeintel.New(log),
	})

	s.scorer = cafe.NewScorer(cafe.Options{
		ConfMin:           cfg.CAFE.ConfidenceMin,
		HelpfulMin:        cfg.CAFE.HelpfulMin,
		HarmlessMin:       cfg.CAFE.HarmlessMin,
		WeightHelpful:     cfg.CAFE.WeightHelpful,
		WeightHarmless:    cfg.CAFE.WeightHarmless,
		WeightReliability: cfg.CAFE.WeightReliability,
	})
	calib, err := cafe.NewCalibrator(s.scorer, cafe.CalibratorOptions{
		MinSamples:  cfg.CAFE.MinSamples,
		BiasScale:   cfg.CAFE.BiasScale,
		BiasCap:     cfg.CAFE.BiasCap,
		BlendFactor: cfg.CAFE.BlendFactor,
		StatePath:   cfg.CAFEStatePath(),
	}, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "cafe calibrator", err)
	}
	s.calib = calib

	s.engine = proposal.NewEngine(s.store, s.scorer, s.advisor, proposal.Options{
		CreateThreshold:      cfg.Proposals.CreateThreshold,
		AutoApproveThreshold: cfg.Proposals.AutoApproveThreshold,
		AllowBlocked:         cfg.Proposals.AllowBlocked,
	}, log)
	s.improve = proposal.NewImprovementStore(cfg.ImprovementsPath(), log)

	s.exps = experiment.New(s.store, s.engine, s.Snapshot, s.applyImprovements, experiment.Options{
		ModeDefault: cfg.Experiments.ModeDefault,
		RealApply:   cfg.Experiments.RealApply,
		MaxPatches:  cfg.Experiments.MaxPatches,
	}, log)
	s.verifier = verify.New(s.store, s.engine, s.Snapshot, s.scorer, verify.Options{
		HoldoutEnabled:       cfg.Verification.HoldoutEnabled,
		HoldoutSeconds:       cfg.Verification.HoldoutSeconds,
		RetryIntervalSeconds: cfg.Verification.RetryIntervalSeconds,
		MaxAttempts:          cfg.Verification.MaxAttempts,
	}, log)

	bnd, err := bandit.New(s.store, bandit.Options{
		HistoryMax: cfg.Bandit.HistoryMax,
		WeightMin:  cfg.Bandit.WeightMin,
		WeightMax:  cfg.Bandit.WeightMax,
	}, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "policy bandit", err)
	}
	s.bandit = bnd

	sct, err := scout.New(scout.Options{
		MaxWorkers:   cfg.Scout.MaxWorkers,
		FetchTimeout: time.Duration(cfg.Scout.FetchTimeoutSecs) * time.Second,
		MinScore:     cfg.Scout.MinScore,
		ForwardTop:   cfg.Scout.ForwardTopFindings,
		SourcesPath:  cfg.SourcesPath(),
		FindingsPath: cfg.FindingsPath(),
	}, mem, s.advisor, log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "scout", err)
	}
	s.scout = sct

	learn, err := learning.New(learning.Deps{
		Store:        s.store,
		Memory:       mem,
		Governor:     s.governor,
		Engine:       s.engine,
		Improvements: s.improve,
		Experiments:  s.exps,
		Verifier:     s.verifier,
		Calibrator:   s.calib,
		Bandit:       s.bandit,
		Scanner:      sct,
		Health:       s.Snapshot,
		Bus:          s.bus,
	}, learning.FromConfig(cfg), log)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "learning loop", err)
	}
	s.learning = learn

	s.backups = backup.New(cfg.BrainDir(), cfg.BackupsDir(), cfg.Backup.MaxBackups, log)
	return s, nil
}

// applyImprovements is the experiment apply hook. Real mode consumes
// approved-unapplied improvements up to the patch budget and marks them
// applied; there is no speculative patching beyond the improvement queue.
func (s *System) applyImprovements(ctx context.Context, maxPatches int) (experiment.PatchReport, error) {
	var report experiment.PatchReport
	queue := s.improve.ApprovedUnapplied()
	var titles []string
	for i := range queue {
		if report.Applied >= maxPatches {
			break
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		imp, err := s.improve.MarkApplied(queue[i].ID)
		if err != nil {
			s.log.Warn("improvement apply failed",
				zap.String("improvement_id", queue[i].ID), zap.Error(err))
			report.Applied++
			continue
		}
		report.Applied++
		report.Succeeded++
		titles = append(titles, imp.Title)
	}
	if len(titles) > 0 {
		report.Detail = "applied: " + strings.Join(titles, "; ")
	} else {
		report.Detail = "no approved improvements waiting"
	}
	return report, nil
}
