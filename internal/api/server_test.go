package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
	"github.com/theanh97/nexus-nuance-sub001/internal/budget"
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/debugger"
	"github.com/theanh97/nexus-nuance-sub001/internal/learning"
	"github.com/theanh97/nexus-nuance-sub001/internal/loop"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/metrics"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
	"github.com/theanh97/nexus-nuance-sub001/internal/ratelimit"
	"github.com/theanh97/nexus-nuance-sub001/internal/skills"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	srv     *Server
	handler http.Handler
	deps    Deps
	dir     string
}

// newEnv builds a server over real subsystems rooted in a temp dir. mod
// can swap handles before the server is built.
func newEnv(t *testing.T, mod func(*Deps)) *env {
	t.Helper()
	dir := t.TempDir()
	brain := filepath.Join(dir, "brain")

	mem, err := memory.NewStore(memory.Paths{
		Knowledge: filepath.Join(brain, "knowledge.jsonl"),
		Patterns:  filepath.Join(brain, "patterns.jsonl"),
		Events:    filepath.Join(brain, "events.jsonl"),
		Feedback:  filepath.Join(brain, "feedback.jsonl"),
	}, nil)
	require.NoError(t, err)

	tracker, err := skills.NewTracker(filepath.Join(brain, "skills.json"), nil)
	require.NoError(t, err)

	tasks, err := loop.New(nil, nil, mem, nil, loop.Options{
		StatePath:     filepath.Join(brain, "tasks.json"),
		MaxRetries:    2,
		ActionTimeout: time.Second,
		CompletedMax:  50,
	}, nil)
	require.NoError(t, err)

	dbg, err := debugger.New(debugger.DefaultOptions(),
		filepath.Join(brain, "issues.json"),
		filepath.Join(brain, "decision_log.json"), nil)
	require.NoError(t, err)

	bud, err := budget.New(filepath.Join(dir, "state", "budget.json"), 10, nil)
	require.NoError(t, err)

	store := storage.New(storage.Paths{
		LearningEvents:  filepath.Join(dir, "memory", "learning_events.jsonl"),
		Proposals:       filepath.Join(dir, "memory", "improvement_proposals_v2.json"),
		ExperimentRuns:  filepath.Join(dir, "experiments", "experiment_runs_v2.json"),
		OutcomeEvidence: filepath.Join(dir, "memory", "outcome_evidence.jsonl"),
		PolicyState:     filepath.Join(dir, "state", "learning_policy_state.json"),
	})

	exec := action.New(action.Options{
		Gate:        policy.New(policy.Options{Mode: policy.ModeSafe, ProjectRoot: dir}),
		ProjectRoot: dir,
		HistoryPath: filepath.Join(brain, "action_history.jsonl"),
	})

	deps := Deps{
		Config:  config.Default(),
		Memory:  mem,
		Cache:   memory.NewQueryCache(time.Minute),
		Skills:  tracker,
		Tasks:   tasks,
		Actions: exec,
		Debug:   dbg,
		Budget:  bud,
		Backups: backup.New(brain, filepath.Join(dir, "backups"), 5, nil),
		Bus:     bus.New(nil),
		Store:   store,
		Limiter: ratelimit.New(1000, time.Minute),
	}
	if mod != nil {
		mod(&deps)
	}
	srv := NewServer(deps, nil)
	return &env{srv: srv, handler: srv.Router(), deps: deps, dir: dir}
}

func (e *env) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *env) doRaw(t *testing.T, method, path, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func validLearnPayload() LearnRequest {
	return LearnRequest{
		Source:    "manual",
		Type:      "article",
		Title:     "Go profiling notes",
		Content:   "pprof basics and flame graphs",
		Relevance: 0.8,
		Tags:      []string{"go"},
	}
}

func TestStatusReportsSubsystems(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "idle", resp["status"])

	stats, ok := resp["stats"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, stats, "memory")
	assert.Contains(t, stats, "tasks")
	assert.Contains(t, stats, "skills")
	assert.Contains(t, stats, "uptime_seconds")

	assert.NotEmpty(t, w.Header().Get("X-Response-Time-Ms"))
}

func TestStartReportsAlreadyRunning(t *testing.T) {
	var running bool
	e := newEnv(t, func(d *Deps) {
		d.Start = func() bool {
			if running {
				return false
			}
			running = true
			return true
		}
		d.Running = func() bool { return running }
	})

	w := e.do(t, http.MethodPost, "/api/nexus/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "started", resp["status"])
	assert.NotContains(t, resp, "already_running")

	w = e.do(t, http.MethodPost, "/api/nexus/start", nil)
	assert.Equal(t, true, decode(t, w)["already_running"])

	w = e.do(t, http.MethodGet, "/api/nexus/status", nil)
	assert.Equal(t, "running", decode(t, w)["status"])
}

func TestLearnStoresKnowledge(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/learn", validLearnPayload())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])

	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	item, ok := e.deps.Memory.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Go profiling notes", item.Title)

	events := e.deps.Bus.RecentEvents(5, "knowledge_learned")
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].Data["id"])
}

func TestLearnValidationOverHTTP(t *testing.T) {
	e := newEnv(t, nil)

	req := validLearnPayload()
	req.Content = strings.Repeat("x", 50000)
	w := e.do(t, http.MethodPost, "/api/nexus/learn", req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = validLearnPayload()
	req.Content = strings.Repeat("x", 50001)
	w = e.do(t, http.MethodPost, "/api/nexus/learn", req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "content", resp["field"])

	req = validLearnPayload()
	req.Source = ""
	w = e.do(t, http.MethodPost, "/api/nexus/learn", req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "source", decode(t, w)["field"])
}

func TestMalformedJSONReturns422(t *testing.T) {
	e := newEnv(t, nil)

	w := e.doRaw(t, http.MethodPost, "/api/nexus/learn", `{"source": "manual",`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["error"], "invalid json")
}

func TestSearchServesFromCacheOnRepeat(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, http.MethodPost, "/api/nexus/learn", validLearnPayload())
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/nexus/search", SearchRequest{Query: "profiling"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.EqualValues(t, 1, resp["count"])
	assert.NotContains(t, resp, "cached")

	w = e.do(t, http.MethodPost, "/api/nexus/search", SearchRequest{Query: "profiling"})
	resp = decode(t, w)
	assert.Equal(t, true, resp["cached"])
	assert.EqualValues(t, 1, resp["count"])
}

func TestSearchValidationOverHTTP(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/search", SearchRequest{Query: ""})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "query", decode(t, w)["field"])

	w = e.do(t, http.MethodPost, "/api/nexus/search", SearchRequest{Query: "q", Limit: 101})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "limit", decode(t, w)["field"])

	w = e.do(t, http.MethodPost, "/api/nexus/search", SearchRequest{Query: "anything"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFeedbackPersists(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/feedback", FeedbackRequest{
		Content:  "more depth on Go posts",
		Category: "quality",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])

	raw, err := os.ReadFile(filepath.Join(e.dir, "brain", "feedback.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "more depth on Go posts")
	assert.Contains(t, string(raw), "quality")
}

func TestTaskReportLevelsSkill(t *testing.T) {
	e := newEnv(t, nil)

	var last map[string]any
	for i := 0; i < 3; i++ {
		w := e.do(t, http.MethodPost, "/api/nexus/task", TaskExecutionRequest{
			TaskType:   "code_review",
			Success:    true,
			DurationMs: 1200,
		})
		require.Equal(t, http.StatusOK, w.Code)
		last = decode(t, w)
	}
	assert.Equal(t, true, last["success"])
	assert.Equal(t, "code_review", last["skill"])

	rec, ok := e.deps.Skills.Get("code_review")
	require.True(t, ok)
	assert.Equal(t, 3, rec.TotalExecutions)
}

func TestTaskReportValidation(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/task", TaskExecutionRequest{TaskType: "x", DurationMs: -5})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "duration_ms", decode(t, w)["field"])
}

func TestExecuteCompletesNoteTask(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/execute", ExecuteRequest{
		Task:      "note the deploy window",
		MaxCycles: 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])

	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, loop.TaskCompleted, result["status"])
	assert.Equal(t, "recorded", result["output"])
}

func TestExecuteVerificationConflict(t *testing.T) {
	e := newEnv(t, nil)

	// verify_url fails hard with no verifier wired; two cycles exhaust the
	// retry budget.
	w := e.do(t, http.MethodPost, "/api/nexus/execute", ExecuteRequest{
		Task:                 "verify the docs link",
		Action:               loop.ActionVerifyURL,
		Params:               map[string]any{"url": "https://example.com/docs"},
		MaxCycles:            2,
		VerificationRequired: true,
	})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, false, resp["success"])

	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, loop.TaskFailed, result["status"])
}

func TestExecuteBoundaryValidationOverHTTP(t *testing.T) {
	e := newEnv(t, nil)

	for _, tc := range []struct {
		cycles int
		want   int
	}{
		{0, http.StatusUnprocessableEntity},
		{1, http.StatusOK},
		{100, http.StatusOK},
		{101, http.StatusUnprocessableEntity},
	} {
		w := e.do(t, http.MethodPost, "/api/nexus/execute", ExecuteRequest{Task: "note it", MaxCycles: tc.cycles})
		assert.Equal(t, tc.want, w.Code, "max_cycles=%d", tc.cycles)
	}
}

func TestRateLimitedEndpointReturns429(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Limiter = ratelimit.New(2, time.Minute)
	})

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/api/nexus/learn", validLearnPayload())
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := e.do(t, http.MethodPost, "/api/nexus/learn", validLearnPayload())
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decode(t, w)
	assert.Contains(t, resp, "retry_after")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Read-only endpoints stay open.
	w = e.do(t, http.MethodGet, "/api/nexus/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBackupCreateListRestore(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, http.MethodPost, "/api/nexus/learn", validLearnPayload())
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/nexus/backup?tag=pre", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode(t, w)
	name, _ := info["name"].(string)
	require.NotEmpty(t, name)
	assert.True(t, strings.HasPrefix(name, "nexus_backup_"))
	assert.Contains(t, name, "_pre")

	w = e.do(t, http.MethodGet, "/api/nexus/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = e.do(t, http.MethodPost, "/api/nexus/restore/"+name, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	restored := decode(t, w)
	assert.Equal(t, info["files"], restored["files"])
}

func TestRestoreNameValidation(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/restore/evil.tar.gz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/nexus/restore/nexus_backup_2026-01-01_000000.tar.gz", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthDegradesOnCorruptStore(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		e := newEnv(t, nil)
		w := e.do(t, http.MethodGet, "/api/nexus/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "healthy", resp["status"])
	})

	t.Run("corrupt knowledge lines", func(t *testing.T) {
		corruptDir := t.TempDir()
		knowledge := filepath.Join(corruptDir, "knowledge.jsonl")
		require.NoError(t, os.WriteFile(knowledge, []byte("{broken\n"), 0o644))

		e := newEnv(t, func(d *Deps) {
			mem, err := memory.NewStore(memory.Paths{
				Knowledge: knowledge,
				Patterns:  filepath.Join(corruptDir, "patterns.jsonl"),
				Events:    filepath.Join(corruptDir, "events.jsonl"),
				Feedback:  filepath.Join(corruptDir, "feedback.jsonl"),
			}, nil)
			require.NoError(t, err)
			d.Memory = mem
		})

		w := e.do(t, http.MethodGet, "/api/nexus/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "degraded", resp["status"])

		checks, ok := resp["checks"].(map[string]any)
		require.True(t, ok)
		detail, _ := checks["memory"].(string)
		assert.Contains(t, detail, "corrupt")
	})
}

func TestMetricsCountsRequests(t *testing.T) {
	e := newEnv(t, nil)
	e.do(t, http.MethodGet, "/api/nexus/status", nil)
	e.do(t, http.MethodGet, "/api/nexus/status", nil)

	w := e.do(t, http.MethodGet, "/api/nexus/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)

	raw, err := json.Marshal(resp["endpoints"])
	require.NoError(t, err)
	var endpoints []metrics.EndpointSnapshot
	require.NoError(t, json.Unmarshal(raw, &endpoints))

	var found bool
	for _, ep := range endpoints {
		if ep.Endpoint == "GET /api/nexus/status" {
			found = true
			assert.EqualValues(t, 2, ep.Count)
			assert.Zero(t, ep.Errors)
		}
	}
	assert.True(t, found, "status endpoint missing from metrics: %v", endpoints)
}

func TestEventsFilterByType(t *testing.T) {
	e := newEnv(t, nil)
	e.deps.Bus.Emit("proposal_created", map[string]any{"id": "p1"})
	e.deps.Bus.Emit("task_done", map[string]any{"id": "t1"})

	w := e.do(t, http.MethodGet, "/api/nexus/events?event_type=task_done&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.EqualValues(t, 1, resp["count"])

	events, ok := resp["events"].([]any)
	require.True(t, ok)
	first, ok := events[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task_done", first["type"])
}

func TestCyclesExposesLearningIterations(t *testing.T) {
	e := newEnv(t, nil)

	lrn, err := learning.New(learning.Deps{Store: e.deps.Store}, learning.Options{
		StatePath:     filepath.Join(e.dir, "state", "learning_state.json"),
		ScanLockPath:  filepath.Join(e.dir, "state", "knowledge_scan.lock"),
		ApplyLockPath: filepath.Join(e.dir, "state", "improvement_apply.lock"),
		DailyLockPath: filepath.Join(e.dir, "state", "daily_self_learning.lock"),
		LogsDir:       filepath.Join(e.dir, "logs"),
		BrainDir:      filepath.Join(e.dir, "brain"),
	}, nil)
	require.NoError(t, err)
	lrn.RunIteration(context.Background())

	e.deps.Learning = lrn
	e.srv = NewServer(e.deps, nil)
	e.handler = e.srv.Router()

	w := e.do(t, http.MethodGet, "/api/nexus/cycles?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.EqualValues(t, 1, resp["count"])

	cycles, ok := resp["cycles"].([]any)
	require.True(t, ok)
	first, ok := cycles[0].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, first["iteration"])
	assert.Contains(t, resp, "stats")
}

func TestSkillRecommendationForUnknownTask(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/skill-recommendation/unit-testing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "unit-testing", resp["task_type"])
	assert.Equal(t, "learn", resp["recommendation"])
}

func TestSafetyReportsGateMode(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/safety", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, policy.ModeSafe, resp["execution_mode"])
	assert.EqualValues(t, 0, resp["policy_blocked_recent"])
}

func TestTrustMetricsEmptyWindow(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/trust-metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 0, resp["sample_size"])
	assert.Contains(t, resp, "objective_success_rate")
	assert.Contains(t, resp, "policy_block_rate")
	assert.Contains(t, resp, "failure_rate")
}

func TestSelfDiagnosticHealthy(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/self-diagnostic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 100, resp["score"])
	assert.Equal(t, "healthy", resp["verdict"])
}

func TestSystemOverviewListsWiredSubsystems(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/system-overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)

	sub, ok := resp["subsystems"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"memory", "tasks", "skills", "actions", "budget", "debugger"} {
		assert.Contains(t, sub, key)
	}
	assert.NotContains(t, sub, "scout")
	assert.NotContains(t, sub, "learning")
}

func TestSystemHealthAggregatesSnapshot(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Health = func(context.Context) storage.HealthSnapshot {
			return storage.HealthSnapshot{
				HealthScore:        88,
				OpenIssues:         1,
				SuccessRate:        0.93,
				AvgDurationMs:      1200,
				ProposalThroughput: 2,
				CapturedAt:         time.Now().UTC(),
			}
		}
	})

	w := e.do(t, http.MethodGet, "/api/nexus/system-health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 88, resp["health_score"])
	assert.Equal(t, "healthy", resp["status"])
	assert.EqualValues(t, 1, resp["open_issues"])
	assert.EqualValues(t, 0, resp["corrupt_records"])
	assert.Contains(t, resp, "debugger")
}

func TestMaintenanceReportsActions(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/nexus/maintenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)

	actions, ok := resp["actions"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, actions)

	var joined string
	for _, a := range actions {
		s, _ := a.(string)
		joined += s + "\n"
	}
	assert.Contains(t, joined, "rate-limit")
	assert.Contains(t, joined, "pruned")
}

func TestBudgetProjectionReportsSpend(t *testing.T) {
	e := newEnv(t, nil)
	e.deps.Budget.RecordCost("advisor", 0.25)

	w := e.do(t, http.MethodGet, "/api/nexus/budget-projection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	spent, ok := resp["spent_usd"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 0.25, spent, 1e-9)
	assert.Contains(t, resp, "projected_eod_usd")
}

func TestSourceQualityWithoutScout(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/nexus/source-quality", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	sources, ok := resp["sources"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, sources)
}
