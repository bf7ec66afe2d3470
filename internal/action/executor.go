package action

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Handler executes one action type. Handlers must honour ctx and return
// promptly after cancellation; the executor classifies the rest.
type Handler func(ctx context.Context, p Params) (Output, error)

// Options configure the executor.
type Options struct {
	Gate           *policy.Gate
	HistoryPath    string
	ProjectRoot    string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	OutputCap      int
	RingSize       int
	Log            *zap.Logger
	Bus            *bus.Bus
}

// Executor dispatches actions through the policy gate and records results.
type Executor struct {
	gate        *policy.Gate
	historyPath string
	projectRoot string
	defTimeout  time.Duration
	maxTimeout  time.Duration
	outputCap   int
	log         *zap.Logger
	bus         *bus.Bus

	mu       sync.RWMutex
	handlers map[string]Handler
	ring     []Result
	ringCap  int

	total   int64
	failed  int64
	blocked int64
	timeout int64
}

// pathParams names the parameter carrying a filesystem path per action, for
// resolution and gating before the handler runs.
var pathParams = map[string]string{
	"read_file":        "path",
	"write_file":       "path",
	"edit_file":        "path",
	"delete_file":      "path",
	"list_directory":   "path",
	"create_directory": "path",
	"analyze_code":     "path",
	"run_script":       "path",
}

// shellParams names the parameter carrying a shell command per action.
var shellParams = map[string]string{
	"run_shell": "command",
}

// New builds an executor with an empty handler table.
func New(opts Options) *Executor {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 300 * time.Second
	}
	if opts.OutputCap <= 0 {
		opts.OutputCap = 2048
	}
	if opts.RingSize <= 0 {
		opts.RingSize = 500
	}
	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Executor{
		gate:        opts.Gate,
		historyPath: opts.HistoryPath,
		projectRoot: root,
		defTimeout:  opts.DefaultTimeout,
		maxTimeout:  opts.MaxTimeout,
		outputCap:   opts.OutputCap,
		log:         opts.Log,
		bus:         opts.Bus,
		handlers:    make(map[string]Handler),
		ringCap:     opts.RingSize,
	}
}

// Register installs a handler for actionType. Later registrations replace
// earlier ones; registration happens once at startup.
func (e *Executor) Register(actionType string, h Handler) {
	e.mu.Lock()
	e.handlers[Normalize(actionType)] = h
	e.mu.Unlock()
}

// Registered returns the sorted action types (overview endpoint).
func (e *Executor) Registered() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	return out
}

// Normalize maps dashed action names onto the canonical underscore form.
func Normalize(actionType string) string {
	return strings.ReplaceAll(strings.TrimSpace(actionType), "-", "_")
}

// Execute runs one action to a terminal result. It never returns an error:
// failures are encoded in the result and persisted like any other outcome.
func (e *Executor) Execute(ctx context.Context, actionType string, params Params, timeout time.Duration) Result {
	norm := Normalize(actionType)
	res := Result{
		ID:        uuid.NewString(),
		Type:      norm,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if params == nil {
		params = Params{}
	}

	e.mu.RLock()
	handler, ok := e.handlers[norm]
	e.mu.RUnlock()
	if !ok {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("Unknown action type: %s", actionType)
		return e.finalize(res)
	}

	// Resolve and gate path parameters before the handler sees them.
	if key, needsPath := pathParams[norm]; needsPath {
		raw := params.String(key)
		if raw == "" {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("missing required parameter %q", key)
			return e.finalize(res)
		}
		resolved := e.ResolvePath(raw)
		if d := e.gate.CheckPath(resolved, norm); !d.Allowed {
			res.Status = StatusFailed
			res.PolicyBlocked = true
			res.Error = d.Reason
			return e.finalize(res)
		}
		params = cloneParams(params)
		params[key] = resolved
	}

	if key, isShell := shellParams[norm]; isShell {
		command := params.String(key)
		if d := e.gate.CheckShell(command); !d.Allowed {
			res.Status = StatusFailed
			res.PolicyBlocked = true
			res.Error = d.Reason
			return e.finalize(res)
		}
	}

	deadline := e.clampTimeout(timeout)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type handlerResult struct {
		out Output
		err error
	}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: nexuserr.Newf(nexuserr.KindInternal, "handler panic: %v", r)}
			}
		}()
		out, err := handler(runCtx, params)
		done <- handlerResult{out: out, err: err}
	}()

	select {
	case hr := <-done:
		if hr.err != nil {
			res.Status = StatusFailed
			res.Error = hr.err.Error()
			if nexuserr.Is(hr.err, nexuserr.KindPolicyDenied) {
				res.PolicyBlocked = true
			}
			if nexuserr.Is(hr.err, nexuserr.KindTimeout) {
				res.Status = StatusTimeout
			}
			res.Output = hr.out.Text
			res.Data = hr.out.Data
		} else {
			res.Status = StatusSuccess
			res.Output = hr.out.Text
			res.Data = hr.out.Data
			res.ObjectiveSuccess = hr.out.Objective
		}
	case <-runCtx.Done():
		// The worker is abandoned; it owns runCtx and is expected to stop.
		if runCtx.Err() == context.DeadlineExceeded {
			res.Status = StatusTimeout
			res.Error = fmt.Sprintf("action exceeded %s deadline", deadline)
		} else {
			res.Status = StatusFailed
			res.Error = "action canceled"
		}
	}

	return e.finalize(res)
}

// ResolvePath joins relative paths onto the project root.
func (e *Executor) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.projectRoot, path)
}

// ProjectRoot exposes the resolved root (handlers, tests).
func (e *Executor) ProjectRoot() string { return e.projectRoot }

// Mode reports the gate's execution mode.
func (e *Executor) Mode() string { return e.gate.Mode() }

func (e *Executor) clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.defTimeout
	}
	if requested > e.maxTimeout {
		return e.maxTimeout
	}
	return requested
}

func (e *Executor) finalize(res Result) Result {
	res.CompletedAt = time.Now().UTC()
	if d := res.CompletedAt.Sub(res.StartedAt); d > 0 {
		res.DurationMs = d.Milliseconds()
	}

	persisted := res
	if len(persisted.Output) > e.outputCap {
		persisted.Output = persisted.Output[:e.outputCap]
	}

	e.mu.Lock()
	e.total++
	switch {
	case res.PolicyBlocked:
		e.blocked++
		e.failed++
	case res.Status == StatusFailed:
		e.failed++
	case res.Status == StatusTimeout:
		e.timeout++
	}
	if len(e.ring) == e.ringCap {
		copy(e.ring, e.ring[1:])
		e.ring[e.ringCap-1] = persisted
	} else {
		e.ring = append(e.ring, persisted)
	}
	e.mu.Unlock()

	if e.historyPath != "" {
		if err := storage.AppendJSONL(e.historyPath, persisted); err != nil {
			e.log.Warn("append action history", zap.Error(err))
		}
	}
	if e.bus != nil {
		e.bus.Emit("action_executed", map[string]any{
			"id":             res.ID,
			"type":           res.Type,
			"status":         res.Status,
			"duration_ms":    res.DurationMs,
			"policy_blocked": res.PolicyBlocked,
		})
	}
	return res
}

// RecentResults returns up to limit most recent results, newest last.
func (e *Executor) RecentResults(limit int) []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.ring) {
		limit = len(e.ring)
	}
	out := make([]Result, limit)
	copy(out, e.ring[len(e.ring)-limit:])
	return out
}

// TrustMetrics summarizes recent outcomes for the /trust-metrics endpoint.
type TrustMetrics struct {
	SampleSize           int       `json:"sample_size"`
	ObjectiveSuccessRate float64   `json:"objective_success_rate"`
	PolicyBlockRate      float64   `json:"policy_block_rate"`
	FailureRate          float64   `json:"failure_rate"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// Trust computes trust metrics over the last sample results.
func (e *Executor) Trust(sample int) TrustMetrics {
	recent := e.RecentResults(sample)
	tm := TrustMetrics{SampleSize: len(recent), GeneratedAt: time.Now().UTC()}
	if len(recent) == 0 {
		return tm
	}
	objTotal, objOK, blocked, failed := 0, 0, 0, 0
	for _, r := range recent {
		if r.ObjectiveSuccess != nil {
			objTotal++
			if *r.ObjectiveSuccess {
				objOK++
			}
		}
		if r.PolicyBlocked {
			blocked++
		}
		if r.Status == StatusFailed || r.Status == StatusTimeout {
			failed++
		}
	}
	if objTotal > 0 {
		tm.ObjectiveSuccessRate = float64(objOK) / float64(objTotal)
	}
	tm.PolicyBlockRate = float64(blocked) / float64(len(recent))
	tm.FailureRate = float64(failed) / float64(len(recent))
	return tm
}

// Stats reports lifetime counters.
func (e *Executor) Stats() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	errorRate := 0.0
	if e.total > 0 {
		errorRate = float64(e.failed+e.timeout) / float64(e.total)
	}
	return map[string]any{
		"total_actions":  e.total,
		"failed":         e.failed,
		"timeouts":       e.timeout,
		"policy_blocked": e.blocked,
		"error_rate":     errorRate,
		"registered":     len(e.handlers),
	}
}

func cloneParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
