// Package loop runs the autonomous task queue: tasks arrive with a priority,
// get dispatched to the action layer, retry on failure, and every terminal
// outcome is reflected into patterns and feedback.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Runner is the slice of the action executor the loop dispatches through.
type Runner interface {
	Execute(ctx context.Context, actionType string, params action.Params, timeout time.Duration) action.Result
}

// Memory is the slice of the memory store the loop learns into.
type Memory interface {
	Learn(in memory.LearnInput) (memory.KnowledgeItem, error)
	RecordPattern(pattern map[string]any) error
	RecordFeedback(feedback map[string]any) error
}

// Reflector optionally produces a reflection on a finished task. The advisor
// satisfies it when one is configured.
type Reflector interface {
	ReflectOnTask(ctx context.Context, description string, success bool, errText string) (string, error)
}

// Options tune the loop.
type Options struct {
	StatePath     string
	MaxRetries    int
	ActionTimeout time.Duration
	CompletedMax  int
}

// DefaultOptions mirror the shipped configuration.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, ActionTimeout: 60 * time.Second, CompletedMax: 200}
}

type tasksFile struct {
	Pending   []Task    `json:"pending_tasks"`
	Completed []Task    `json:"completed_tasks"`
	UpdatedAt time.Time `json:"last_updated"`
}

// Loop owns the priority queue. Safe for concurrent use.
type Loop struct {
	mu        sync.Mutex
	pending   []Task
	completed []Task
	runner    Runner
	verifier  *Verifier
	mem       Memory
	reflector Reflector
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

// New restores queued tasks from StatePath when present. Tasks that were
// mid-flight at shutdown return to pending.
func New(runner Runner, verifier *Verifier, mem Memory, reflector Reflector, opts Options, log *zap.Logger) (*Loop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = def.ActionTimeout
	}
	if opts.CompletedMax <= 0 {
		opts.CompletedMax = def.CompletedMax
	}

	l := &Loop{
		runner:    runner,
		verifier:  verifier,
		mem:       mem,
		reflector: reflector,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
	if opts.StatePath != "" {
		var f tasksFile
		found, err := storage.ReadJSON(opts.StatePath, &f)
		if err != nil {
			return nil, err
		}
		if found {
			for i := range f.Pending {
				if f.Pending[i].Status == TaskRunning {
					f.Pending[i].Status = TaskPending
				}
			}
			l.pending = f.Pending
			l.completed = f.Completed
		}
	}
	return l, nil
}

// Enqueue validates and inserts a task by priority, returning its ID.
func (l *Loop) Enqueue(t Task) (string, error) {
	if t.Description == "" && t.Action == "" {
		return "", nexuserr.New(nexuserr.KindValidation, "task needs a description or an action")
	}
	if t.ID == "" {
		t.ID = "task_" + uuid.NewString()[:8]
	}
	if t.Action == "" {
		t.Action = ActionNote
	}
	t.Priority = NormalizePriority(t.Priority)
	t.Status = TaskPending
	if t.MaxRetries <= 0 {
		t.MaxRetries = l.opts.MaxRetries
	}
	t.CreatedAt = l.now().UTC()

	l.mu.Lock()
	l.pending = insertByPriority(l.pending, t)
	l.mu.Unlock()
	l.persist()
	l.log.Info("task queued",
		zap.String("task", t.ID),
		zap.String("action", t.Action),
		zap.String("priority", t.Priority))
	return t.ID, nil
}

// CreateTask implements action.TaskCreator for the knowledge actions.
func (l *Loop) CreateTask(description, priority string) (string, error) {
	return l.Enqueue(Task{Description: description, Priority: priority})
}

// dequeue pops the highest-priority pending task.
func (l *Loop) dequeue() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return Task{}, false
	}
	t := l.pending[0]
	l.pending = append([]Task(nil), l.pending[1:]...)
	return t, true
}

// ExecuteNext runs the highest-priority pending task to a terminal state or
// back onto the queue. Returns false when the queue is empty.
func (l *Loop) ExecuteNext(ctx context.Context) (Task, bool) {
	t, ok := l.dequeue()
	if !ok {
		return Task{}, false
	}
	return l.ExecuteTask(ctx, t), true
}

// RunCycles executes up to maxCycles tasks, stopping early when the queue
// drains or the context ends.
func (l *Loop) RunCycles(ctx context.Context, maxCycles int) []Task {
	var done []Task
	for i := 0; i < maxCycles; i++ {
		if ctx.Err() != nil {
			break
		}
		t, ok := l.ExecuteNext(ctx)
		if !ok {
			break
		}
		done = append(done, t)
	}
	return done
}

// ExecuteTask dispatches one task. Non-success outcomes requeue the task
// until its retry budget runs out.
func (l *Loop) ExecuteTask(ctx context.Context, t Task) Task {
	started := l.now().UTC()
	t.Status = TaskRunning
	t.StartedAt = &started

	output, err := l.dispatch(ctx, t)
	if err != nil {
		t.Error = err.Error()
		t.RetryCount++
		if t.RetryCount < t.MaxRetries {
			t.Status = TaskPending
			t.StartedAt = nil
			l.mu.Lock()
			l.pending = insertByPriority(l.pending, t)
			l.mu.Unlock()
			l.persist()
			l.log.Warn("task requeued",
				zap.String("task", t.ID),
				zap.Int("retry", t.RetryCount),
				zap.String("error", t.Error))
			return t
		}
		t.Status = TaskFailed
	} else {
		t.Status = TaskCompleted
		t.Output = output
		t.Error = ""
	}

	finished := l.now().UTC()
	t.CompletedAt = &finished
	l.mu.Lock()
	l.completed = append(l.completed, t)
	if over := len(l.completed) - l.opts.CompletedMax; over > 0 {
		l.completed = append([]Task(nil), l.completed[over:]...)
	}
	l.mu.Unlock()
	l.persist()

	l.VerifyAndLearn(ctx, t)
	l.log.Info("task finished",
		zap.String("task", t.ID),
		zap.String("action", t.Action),
		zap.String("status", t.Status),
		zap.Int("retries", t.RetryCount))
	return t
}

func (l *Loop) dispatch(ctx context.Context, t Task) (string, error) {
	params := t.Params
	if params == nil {
		params = map[string]any{}
	}
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}

	switch t.Action {
	case ActionNote, "":
		return "recorded", nil

	case ActionVerifyURL:
		if l.verifier == nil {
			return "", nexuserr.New(nexuserr.KindInternal, "no verifier configured")
		}
		ok, detail := l.verifier.VerifyURL(ctx, str("url"))
		if !ok {
			return "", nexuserr.Newf(nexuserr.KindValidation, "url verification failed: %s", detail)
		}
		return detail, nil

	case ActionVerifyFile:
		if l.verifier == nil {
			return "", nexuserr.New(nexuserr.KindInternal, "no verifier configured")
		}
		ok, detail := l.verifier.VerifyFile(str("path"))
		if !ok {
			return "", nexuserr.Newf(nexuserr.KindValidation, "file verification failed: %s", detail)
		}
		return detail, nil

	case ActionRunCommand:
		command := str("command")
		if err := policy.ValidateQuoting(command); err != nil {
			return "", nexuserr.Wrap(nexuserr.KindPolicyDenied, "command rejected", err)
		}
		return l.runAction(ctx, "run_shell", action.Params{"command": command})

	case ActionRunPython:
		return l.runAction(ctx, "run_python", action.Params{"code": str("code")})

	case ActionLearnFromInput:
		if l.mem == nil {
			return "", nexuserr.New(nexuserr.KindInternal, "no memory store configured")
		}
		content := str("content")
		if content == "" {
			content = t.Description
		}
		item, err := l.mem.Learn(memory.LearnInput{
			Source:    "autonomous_loop",
			Type:      "task_input",
			Title:     firstNonEmpty(str("title"), t.Description, "task input"),
			Content:   content,
			URL:       str("url"),
			Relevance: 0.5,
			Tags:      []string{"loop", t.Priority},
		})
		if err != nil {
			return "", err
		}
		return "learned " + item.ID, nil

	default:
		return "", nexuserr.Newf(nexuserr.KindValidation, "unknown task action %q", t.Action)
	}
}

func (l *Loop) runAction(ctx context.Context, actionType string, params action.Params) (string, error) {
	if l.runner == nil {
		return "", nexuserr.New(nexuserr.KindInternal, "no action runner configured")
	}
	res := l.runner.Execute(ctx, actionType, params, l.opts.ActionTimeout)
	if res.Status != action.StatusSuccess {
		msg := res.Error
		if msg == "" {
			msg = res.Status
		}
		return "", nexuserr.Newf(nexuserr.KindInternal, "%s: %s", actionType, msg)
	}
	return res.Output, nil
}

// VerifyAndLearn turns a terminal task into patterns and feedback. The
// reflector adds its commentary when one is wired.
func (l *Loop) VerifyAndLearn(ctx context.Context, t Task) {
	if l.mem == nil || !terminal(t.Status) {
		return
	}
	success := t.Status == TaskCompleted
	pattern := map[string]any{
		"task_id":     t.ID,
		"action":      t.Action,
		"description": t.Description,
		"retry_count": t.RetryCount,
		"recorded_at": l.now().UTC(),
	}
	switch {
	case !success:
		pattern["type"] = "failure_pattern"
		pattern["error"] = t.Error
	case t.RetryCount > 0:
		pattern["type"] = "retry_pattern"
	default:
		pattern["type"] = "success_pattern"
	}
	if l.reflector != nil {
		if reflection, err := l.reflector.ReflectOnTask(ctx, t.Description, success, t.Error); err == nil && reflection != "" {
			pattern["reflection"] = reflection
		}
	}
	if err := l.mem.RecordPattern(pattern); err != nil {
		l.log.Warn("pattern record failed", zap.Error(err))
	}

	comment := fmt.Sprintf("task %s %s", t.ID, t.Status)
	if t.Error != "" {
		comment += ": " + t.Error
	}
	if err := l.mem.RecordFeedback(map[string]any{
		"task_id":  t.ID,
		"approved": success,
		"comment":  comment,
	}); err != nil {
		l.log.Warn("feedback record failed", zap.Error(err))
	}
}

func terminal(status string) bool {
	return status == TaskCompleted || status == TaskFailed
}

// Pending returns the queue in execution order.
func (l *Loop) Pending() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Task(nil), l.pending...)
}

// Completed returns the retained terminal tasks, oldest first.
func (l *Loop) Completed() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Task(nil), l.completed...)
}

// Get finds a task by ID in either list.
func (l *Loop) Get(id string) (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.pending {
		if t.ID == id {
			return t, true
		}
	}
	for _, t := range l.completed {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Stats summarizes queue state for the API.
func (l *Loop) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	byStatus := map[string]int{}
	for _, t := range l.completed {
		byStatus[t.Status]++
	}
	return map[string]any{
		"pending":   len(l.pending),
		"completed": byStatus[TaskCompleted],
		"failed":    byStatus[TaskFailed],
	}
}

func (l *Loop) persist() {
	if l.opts.StatePath == "" {
		return
	}
	l.mu.Lock()
	f := tasksFile{
		Pending:   append([]Task(nil), l.pending...),
		Completed: append([]Task(nil), l.completed...),
		UpdatedAt: l.now().UTC(),
	}
	l.mu.Unlock()
	if err := storage.WriteJSONAtomic(l.opts.StatePath, &f); err != nil {
		l.log.Warn("task state write failed", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
