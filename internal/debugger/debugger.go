// Package debugger is the introspection layer: every agent logs its
// decisions, actions, errors, and metrics here, and anomaly checks turn
// suspicious patterns into open issues that feed the health score.
package debugger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Issue types.
const (
	TypePerformance = "performance"
	TypeError       = "error"
	TypeQuality     = "quality"
	TypeBehavior    = "behavior"
	TypeResource    = "resource"
)

// Issue severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
)

// Anomaly thresholds.
const (
	criticalDurationMs = 120_000
	mediumDurationMs   = 60_000
	repeatWindow       = 20
	repeatThreshold    = 5
	errorWindow        = 10
	errorThreshold     = 3
	dedupWindow        = 30 * time.Minute
	qualityCritical    = 4.0
	qualityMedium      = 6.0
	errorRateCritical  = 0.10
	patternsMax        = 100
)

// Action types that legitimately repeat and never trip the loop detector.
var expectedRepeating = map[string]bool{
	"iteration":          true,
	"heartbeat":          true,
	"ping":               true,
	"poll":               true,
	"health_check":       true,
	"knowledge_scan":     true,
	"save_state":         true,
	"check_improvements": true,
}

// Decision is one logged choice with its reasoning.
type Decision struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Decision  string    `json:"decision"`
	Reasoning string    `json:"reasoning,omitempty"`
}

// ActionRecord is one logged action execution.
type ActionRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Agent      string    `json:"agent"`
	ActionType string    `json:"action_type"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
}

// ErrorRecord is one logged failure.
type ErrorRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
}

// Metric is one logged measurement.
type Metric struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
}

// Issue is an anomaly promoted to a tracked problem.
type Issue struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	Type            string     `json:"type"`
	Severity        string     `json:"severity"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	AffectedAgent   string     `json:"affected_agent,omitempty"`
	Status          string     `json:"status"`
	OccurrenceCount int        `json:"occurrence_count"`
	LastSeen        time.Time  `json:"last_seen"`
	FixProposal     string     `json:"fix_proposal,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// SessionStats summarise one session at close.
type SessionStats struct {
	Decisions     int     `json:"decisions"`
	Actions       int     `json:"actions"`
	Errors        int     `json:"errors"`
	ErrorRate     float64 `json:"error_rate"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int     `json:"total_tokens"`
}

// Session is one closed logging window.
type Session struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Stats     SessionStats `json:"stats"`
}

// Report is the health summary derived from open issues.
type Report struct {
	HealthScore float64        `json:"health_score"`
	Status      string         `json:"status"`
	OpenIssues  int            `json:"open_issues"`
	BySeverity  map[string]int `json:"by_severity"`
	Session     SessionStats   `json:"session"`
}

// Options cap the in-memory buffers.
type Options struct {
	DecisionsMax int
	ActionsMax   int
	ErrorsMax    int
	MetricsMax   int
	SessionsMax  int
}

// DefaultOptions mirror the shipped caps.
func DefaultOptions() Options {
	return Options{DecisionsMax: 200, ActionsMax: 500, ErrorsMax: 200, MetricsMax: 500, SessionsMax: 50}
}

type issuesFile struct {
	Issues    []Issue   `json:"issues"`
	Resolved  []Issue   `json:"resolved"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sessionsFile struct {
	Sessions  []Session `json:"sessions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Debugger collects logs for the current session and maintains the issue
// store. Safe for concurrent use by API handlers and the learning loop.
type Debugger struct {
	mu           sync.Mutex
	opts         Options
	issuesPath   string
	sessionsPath string
	log          *zap.Logger
	now          func() time.Time

	sessionID      string
	sessionStarted time.Time
	decisions      []Decision
	actions        []ActionRecord
	errors         []ErrorRecord
	metrics        []Metric

	open     []Issue
	resolved []Issue
	patterns []string
}

// New loads persisted issues (when issuesPath exists) and opens a session.
// Empty paths disable persistence, which the tests use.
func New(opts Options, issuesPath, sessionsPath string, log *zap.Logger) (*Debugger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.DecisionsMax <= 0 {
		opts.DecisionsMax = def.DecisionsMax
	}
	if opts.ActionsMax <= 0 {
		opts.ActionsMax = def.ActionsMax
	}
	if opts.ErrorsMax <= 0 {
		opts.ErrorsMax = def.ErrorsMax
	}
	if opts.MetricsMax <= 0 {
		opts.MetricsMax = def.MetricsMax
	}
	if opts.SessionsMax <= 0 {
		opts.SessionsMax = def.SessionsMax
	}

	d := &Debugger{
		opts:         opts,
		issuesPath:   issuesPath,
		sessionsPath: sessionsPath,
		log:          log,
		now:          time.Now,
	}
	if issuesPath != "" {
		var f issuesFile
		found, err := storage.ReadJSON(issuesPath, &f)
		if err != nil {
			return nil, err
		}
		if found {
			d.open = f.Issues
			d.resolved = f.Resolved
		}
	}
	d.startSession()
	return d, nil
}

var (
	defaultMu sync.RWMutex
	defaultD  *Debugger
)

// SetDefault publishes d as the process-wide debugger.
func SetDefault(d *Debugger) {
	defaultMu.Lock()
	defaultD = d
	defaultMu.Unlock()
}

// Default returns the process-wide debugger, or nil when none is set.
func Default() *Debugger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultD
}

func (d *Debugger) startSession() {
	d.sessionID = "ses_" + uuid.NewString()[:8]
	d.sessionStarted = d.now().UTC()
	d.decisions = nil
	d.actions = nil
	d.errors = nil
	d.metrics = nil
}

// LogDecision records a choice made by an agent.
func (d *Debugger) LogDecision(agent, decision, reasoning string) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := Decision{
		ID:        "dec_" + uuid.NewString()[:8],
		Timestamp: d.now().UTC(),
		Agent:     clampField(agent, 100),
		Decision:  clampField(decision, 500),
		Reasoning: clampField(reasoning, 1000),
	}
	d.decisions = appendBounded(d.decisions, rec, d.opts.DecisionsMax)
	return rec
}

// LogAction records an executed action and runs the anomaly checks.
func (d *Debugger) LogAction(agent, actionType, detail string, durationMs int64, success bool) ActionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := ActionRecord{
		ID:         "act_" + uuid.NewString()[:8],
		Timestamp:  d.now().UTC(),
		Agent:      clampField(agent, 100),
		ActionType: clampField(actionType, 100),
		Detail:     clampField(detail, 500),
		DurationMs: durationMs,
		Success:    success,
	}
	d.actions = appendBounded(d.actions, rec, d.opts.ActionsMax)
	d.checkActionAnomalies(rec)
	return rec
}

// LogError records a failure and runs the recurring-error check.
func (d *Debugger) LogError(agent, errorType, message string) ErrorRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := ErrorRecord{
		ID:        "err_" + uuid.NewString()[:8],
		Timestamp: d.now().UTC(),
		Agent:     clampField(agent, 100),
		ErrorType: clampField(errorType, 100),
		Message:   clampField(message, 500),
	}
	d.errors = appendBounded(d.errors, rec, d.opts.ErrorsMax)
	d.checkErrorPatterns(rec)
	return rec
}

// LogMetric records a measurement and runs the threshold checks.
func (d *Debugger) LogMetric(agent, name string, value float64) Metric {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := Metric{
		ID:        "met_" + uuid.NewString()[:8],
		Timestamp: d.now().UTC(),
		Agent:     clampField(agent, 100),
		Name:      clampField(name, 100),
		Value:     value,
	}
	d.metrics = appendBounded(d.metrics, rec, d.opts.MetricsMax)
	d.checkMetricThresholds(rec)
	return rec
}

func (d *Debugger) checkActionAnomalies(a ActionRecord) {
	switch {
	case a.DurationMs >= criticalDurationMs:
		d.createIssue(TypePerformance, SeverityCritical,
			"Slow action: "+a.ActionType,
			fmt.Sprintf("action %s by %s took %dms", a.ActionType, a.Agent, a.DurationMs),
			a.Agent, "profile the action and add an internal deadline")
	case a.DurationMs >= mediumDurationMs:
		d.createIssue(TypePerformance, SeverityMedium,
			"Slow action: "+a.ActionType,
			fmt.Sprintf("action %s by %s took %dms", a.ActionType, a.Agent, a.DurationMs),
			a.Agent, "")
	}

	if expectedRepeating[a.ActionType] {
		return
	}
	window := d.actions
	if len(window) > repeatWindow {
		window = window[len(window)-repeatWindow:]
	}
	repeats := 0
	for _, prev := range window {
		if prev.ActionType == a.ActionType && prev.Agent == a.Agent {
			repeats++
		}
	}
	if repeats >= repeatThreshold {
		d.createIssue(TypeBehavior, SeverityHigh,
			"Possible infinite loop: "+a.ActionType,
			fmt.Sprintf("%s repeated %s %d times in the last %d actions", a.Agent, a.ActionType, repeats, repeatWindow),
			a.Agent, "add an iteration guard or backoff around "+a.ActionType)
	}
}

func (d *Debugger) checkMetricThresholds(m Metric) {
	switch m.Name {
	case "quality_score":
		if m.Value < qualityCritical {
			d.createIssue(TypeQuality, SeverityCritical,
				"Quality score below critical threshold",
				fmt.Sprintf("%s reported quality_score %.2f", m.Agent, m.Value),
				m.Agent, "review recent outputs from "+m.Agent)
		} else if m.Value < qualityMedium {
			d.createIssue(TypeQuality, SeverityMedium,
				"Quality score below target",
				fmt.Sprintf("%s reported quality_score %.2f", m.Agent, m.Value),
				m.Agent, "")
		}
	case "error_rate":
		if m.Value > errorRateCritical {
			d.createIssue(TypeError, SeverityCritical,
				"Error rate above critical threshold",
				fmt.Sprintf("%s reported error_rate %.2f", m.Agent, m.Value),
				m.Agent, "inspect recent errors for "+m.Agent)
		}
	}
}

func (d *Debugger) checkErrorPatterns(e ErrorRecord) {
	window := d.errors
	if len(window) > errorWindow {
		window = window[len(window)-errorWindow:]
	}
	same := 0
	for _, prev := range window {
		if prev.ErrorType == e.ErrorType {
			same++
		}
	}
	if same < errorThreshold {
		return
	}
	d.createIssue(TypeError, SeverityHigh,
		"Recurring error: "+e.ErrorType,
		fmt.Sprintf("%d %s errors in the last %d, latest: %s", same, e.ErrorType, errorWindow, e.Message),
		e.Agent, "add handling or a retry policy for "+e.ErrorType)
	d.learnPattern(fmt.Sprintf("recurring_error:%s:%s", e.ErrorType, e.Message))
}

func (d *Debugger) learnPattern(p string) {
	for _, existing := range d.patterns {
		if existing == p {
			return
		}
	}
	d.patterns = append(d.patterns, p)
	if len(d.patterns) > patternsMax {
		d.patterns = d.patterns[len(d.patterns)-patternsMax:]
	}
}

// createIssue merges into a matching open issue seen within the dedup
// window, otherwise opens a new one. Caller holds the mutex.
func (d *Debugger) createIssue(issueType, severity, title, description, agent, fixProposal string) {
	now := d.now().UTC()
	for i := range d.open {
		iss := &d.open[i]
		if iss.Type == issueType && iss.Title == title && iss.AffectedAgent == agent &&
			now.Sub(iss.LastSeen) <= dedupWindow {
			iss.OccurrenceCount++
			iss.LastSeen = now
			d.persistIssues()
			return
		}
	}
	iss := Issue{
		ID:              "iss_" + uuid.NewString()[:8],
		Timestamp:       now,
		Type:            issueType,
		Severity:        severity,
		Title:           title,
		Description:     description,
		AffectedAgent:   agent,
		Status:          IssueOpen,
		OccurrenceCount: 1,
		LastSeen:        now,
		FixProposal:     fixProposal,
	}
	d.open = append(d.open, iss)
	d.persistIssues()
	d.log.Warn("issue opened",
		zap.String("type", issueType),
		zap.String("severity", severity),
		zap.String("title", title),
		zap.String("agent", agent))
}

// ResolveIssue closes an open issue by ID.
func (d *Debugger) ResolveIssue(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.open {
		if d.open[i].ID != id {
			continue
		}
		iss := d.open[i]
		now := d.now().UTC()
		iss.Status = IssueResolved
		iss.ResolvedAt = &now
		d.open = append(d.open[:i], d.open[i+1:]...)
		d.resolved = append(d.resolved, iss)
		d.persistIssues()
		return nil
	}
	return nexuserr.Newf(nexuserr.KindNotFound, "issue %s not found", id)
}

// OpenIssues returns a copy of the open issues.
func (d *Debugger) OpenIssues() []Issue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Issue(nil), d.open...)
}

// LearnedPatterns returns the error patterns worth remembering.
func (d *Debugger) LearnedPatterns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.patterns...)
}

// HealthReport scores the open issues.
func (d *Debugger) HealthReport() Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	bySeverity := map[string]int{}
	for _, iss := range d.open {
		bySeverity[iss.Severity]++
	}
	score := 100.0 -
		20*float64(bySeverity[SeverityCritical]) -
		10*float64(bySeverity[SeverityHigh]) -
		5*float64(bySeverity[SeverityMedium])
	if score < 0 {
		score = 0
	}
	status := "critical"
	switch {
	case score >= 80:
		status = "healthy"
	case score >= 50:
		status = "degraded"
	}
	return Report{
		HealthScore: score,
		Status:      status,
		OpenIssues:  len(d.open),
		BySeverity:  bySeverity,
		Session:     d.sessionStats(),
	}
}

// Caller holds the mutex.
func (d *Debugger) sessionStats() SessionStats {
	stats := SessionStats{
		Decisions: len(d.decisions),
		Actions:   len(d.actions),
		Errors:    len(d.errors),
	}
	if len(d.actions) > 0 {
		successes := 0
		var totalMs int64
		for _, a := range d.actions {
			if a.Success {
				successes++
			}
			totalMs += a.DurationMs
		}
		stats.SuccessRate = float64(successes) / float64(len(d.actions))
		stats.ErrorRate = float64(len(d.errors)) / float64(len(d.actions))
		stats.AvgDurationMs = float64(totalMs) / float64(len(d.actions))
	}
	for _, m := range d.metrics {
		if m.Name == "tokens_used" {
			stats.TotalTokens += int(m.Value)
		}
	}
	return stats
}

// EndSession closes the current session, appends it to the session log, and
// opens a fresh one.
func (d *Debugger) EndSession() Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Session{
		ID:        d.sessionID,
		StartedAt: d.sessionStarted,
		EndedAt:   d.now().UTC(),
		Stats:     d.sessionStats(),
	}
	if d.sessionsPath != "" {
		var f sessionsFile
		if _, err := storage.ReadJSON(d.sessionsPath, &f); err != nil {
			d.log.Warn("session log unreadable", zap.Error(err))
			f = sessionsFile{}
		}
		f.Sessions = append(f.Sessions, s)
		if over := len(f.Sessions) - d.opts.SessionsMax; over > 0 {
			f.Sessions = append([]Session(nil), f.Sessions[over:]...)
		}
		f.UpdatedAt = d.now().UTC()
		if err := storage.WriteJSONAtomic(d.sessionsPath, &f); err != nil {
			d.log.Warn("session log write failed", zap.Error(err))
		}
	}
	d.log.Info("session closed",
		zap.String("session", s.ID),
		zap.Int("actions", s.Stats.Actions),
		zap.Int("errors", s.Stats.Errors),
		zap.Float64("success_rate", s.Stats.SuccessRate))
	d.startSession()
	return s
}

// Caller holds the mutex.
func (d *Debugger) persistIssues() {
	if d.issuesPath == "" {
		return
	}
	f := issuesFile{Issues: d.open, Resolved: d.resolved, UpdatedAt: d.now().UTC()}
	if err := storage.WriteJSONAtomic(d.issuesPath, &f); err != nil {
		d.log.Warn("issue store write failed", zap.Error(err))
	}
}

func appendBounded[T any](buf []T, v T, limit int) []T {
	buf = append(buf, v)
	if len(buf) > limit {
		buf = append([]T(nil), buf[len(buf)-limit:]...)
	}
	return buf
}

func clampField(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
