// Package skills tracks per-skill proficiency derived from execution stats.
// Levels run 1..10 and are recomputed from counters on every execution.
package skills

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

const (
	maxLevel        = 10
	levelHistoryCap = 50
)

// LevelChange is one entry in a skill's level history.
type LevelChange struct {
	Level int       `json:"level"`
	At    time.Time `json:"at"`
}

// Record is the persistent state for one skill.
type Record struct {
	Name            string        `json:"name"`
	Level           int           `json:"level"`
	TotalExecutions int           `json:"total_executions"`
	TotalFailures   int           `json:"total_failures"`
	TotalTimeMs     int64         `json:"total_time_ms"`
	BestTimeMs      int64         `json:"best_time_ms"`
	AvgTimeMs       float64       `json:"avg_time_ms"`
	Mastered        bool          `json:"mastered"`
	CanDelegate     bool          `json:"can_delegate"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastExecuted    time.Time     `json:"last_executed"`
	LevelHistory    []LevelChange `json:"level_history,omitempty"`
}

// SuccessRate is successes over executions, 0 for a fresh record.
func (r *Record) SuccessRate() float64 {
	if r.TotalExecutions == 0 {
		return 0
	}
	return float64(r.TotalExecutions-r.TotalFailures) / float64(r.TotalExecutions)
}

// Recommendation advises how to approach a task type.
type Recommendation struct {
	TaskType          string  `json:"task_type"`
	Skill             string  `json:"skill,omitempty"`
	Recommendation    string  `json:"recommendation"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	SuggestedApproach string  `json:"suggested_approach"`
}

// Recommendation values.
const (
	RecommendLearn             = "learn"
	RecommendLearnThenExecute  = "learn_then_execute"
	RecommendExecuteWithVerify = "execute_with_verification"
	RecommendExecute           = "execute"
	RecommendDelegate          = "delegate"
)

// BestSkill is the ranked answer for get_best_skill_for_task.
type BestSkill struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Level        int     `json:"level"`
	SuccessRate  float64 `json:"success_rate"`
	KeywordMatch float64 `json:"keyword_match"`
}

type skillsFile struct {
	Skills    map[string]*Record `json:"skills"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Tracker owns the skill table and its persistence.
type Tracker struct {
	mu     sync.RWMutex
	skills map[string]*Record
	path   string
	log    *zap.Logger
	now    func() time.Time
}

// NewTracker loads skills.json when present.
func NewTracker(path string, log *zap.Logger) (*Tracker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		skills: make(map[string]*Record),
		path:   path,
		log:    log,
		now:    time.Now,
	}
	var file skillsFile
	found, err := storage.ReadJSON(path, &file)
	if err != nil {
		return nil, err
	}
	if found && file.Skills != nil {
		t.skills = file.Skills
	}
	return t, nil
}

// RecordExecution updates the skill's counters and recomputes its level.
func (t *Tracker) RecordExecution(skill string, durationMs int64, success bool) Record {
	name := normalizeSkill(skill)
	now := t.now().UTC()

	t.mu.Lock()
	rec, ok := t.skills[name]
	if !ok {
		rec = &Record{Name: name, Level: 1, FirstSeen: now}
		rec.LevelHistory = append(rec.LevelHistory, LevelChange{Level: 1, At: now})
		t.skills[name] = rec
	}

	rec.TotalExecutions++
	if !success {
		rec.TotalFailures++
	}
	if durationMs < 0 {
		durationMs = 0
	}
	rec.TotalTimeMs += durationMs
	if success && (rec.BestTimeMs == 0 || durationMs < rec.BestTimeMs) && durationMs > 0 {
		rec.BestTimeMs = durationMs
	}
	rec.AvgTimeMs = float64(rec.TotalTimeMs) / float64(rec.TotalExecutions)
	rec.LastExecuted = now

	prev := rec.Level
	rec.Level = computeLevel(rec)
	if rec.Level != prev {
		rec.LevelHistory = append(rec.LevelHistory, LevelChange{Level: rec.Level, At: now})
		if len(rec.LevelHistory) > levelHistoryCap {
			rec.LevelHistory = rec.LevelHistory[len(rec.LevelHistory)-levelHistoryCap:]
		}
	}

	sr := rec.SuccessRate()
	rec.Mastered = rec.Level >= 8 && sr >= 0.9
	rec.CanDelegate = rec.Level >= 9 && rec.TotalExecutions >= 50

	out := *rec
	t.mu.Unlock()

	if err := t.save(); err != nil {
		t.log.Warn("persist skills", zap.Error(err))
	}
	return out
}

// computeLevel derives the level from counters. Each bonus contributes whole
// points only; the experience bonus crosses its first point at 10 executions.
func computeLevel(rec *Record) int {
	expBonus := math.Min(3, float64(rec.TotalExecutions)/10)
	successBonus := math.Min(3, rec.SuccessRate()*3)
	speedBonus := 0.0
	if rec.AvgTimeMs > 0 && rec.BestTimeMs > 0 {
		speedBonus = math.Min(3, float64(rec.BestTimeMs)/rec.AvgTimeMs*3)
	}
	level := 1 + int(expBonus) + int(successBonus) + int(speedBonus)
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// Get returns a copy of one record.
func (t *Tracker) Get(skill string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.skills[normalizeSkill(skill)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// All returns all records sorted by name.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.skills))
	for _, rec := range t.skills {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recommend maps a task type onto an approach based on the matching skill.
func (t *Tracker) Recommend(taskType string) Recommendation {
	best, found := t.BestForTask(taskType)

	if !found {
		return Recommendation{
			TaskType:          taskType,
			Recommendation:    RecommendLearn,
			Confidence:        0.3,
			Reason:            "no execution history for this task type",
			SuggestedApproach: "research the task and attempt a small, reversible version first",
		}
	}

	rec, _ := t.Get(best.Name)
	sr := rec.SuccessRate()
	switch {
	case rec.CanDelegate:
		return Recommendation{
			TaskType:          taskType,
			Skill:             rec.Name,
			Recommendation:    RecommendDelegate,
			Confidence:        0.9,
			Reason:            "skill is proven across many executions",
			SuggestedApproach: "hand off to a sub-agent and spot-check the outcome",
		}
	case rec.Level <= 2:
		return Recommendation{
			TaskType:          taskType,
			Skill:             rec.Name,
			Recommendation:    RecommendLearnThenExecute,
			Confidence:        0.45,
			Reason:            "skill level is still low",
			SuggestedApproach: "study one worked example, then execute with close monitoring",
		}
	case rec.Level <= 5 || sr < 0.8:
		return Recommendation{
			TaskType:          taskType,
			Skill:             rec.Name,
			Recommendation:    RecommendExecuteWithVerify,
			Confidence:        0.55 + 0.2*sr,
			Reason:            "moderate skill level; verification still pays for itself",
			SuggestedApproach: "execute, then verify the result before reporting success",
		}
	default:
		return Recommendation{
			TaskType:          taskType,
			Skill:             rec.Name,
			Recommendation:    RecommendExecute,
			Confidence:        math.Min(0.95, 0.6+float64(rec.Level)/25),
			Reason:            "skill level and success rate are both high",
			SuggestedApproach: "execute directly",
		}
	}
}

// BestForTask scores skills against the task text. Skills with zero keyword
// overlap are ignored.
func (t *Tracker) BestForTask(text string) (BestSkill, bool) {
	words := map[string]bool{}
	for _, w := range tokenize(text) {
		words[w] = true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var best BestSkill
	found := false
	for _, rec := range t.skills {
		tokens := tokenize(rec.Name)
		if len(tokens) == 0 {
			continue
		}
		matched := 0
		for _, tok := range tokens {
			if words[tok] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		kw := float64(matched) / float64(len(tokens))
		score := 0.4*kw + 0.3*float64(rec.Level)/10 + 0.3*rec.SuccessRate()
		if !found || score > best.Score {
			best = BestSkill{
				Name:         rec.Name,
				Score:        score,
				Level:        rec.Level,
				SuccessRate:  rec.SuccessRate(),
				KeywordMatch: kw,
			}
			found = true
		}
	}
	return best, found
}

// Stats summarizes the table for the /skills endpoint.
func (t *Tracker) Stats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mastered := 0
	delegable := 0
	levelSum := 0
	for _, rec := range t.skills {
		if rec.Mastered {
			mastered++
		}
		if rec.CanDelegate {
			delegable++
		}
		levelSum += rec.Level
	}
	avgLevel := 0.0
	if len(t.skills) > 0 {
		avgLevel = float64(levelSum) / float64(len(t.skills))
	}
	return map[string]any{
		"total_skills": len(t.skills),
		"mastered":     mastered,
		"delegable":    delegable,
		"avg_level":    avgLevel,
	}
}

func (t *Tracker) save() error {
	t.mu.RLock()
	file := skillsFile{Skills: t.skills, UpdatedAt: t.now().UTC()}
	err := storage.WriteJSONAtomic(t.path, file)
	t.mu.RUnlock()
	return err
}

func normalizeSkill(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "-", "_")))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '/' || r == '.'
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
