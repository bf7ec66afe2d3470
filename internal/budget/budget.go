// Package budget accumulates estimated spend per day and projects it to
// end-of-day, so the API can answer whether the configured daily limit holds.
package budget

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

const (
	retentionDays = 30
	dateLayout    = "2006-01-02"
)

// DayUsage is one day's accumulated spend.
type DayUsage struct {
	Date       string             `json:"date"`
	TotalUSD   float64            `json:"total_usd"`
	Calls      int                `json:"calls"`
	ByCategory map[string]float64 `json:"by_category"`
}

type budgetFile struct {
	Days      map[string]*DayUsage `json:"days"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Tracker records costs and serves projections. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	path     string
	limitUSD float64
	days     map[string]*DayUsage
	log      *zap.Logger
	now      func() time.Time
}

// New loads prior usage from path when present. limitUSD ≤ 0 means no limit.
func New(path string, limitUSD float64, log *zap.Logger) (*Tracker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		path:     path,
		limitUSD: limitUSD,
		days:     map[string]*DayUsage{},
		log:      log,
		now:      time.Now,
	}
	if path != "" {
		var f budgetFile
		found, err := storage.ReadJSON(path, &f)
		if err != nil {
			return nil, err
		}
		if found && f.Days != nil {
			t.days = f.Days
		}
	}
	return t, nil
}

// RecordCost adds an estimated cost to today's bucket. Implements the
// advisor's CostRecorder.
func (t *Tracker) RecordCost(category string, usd float64) {
	if usd < 0 {
		return
	}
	t.mu.Lock()
	day := t.dayLocked(t.now().UTC())
	day.TotalUSD += usd
	day.Calls++
	if category != "" {
		day.ByCategory[category] += usd
	}
	t.pruneLocked()
	t.mu.Unlock()
	t.persist()
}

func (t *Tracker) dayLocked(now time.Time) *DayUsage {
	key := now.Format(dateLayout)
	day, ok := t.days[key]
	if !ok {
		day = &DayUsage{Date: key, ByCategory: map[string]float64{}}
		t.days[key] = day
	}
	if day.ByCategory == nil {
		day.ByCategory = map[string]float64{}
	}
	return day
}

func (t *Tracker) pruneLocked() {
	if len(t.days) <= retentionDays {
		return
	}
	keys := make([]string, 0, len(t.days))
	for k := range t.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-retentionDays] {
		delete(t.days, k)
	}
}

// TodayUSD returns today's accumulated spend.
func (t *Tracker) TodayUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if day, ok := t.days[t.now().UTC().Format(dateLayout)]; ok {
		return day.TotalUSD
	}
	return 0
}

// Remaining returns the unspent part of today's limit, zero-floored.
// Unlimited trackers report 0 with ok=false.
func (t *Tracker) Remaining() (float64, bool) {
	if t.limitUSD <= 0 {
		return 0, false
	}
	left := t.limitUSD - t.TodayUSD()
	if left < 0 {
		left = 0
	}
	return left, true
}

// Exceeded reports whether today's spend has reached the limit.
func (t *Tracker) Exceeded() bool {
	if t.limitUSD <= 0 {
		return false
	}
	return t.TodayUSD() >= t.limitUSD
}

// Projection summarizes spend for the API: today's actuals, a linear
// end-of-day projection, and the recent history.
func (t *Tracker) Projection() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	key := now.Format(dateLayout)
	var total float64
	var calls int
	byCategory := map[string]float64{}
	if day, ok := t.days[key]; ok {
		total = day.TotalUSD
		calls = day.Calls
		for k, v := range day.ByCategory {
			byCategory[k] = v
		}
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	fraction := now.Sub(midnight).Hours() / 24
	if fraction < 0.01 {
		fraction = 0.01
	}
	projected := total / fraction

	recent := make([]DayUsage, 0, len(t.days))
	for _, day := range t.days {
		recent = append(recent, *day)
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Date > recent[j].Date })
	if len(recent) > 7 {
		recent = recent[:7]
	}

	out := map[string]any{
		"date":              key,
		"spent_usd":         total,
		"calls":             calls,
		"by_category":       byCategory,
		"projected_eod_usd": projected,
		"recent_days":       recent,
	}
	if t.limitUSD > 0 {
		remaining := t.limitUSD - total
		if remaining < 0 {
			remaining = 0
		}
		out["daily_limit_usd"] = t.limitUSD
		out["remaining_usd"] = remaining
		out["over_budget"] = total >= t.limitUSD
		out["projected_over"] = projected >= t.limitUSD
	}
	return out
}

func (t *Tracker) persist() {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	days := make(map[string]*DayUsage, len(t.days))
	for k, day := range t.days {
		copied := *day
		copied.ByCategory = make(map[string]float64, len(day.ByCategory))
		for c, v := range day.ByCategory {
			copied.ByCategory[c] = v
		}
		days[k] = &copied
	}
	f := budgetFile{Days: days, UpdatedAt: t.now().UTC()}
	t.mu.Unlock()
	if err := storage.WriteJSONAtomic(t.path, &f); err != nil {
		t.log.Warn("budget write failed", zap.Error(err))
	}
}
