package learning

import (
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Spaced-repetition bounds. Items that review well double their interval up
// to the cap; items that review poorly start over.
const (
	reviewInitialInterval = 24 * time.Hour
	reviewMaxInterval     = 30 * 24 * time.Hour
	reviewPassQuality     = 0.5
	reviewAddBatch        = 50
)

type reviewEntry struct {
	ItemID        string    `json:"item_id"`
	IntervalHours float64   `json:"interval_hours"`
	NextReviewAt  time.Time `json:"next_review_at"`
	Reviews       int       `json:"reviews"`
	LastQuality   float64   `json:"last_quality"`
}

type reviewFile struct {
	Entries   []reviewEntry `json:"entries"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ReviewSummary reports one pass over the queue.
type ReviewSummary struct {
	Tracked  int `json:"tracked"`
	Added    int `json:"added"`
	Reviewed int `json:"reviewed"`
	Advanced int `json:"advanced"`
	Reset    int `json:"reset"`
	Dropped  int `json:"dropped"`
}

// reviewQueue schedules knowledge items for periodic re-evaluation.
type reviewQueue struct {
	path string
	mem  *memory.Store
	log  *zap.Logger
	now  func() time.Time
}

func newReviewQueue(path string, mem *memory.Store, log *zap.Logger) *reviewQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &reviewQueue{path: path, mem: mem, log: log, now: time.Now}
}

// run reviews due entries, enrols untracked knowledge, and drops entries
// whose items were pruned.
func (q *reviewQueue) run() (ReviewSummary, error) {
	var f reviewFile
	if _, err := storage.ReadJSON(q.path, &f); err != nil {
		return ReviewSummary{}, err
	}
	now := q.now().UTC()

	items := map[string]memory.KnowledgeItem{}
	for _, it := range q.mem.All() {
		items[it.ID] = it
	}
	tracked := map[string]bool{}
	for _, e := range f.Entries {
		tracked[e.ItemID] = true
	}

	var sum ReviewSummary
	kept := f.Entries[:0]
	for _, e := range f.Entries {
		item, alive := items[e.ItemID]
		if !alive {
			sum.Dropped++
			continue
		}
		if !e.NextReviewAt.After(now) {
			quality := reviewQuality(item, now)
			e.Reviews++
			e.LastQuality = quality
			interval := time.Duration(e.IntervalHours * float64(time.Hour))
			if quality >= reviewPassQuality {
				interval *= 2
				if interval > reviewMaxInterval {
					interval = reviewMaxInterval
				}
				sum.Advanced++
			} else {
				interval = reviewInitialInterval
				sum.Reset++
			}
			e.IntervalHours = interval.Hours()
			e.NextReviewAt = now.Add(interval)
			sum.Reviewed++
		}
		kept = append(kept, e)
	}
	f.Entries = kept

	for id := range items {
		if tracked[id] || sum.Added >= reviewAddBatch {
			continue
		}
		f.Entries = append(f.Entries, reviewEntry{
			ItemID:        id,
			IntervalHours: reviewInitialInterval.Hours(),
			NextReviewAt:  now.Add(reviewInitialInterval),
		})
		sum.Added++
	}

	sum.Tracked = len(f.Entries)
	f.UpdatedAt = now
	if err := storage.WriteJSONAtomic(q.path, &f); err != nil {
		return sum, err
	}
	if sum.Reviewed > 0 || sum.Added > 0 {
		q.log.Debug("review pass",
			zap.Int("reviewed", sum.Reviewed),
			zap.Int("advanced", sum.Advanced),
			zap.Int("reset", sum.Reset),
			zap.Int("added", sum.Added))
	}
	return sum, nil
}

// reviewQuality grades how well an item has held up: relevance, whether it
// is ever read, and how fresh it is.
func reviewQuality(item memory.KnowledgeItem, now time.Time) float64 {
	q := 0.5 * item.Relevance
	access := float64(item.AccessCount) / 5
	if access > 1 {
		access = 1
	}
	q += 0.3 * access
	switch age := now.Sub(item.LearnedAt); {
	case age <= 7*24*time.Hour:
		q += 0.2
	case age <= 30*24*time.Hour:
		q += 0.1
	}
	if q > 1 {
		q = 1
	}
	return q
}
