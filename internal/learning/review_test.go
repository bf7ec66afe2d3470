package learning

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

func newReviewEnv(t *testing.T) (*reviewQueue, *memory.Store, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	mem, err := memory.NewStore(memory.Paths{
		Knowledge: filepath.Join(dir, "knowledge.json"),
		Patterns:  filepath.Join(dir, "patterns.jsonl"),
		Events:    filepath.Join(dir, "events.jsonl"),
		Feedback:  filepath.Join(dir, "feedback.jsonl"),
	}, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	path := filepath.Join(dir, "review_queue.json")
	q := newReviewQueue(path, mem, nil)
	q.now = clock.Now
	return q, mem, clock, path
}

func learnItem(t *testing.T, mem *memory.Store, title string, relevance float64) memory.KnowledgeItem {
	t.Helper()
	item, err := mem.Learn(memory.LearnInput{
		Source:    "scout",
		Type:      "article",
		Title:     title,
		Content:   "body of " + title,
		Relevance: relevance,
	})
	require.NoError(t, err)
	return item
}

func entryFor(t *testing.T, path, itemID string) reviewEntry {
	t.Helper()
	var f reviewFile
	found, err := storage.ReadJSON(path, &f)
	require.NoError(t, err)
	require.True(t, found)
	for _, e := range f.Entries {
		if e.ItemID == itemID {
			return e
		}
	}
	t.Fatalf("no review entry for %s", itemID)
	return reviewEntry{}
}

func TestReviewEnrolsNewKnowledge(t *testing.T) {
	q, mem, clock, path := newReviewEnv(t)
	a := learnItem(t, mem, "Go scheduler internals", 0.9)
	b := learnItem(t, mem, "Raft snapshotting", 0.8)

	sum, err := q.run()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Added)
	assert.Equal(t, 2, sum.Tracked)
	assert.Zero(t, sum.Reviewed)

	for _, item := range []memory.KnowledgeItem{a, b} {
		e := entryFor(t, path, item.ID)
		assert.InDelta(t, 24, e.IntervalHours, 1e-9)
		assert.WithinDuration(t, clock.Now().UTC().Add(24*time.Hour), e.NextReviewAt, time.Second)
	}
}

func TestReviewDoublesIntervalForGoodItems(t *testing.T) {
	q, mem, clock, path := newReviewEnv(t)
	item := learnItem(t, mem, "Go scheduler internals", 0.9)

	_, err := q.run()
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	sum, err := q.run()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reviewed)
	assert.Equal(t, 1, sum.Advanced)
	assert.Zero(t, sum.Reset)

	e := entryFor(t, path, item.ID)
	assert.InDelta(t, 48, e.IntervalHours, 1e-9)
	assert.Equal(t, 1, e.Reviews)

	clock.Advance(49 * time.Hour)
	sum, err = q.run()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)
	assert.InDelta(t, 96, entryFor(t, path, item.ID).IntervalHours, 1e-9)
}

func TestReviewResetsPoorItems(t *testing.T) {
	q, mem, clock, path := newReviewEnv(t)
	item := learnItem(t, mem, "Stale clickbait", 0.2)

	_, err := q.run()
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	sum, err := q.run()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reviewed)
	assert.Equal(t, 1, sum.Reset)
	assert.Zero(t, sum.Advanced)

	e := entryFor(t, path, item.ID)
	assert.InDelta(t, 24, e.IntervalHours, 1e-9)
	assert.Less(t, e.LastQuality, reviewPassQuality)
}

func TestReviewIntervalCapsAtThirtyDays(t *testing.T) {
	q, mem, clock, path := newReviewEnv(t)
	item := learnItem(t, mem, "Go scheduler internals", 1.0)

	require.NoError(t, storage.WriteJSONAtomic(path, &reviewFile{
		Entries: []reviewEntry{{
			ItemID:        item.ID,
			IntervalHours: 500,
			NextReviewAt:  clock.Now().UTC().Add(-time.Minute),
		}},
	}))

	sum, err := q.run()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)
	assert.InDelta(t, reviewMaxInterval.Hours(), entryFor(t, path, item.ID).IntervalHours, 1e-9)
}

func TestReviewDropsPrunedItems(t *testing.T) {
	q, mem, clock, path := newReviewEnv(t)
	kept := learnItem(t, mem, "Go scheduler internals", 0.9)

	require.NoError(t, storage.WriteJSONAtomic(path, &reviewFile{
		Entries: []reviewEntry{
			{ItemID: "know_gone", IntervalHours: 24, NextReviewAt: clock.Now().UTC().Add(24 * time.Hour)},
			{ItemID: kept.ID, IntervalHours: 24, NextReviewAt: clock.Now().UTC().Add(24 * time.Hour)},
		},
	}))

	sum, err := q.run()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Dropped)
	assert.Equal(t, 1, sum.Tracked)

	var f reviewFile
	_, err = storage.ReadJSON(path, &f)
	require.NoError(t, err)
	require.Len(t, f.Entries, 1)
	assert.Equal(t, kept.ID, f.Entries[0].ItemID)
}

func TestReviewQualityGrading(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	fresh := memory.KnowledgeItem{Relevance: 1.0, AccessCount: 5, LearnedAt: now.Add(-24 * time.Hour)}
	assert.InDelta(t, 1.0, reviewQuality(fresh, now), 1e-9)

	midAge := memory.KnowledgeItem{Relevance: 0.7, AccessCount: 0, LearnedAt: now.Add(-14 * 24 * time.Hour)}
	assert.InDelta(t, 0.45, reviewQuality(midAge, now), 1e-9)

	old := memory.KnowledgeItem{Relevance: 0.8, AccessCount: 0, LearnedAt: now.Add(-40 * 24 * time.Hour)}
	assert.InDelta(t, 0.40, reviewQuality(old, now), 1e-9)

	// Access counts saturate at five reads.
	heavy := memory.KnowledgeItem{Relevance: 0.0, AccessCount: 50, LearnedAt: now.Add(-40 * 24 * time.Hour)}
	assert.InDelta(t, 0.30, reviewQuality(heavy, now), 1e-9)
}
