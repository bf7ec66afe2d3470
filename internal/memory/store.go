// Package memory holds the append-only knowledge base: knowledge items,
// learned patterns, raw events, and operator feedback, one JSONL file per
// kind. Knowledge is indexed in memory for search; the files are the truth.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Content and tag bounds applied on learn.
const (
	maxContentBytes = 2048
	maxTags         = 20
	maxTagLen       = 100
)

// KnowledgeItem is one learned fact.
type KnowledgeItem struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	URL          string    `json:"url,omitempty"`
	Relevance    float64   `json:"relevance"`
	LearnedAt    time.Time `json:"learned_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	Tags         []string  `json:"tags,omitempty"`
}

// SearchHit pairs an item with its query score.
type SearchHit struct {
	Item  KnowledgeItem `json:"item"`
	Score float64       `json:"score"`
}

// Paths locates the four JSONL files.
type Paths struct {
	Knowledge string
	Patterns  string
	Events    string
	Feedback  string
}

// Store is the memory store. Knowledge lives in an in-memory map loaded at
// construction; appends go to disk first, then the map.
type Store struct {
	mu        sync.RWMutex
	paths     Paths
	knowledge map[string]*KnowledgeItem
	counts    map[string]int // per-kind appended record counts
	corrupt   int
	log       *zap.Logger
}

// NewStore loads knowledge.jsonl (tolerating corruption) and returns the
// store. Missing files are fine.
func NewStore(paths Paths, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		paths:     paths,
		knowledge: make(map[string]*KnowledgeItem),
		counts:    map[string]int{},
		log:       log,
	}

	raw, skipped, err := storage.TailJSONL(paths.Knowledge, 0)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	items, bad := storage.DecodeLines[KnowledgeItem](raw)
	s.corrupt += skipped + bad
	for i := range items {
		it := items[i]
		s.knowledge[it.ID] = &it
	}
	s.counts["knowledge"] = len(s.knowledge)
	if s.corrupt > 0 {
		log.Warn("skipped malformed knowledge lines", zap.Int("count", s.corrupt))
	}
	return s, nil
}

// LearnInput is the request shape for Learn.
type LearnInput struct {
	Source    string
	Type      string
	Title     string
	Content   string
	URL       string
	Relevance float64
	Tags      []string
}

// Learn appends a new knowledge item and indexes it. Content is capped at
// 2 KB; tags are capped at 20 entries of 100 chars each; relevance is
// clamped to [0,1].
func (s *Store) Learn(in LearnInput) (KnowledgeItem, error) {
	now := time.Now().UTC()
	item := KnowledgeItem{
		ID:           contentID(in.Source, in.Title, now),
		Source:       in.Source,
		Type:         in.Type,
		Title:        in.Title,
		Content:      truncate(in.Content, maxContentBytes),
		URL:          in.URL,
		Relevance:    clamp01(in.Relevance),
		LearnedAt:    now,
		LastAccessed: now,
		Tags:         boundTags(in.Tags),
	}

	if err := storage.AppendJSONL(s.paths.Knowledge, item); err != nil {
		return KnowledgeItem{}, err
	}

	s.mu.Lock()
	s.knowledge[item.ID] = &item
	s.counts["knowledge"]++
	s.mu.Unlock()
	return item, nil
}

// Search ranks knowledge against query. Matching items get their access
// counters bumped in memory.
func (s *Store) Search(query string, limit int) []SearchHit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	hits := make([]SearchHit, 0, 16)
	for _, it := range s.knowledge {
		score := 0.0
		if strings.Contains(strings.ToLower(it.Title), q) {
			score += 0.5
		}
		if strings.Contains(strings.ToLower(it.Content), q) {
			score += 0.3
		}
		for _, tag := range it.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				score += 0.2
				break
			}
		}
		if score == 0 {
			continue
		}
		score += it.Relevance
		it.AccessCount++
		it.LastAccessed = now
		hits = append(hits, SearchHit{Item: *it, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.ID < hits[j].Item.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Get returns one item by id.
func (s *Store) Get(id string) (KnowledgeItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.knowledge[id]
	if !ok {
		return KnowledgeItem{}, false
	}
	return *it, true
}

// All returns a snapshot of every knowledge item (review queue, cleanup).
func (s *Store) All() []KnowledgeItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KnowledgeItem, 0, len(s.knowledge))
	for _, it := range s.knowledge {
		out = append(out, *it)
	}
	return out
}

// RecordPattern appends a learned pattern record.
func (s *Store) RecordPattern(pattern map[string]any) error {
	return s.appendKind("patterns", s.paths.Patterns, pattern)
}

// RecordEvent appends a raw event record.
func (s *Store) RecordEvent(event map[string]any) error {
	return s.appendKind("events", s.paths.Events, event)
}

// RecordFeedback appends operator feedback.
func (s *Store) RecordFeedback(feedback map[string]any) error {
	return s.appendKind("feedback", s.paths.Feedback, feedback)
}

func (s *Store) appendKind(kind, path string, v map[string]any) error {
	if v == nil {
		v = map[string]any{}
	}
	if _, ok := v["ts"]; !ok {
		v["ts"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := storage.AppendJSONL(path, v); err != nil {
		return err
	}
	s.mu.Lock()
	s.counts[kind]++
	s.mu.Unlock()
	return nil
}

// Stats reports per-kind counts and tolerated corruption.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalAccess := 0
	for _, it := range s.knowledge {
		totalAccess += it.AccessCount
	}
	return map[string]any{
		"knowledge_items": len(s.knowledge),
		"patterns":        s.counts["patterns"],
		"events":          s.counts["events"],
		"feedback":        s.counts["feedback"],
		"total_access":    totalAccess,
		"corrupt_lines":   s.corrupt,
	}
}

// CorruptLines reports skipped lines for the metrics snapshot.
func (s *Store) CorruptLines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

// PruneOlderThan removes knowledge older than age with access below
// minAccess, compacting the file atomically. Returns removed count. This is
// the weekly cleanup, not an append; regular writes never rewrite the file.
func (s *Store) PruneOlderThan(age time.Duration, minAccess int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	kept := make([]*KnowledgeItem, 0, len(s.knowledge))
	removed := 0
	for _, it := range s.knowledge {
		if it.LearnedAt.Before(cutoff) && it.AccessCount < minAccess {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	if removed == 0 {
		return 0, nil
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].LearnedAt.Before(kept[j].LearnedAt) })

	tmp := s.paths.Knowledge + ".compact"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}
	for _, it := range kept {
		line, err := jsonLine(it)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, err
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("compact write: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("compact sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, s.paths.Knowledge); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("compact rename: %w", err)
	}

	rebuilt := make(map[string]*KnowledgeItem, len(kept))
	for _, it := range kept {
		rebuilt[it.ID] = it
	}
	s.knowledge = rebuilt
	s.counts["knowledge"] = len(rebuilt)
	s.log.Info("pruned knowledge", zap.Int("removed", removed))
	return removed, nil
}

func contentID(source, title string, t time.Time) string {
	h := sha256.Sum256([]byte(source + "|" + title + "|" + t.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])[:16]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func boundTags(tags []string) []string {
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if len(t) > maxTagLen {
			t = t[:maxTagLen]
		}
		out = append(out, t)
	}
	return out
}

func jsonLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
