package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Governor deduplicates learning events before they reach the proposal
// pipeline and drives TTL pruning of the knowledge base.
type Governor struct {
	window time.Duration
}

// NewGovernor builds a governor with the given dedup window.
func NewGovernor(window time.Duration) *Governor {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Governor{window: window}
}

// EventSignature mirrors the proposal dedup key: event type, source, and
// the first 160 bytes of content.
func EventSignature(ev storage.LearningEvent) string {
	content := ev.Content
	if len(content) > 160 {
		content = content[:160]
	}
	h := sha256.Sum256([]byte(ev.EventType + "|" + ev.Source + "|" + content))
	return hex.EncodeToString(h[:])[:16]
}

// Dedup drops events whose signature already appeared in recent (within the
// window) or earlier in the same batch. Order is preserved.
func (g *Governor) Dedup(events []storage.LearningEvent, recent []storage.LearningEvent) []storage.LearningEvent {
	cutoff := time.Now().UTC().Add(-g.window)
	seen := make(map[string]bool)
	for _, ev := range recent {
		if ev.Timestamp.After(cutoff) {
			seen[EventSignature(ev)] = true
		}
	}

	out := make([]storage.LearningEvent, 0, len(events))
	for _, ev := range events {
		sig := EventSignature(ev)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, ev)
	}
	return out
}
