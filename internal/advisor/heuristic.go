package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Heuristic is the deterministic advisor. It never errs and never blocks.
type Heuristic struct {
	now func() time.Time
}

// NewHeuristic returns the always-available advisor.
func NewHeuristic() *Heuristic {
	return &Heuristic{now: time.Now}
}

// Name identifies the implementation in status output.
func (h *Heuristic) Name() string { return "heuristic" }

// ProposalText phrases a hypothesis and expected impact from the event's own
// numbers.
func (h *Heuristic) ProposalText(_ context.Context, ev storage.LearningEvent) (string, string, error) {
	hypothesis := strings.TrimSpace(ev.Hypothesis)
	if hypothesis == "" {
		subject := strings.TrimSpace(ev.Title)
		if subject == "" {
			subject = ev.EventType
		}
		hypothesis = fmt.Sprintf("Acting on %q from %s should lift the %s signal it was scored under.", subject, ev.Source, ev.Stream)
	}

	tier := "marginal"
	switch {
	case ev.Value >= 0.8:
		tier = "strong"
	case ev.Value >= 0.5:
		tier = "moderate"
	}
	impact := fmt.Sprintf("%s expected gain (value %.2f) against risk %.2f; confidence %.2f.",
		strings.ToUpper(tier[:1])+tier[1:], ev.Value, ev.Risk, ev.Confidence)
	return hypothesis, impact, nil
}

// Category priors for source judgment. Unknown categories sit at the middle.
var categoryPrior = map[string]float64{
	scout.CategoryAIML:       0.80,
	scout.CategoryTechnology: 0.75,
	scout.CategoryDevtools:   0.70,
	scout.CategoryScience:    0.65,
	scout.CategoryBusiness:   0.55,
	scout.CategoryProduct:    0.55,
}

// JudgeSourceQuality scores a source from its category and track record.
func (h *Heuristic) JudgeSourceQuality(_ context.Context, src scout.Source) (float64, error) {
	score, ok := categoryPrior[src.Category]
	if !ok {
		score = 0.5
	}
	if src.TotalFindings > 0 {
		bonus := float64(src.TotalFindings) / 200
		if bonus > 0.15 {
			bonus = 0.15
		}
		score += bonus
	}
	if src.LastError != "" && h.now().Sub(src.LastErrorAt) < 24*time.Hour {
		score -= 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// ReflectOnTask writes a short deterministic reflection.
func (h *Heuristic) ReflectOnTask(_ context.Context, description string, success bool, errText string) (string, error) {
	subject := strings.TrimSpace(description)
	if subject == "" {
		subject = "the task"
	}
	if success {
		return fmt.Sprintf("%s completed; the approach is worth repeating for similar work.", subject), nil
	}
	reason := strings.TrimSpace(errText)
	if reason == "" {
		reason = "an unreported failure"
	}
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return fmt.Sprintf("%s failed with %s; next attempt should address that before retrying the same approach.", subject, reason), nil
}
