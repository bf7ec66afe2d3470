// Package advisor supplies the optional intelligence layer: proposal
// rationales, source-quality judgments, and task reflections. The heuristic
// advisor is always available; the GenAI advisor layers an LLM on top and
// falls back to the heuristic on any failure.
package advisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Advisor is the full advisory surface. Both implementations satisfy the
// narrower interfaces declared by the proposal engine, the scout, and the
// autonomous loop.
type Advisor interface {
	ProposalText(ctx context.Context, ev storage.LearningEvent) (hypothesis, impact string, err error)
	JudgeSourceQuality(ctx context.Context, src scout.Source) (float64, error)
	ReflectOnTask(ctx context.Context, description string, success bool, errText string) (string, error)
	Name() string
}

// CostRecorder receives estimated spend per advisor call. The budget tracker
// implements it; nil disables accounting.
type CostRecorder interface {
	RecordCost(category string, usd float64)
}

// New picks the advisor for the given config: GenAI when an API key is
// present and the client comes up, heuristic otherwise.
func New(ctx context.Context, cfg config.AdvisorConfig, rec CostRecorder, log *zap.Logger) Advisor {
	if log == nil {
		log = zap.NewNop()
	}
	heuristic := NewHeuristic()
	if cfg.APIKey == "" {
		log.Info("advisor running in heuristic mode")
		return heuristic
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	g, err := NewGenAI(ctx, cfg.APIKey, cfg.Model, timeout, rec, log)
	if err != nil {
		log.Warn("genai advisor unavailable, using heuristic", zap.Error(err))
		return heuristic
	}
	log.Info("advisor running with genai", zap.String("model", g.model))
	return g
}
