// Package cafe scores learning events and run evidence on three channels:
// helpful, harmless and reliability. Scores feed proposal generation; the
// calibrator nudges per-model-family confidence biases from observed verdicts.
package cafe

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Options hold the thresholds and weights, all env-backed via config.
type Options struct {
	ConfMin           float64
	HelpfulMin        float64
	HarmlessMin       float64
	WeightHelpful     float64
	WeightHarmless    float64
	WeightReliability float64
}

// DefaultOptions mirror the shipped configuration.
func DefaultOptions() Options {
	return Options{
		ConfMin:           0.35,
		HelpfulMin:        0.30,
		HarmlessMin:       0.40,
		WeightHelpful:     0.5,
		WeightHarmless:    0.3,
		WeightReliability: 0.2,
	}
}

// modelFamilies are the recognised tokens, checked in order.
var modelFamilies = []string{
	"codex", "gpt", "claude", "sonnet", "opus", "haiku", "gemini", "llama", "mistral",
}

// ModelFamily normalizes a model name to its family token, or "default".
func ModelFamily(model string) string {
	lower := strings.ToLower(model)
	for _, fam := range modelFamilies {
		if strings.Contains(lower, fam) {
			return fam
		}
	}
	return "default"
}

// Scorer is safe for concurrent use; biases mutate under the lock.
type Scorer struct {
	opts Options

	mu     sync.RWMutex
	biases map[string]float64
}

// NewScorer builds a scorer with zero biases.
func NewScorer(opts Options) *Scorer {
	if opts.WeightHelpful == 0 && opts.WeightHarmless == 0 && opts.WeightReliability == 0 {
		def := DefaultOptions()
		opts.WeightHelpful = def.WeightHelpful
		opts.WeightHarmless = def.WeightHarmless
		opts.WeightReliability = def.WeightReliability
	}
	return &Scorer{opts: opts, biases: make(map[string]float64)}
}

// SetBias installs the calibrated bias for a model family.
func (s *Scorer) SetBias(family string, bias float64) {
	s.mu.Lock()
	s.biases[family] = bias
	s.mu.Unlock()
}

// Biases returns a copy of the current bias table.
func (s *Scorer) Biases() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.biases))
	for k, v := range s.biases {
		out[k] = v
	}
	return out
}

// BiasFor looks up the bias for a model name.
func (s *Scorer) BiasFor(model string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.biases[ModelFamily(model)]
}

// ScoreEvent scores a pre-run learning event from its (value, novelty, risk,
// confidence) tuple.
func (s *Scorer) ScoreEvent(ev storage.LearningEvent) storage.CAFEResult {
	value := clamp01(ev.Value)
	novelty := clamp01(ev.Novelty)
	risk := clamp01(ev.Risk)
	confidence := clamp01(ev.Confidence)

	helpfulVariants := []float64{
		value,
		(value + novelty) / 2,
		value*0.7 + confidence*0.3,
	}
	harmlessVariants := []float64{
		1 - risk,
		clamp01(1 - risk*1.1),
		(1-risk)*0.8 + 0.2,
	}
	reliabilityVariants := []float64{
		confidence,
		(confidence + (1 - risk)) / 2,
		1 - math.Abs(value-risk),
	}

	helpful := mean(helpfulVariants)
	harmless := mean(harmlessVariants)
	reliability := mean(reliabilityVariants)

	meanVar := (variance(helpfulVariants) + variance(harmlessVariants) + variance(reliabilityVariants)) / 3
	ensembleConf := clamp01(1 - 2*meanVar)

	bias := s.BiasFor(ev.Model)
	combined := clamp01((confidence+ensembleConf)/2 + bias)

	res := storage.CAFEResult{
		Score:         s.weighted(helpful, harmless, reliability),
		Confidence:    combined,
		Helpful:       helpful,
		Harmless:      harmless,
		Reliability:   reliability,
		ModelConfBias: bias,
	}
	if bias != 0 {
		res.Reasons = append(res.Reasons, fmt.Sprintf("bias_applied:%s", ModelFamily(ev.Model)))
	}
	if combined < s.opts.ConfMin && harmless < s.opts.HarmlessMin {
		res.Blocked = true
		res.Reasons = append(res.Reasons, "low_confidence_and_harm_risk")
	}
	return res
}

// ScoreEvidence scores post-run evidence from its verdict and delta.
func (s *Scorer) ScoreEvidence(ev storage.OutcomeEvidence) storage.CAFEResult {
	helpful := 0.5
	switch ev.Verdict {
	case storage.VerdictWin:
		helpful = 0.8
	case storage.VerdictLoss:
		helpful = 0.2
	}

	harmless := 0.9
	if ev.Delta != nil {
		if drop := -ev.Delta.HealthScore; drop > 0 {
			harmless -= min(0.5, drop/10)
		}
		if ev.Delta.TotalErrors > 0 {
			harmless -= min(0.4, 0.2*float64(ev.Delta.TotalErrors))
		}
	}
	harmless = clamp01(harmless)

	reliability := clamp01(ev.Confidence * 0.8)
	if ev.Verdict != storage.VerdictInconclusive {
		reliability = clamp01(ev.Confidence*0.8 + 0.2)
	}

	bias := s.BiasFor(ev.Model)
	combined := clamp01(ev.Confidence + bias)

	res := storage.CAFEResult{
		Score:         s.weighted(helpful, harmless, reliability),
		Confidence:    combined,
		Helpful:       helpful,
		Harmless:      harmless,
		Reliability:   reliability,
		ModelConfBias: bias,
	}
	if ev.Verdict != "" {
		res.Reasons = append(res.Reasons, "verdict:"+ev.Verdict)
	}
	if combined < s.opts.ConfMin && harmless < s.opts.HarmlessMin {
		res.Blocked = true
		res.Reasons = append(res.Reasons, "low_confidence_and_harm_risk")
	}
	return res
}

func (s *Scorer) weighted(helpful, harmless, reliability float64) float64 {
	return s.opts.WeightHelpful*helpful + s.opts.WeightHarmless*harmless + s.opts.WeightReliability*reliability
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
