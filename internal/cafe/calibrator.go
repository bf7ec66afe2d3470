package cafe

import (
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// CalibratorOptions bound how far and how fast biases move.
type CalibratorOptions struct {
	MinSamples  int
	BiasScale   float64
	BiasCap     float64
	BlendFactor float64
	StatePath   string
}

// DefaultCalibratorOptions mirror the shipped configuration.
func DefaultCalibratorOptions() CalibratorOptions {
	return CalibratorOptions{
		MinSamples:  5,
		BiasScale:   0.10,
		BiasCap:     0.05,
		BlendFactor: 0.3,
	}
}

type calibrationState struct {
	Biases    map[string]float64 `json:"biases"`
	Samples   map[string]int     `json:"samples,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// FamilyStats is the per-family aggregate of one calibration pass.
type FamilyStats struct {
	Family       string  `json:"family"`
	Samples      int     `json:"samples"`
	WinRate      float64 `json:"win_rate"`
	LossRate     float64 `json:"loss_rate"`
	Inconclusive float64 `json:"inconclusive_rate"`
	TargetBias   float64 `json:"target_bias"`
	NewBias      float64 `json:"new_bias"`
}

// Calibrator aggregates recent evidence into per-family confidence biases
// and pushes them into the live scorer.
type Calibrator struct {
	scorer *Scorer
	opts   CalibratorOptions
	log    *zap.Logger
}

// NewCalibrator restores persisted biases into the scorer when state exists.
func NewCalibrator(scorer *Scorer, opts CalibratorOptions, log *zap.Logger) (*Calibrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultCalibratorOptions().MinSamples
	}
	if opts.BlendFactor <= 0 || opts.BlendFactor > 1 {
		opts.BlendFactor = DefaultCalibratorOptions().BlendFactor
	}
	c := &Calibrator{scorer: scorer, opts: opts, log: log}

	if opts.StatePath != "" {
		var state calibrationState
		found, err := storage.ReadJSON(opts.StatePath, &state)
		if err != nil {
			return nil, err
		}
		if found {
			for fam, bias := range state.Biases {
				scorer.SetBias(fam, bias)
			}
		}
	}
	return c, nil
}

// Calibrate aggregates the evidence, updates the scorer, and persists state.
// Families with fewer than MinSamples records keep their previous bias.
func (c *Calibrator) Calibrate(evidence []storage.OutcomeEvidence) ([]FamilyStats, error) {
	type tally struct{ wins, losses, inconclusive, total int }
	byFamily := make(map[string]*tally)
	for _, ev := range evidence {
		fam := ModelFamily(ev.Model)
		t, ok := byFamily[fam]
		if !ok {
			t = &tally{}
			byFamily[fam] = t
		}
		t.total++
		switch ev.Verdict {
		case storage.VerdictWin:
			t.wins++
		case storage.VerdictLoss:
			t.losses++
		default:
			t.inconclusive++
		}
	}

	var updated []FamilyStats
	samples := map[string]int{}
	for fam, t := range byFamily {
		samples[fam] = t.total
		if t.total < c.opts.MinSamples {
			continue
		}
		n := float64(t.total)
		winRate := float64(t.wins) / n
		lossRate := float64(t.losses) / n
		inconclusiveRate := float64(t.inconclusive) / n

		target := (winRate - lossRate - 0.5*inconclusiveRate) * c.opts.BiasScale
		target = clampAbs(target, c.opts.BiasCap)

		prev := c.scorer.Biases()[fam]
		next := (1-c.opts.BlendFactor)*prev + c.opts.BlendFactor*target
		c.scorer.SetBias(fam, next)

		updated = append(updated, FamilyStats{
			Family:       fam,
			Samples:      t.total,
			WinRate:      winRate,
			LossRate:     lossRate,
			Inconclusive: inconclusiveRate,
			TargetBias:   target,
			NewBias:      next,
		})
		c.log.Info("calibrated model family bias",
			zap.String("family", fam),
			zap.Int("samples", t.total),
			zap.Float64("target", target),
			zap.Float64("bias", next))
	}

	if c.opts.StatePath != "" {
		state := calibrationState{
			Biases:    c.scorer.Biases(),
			Samples:   samples,
			UpdatedAt: time.Now().UTC(),
		}
		if err := storage.WriteJSONAtomic(c.opts.StatePath, state); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func clampAbs(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}
