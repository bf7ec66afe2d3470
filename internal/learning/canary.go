package learning

import (
	"time"

	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// modeDecision is the canary guardrail's answer for one proposal.
type modeDecision struct {
	Mode   string
	Reason string
}

// canaryGuard decides whether an experiment run may leave safe mode. Every
// condition of the guardrail must hold; the first miss wins the reason.
type canaryGuard struct {
	cfg         config.CanaryConfig
	modeDefault string
	realApply   bool
	normalRuns  func(cutoff time.Time) int
	now         func() time.Time
}

func (g *canaryGuard) decide(p storage.ProposalV2, cooldownUntil *time.Time) modeDecision {
	safe := func(reason string) modeDecision {
		return modeDecision{Mode: storage.ModeSafe, Reason: reason}
	}
	if g.modeDefault != storage.ModeNormal {
		return safe("default_mode_safe")
	}
	if !g.cfg.Enabled {
		return safe("canary_disabled")
	}
	if !g.realApply {
		return safe("real_apply_disabled")
	}
	now := g.now().UTC()
	if cooldownUntil != nil && now.Before(*cooldownUntil) {
		return safe("cooldown_active")
	}
	if g.cfg.MaxPerHour > 0 && g.normalRuns != nil {
		if g.normalRuns(now.Add(-time.Hour)) >= g.cfg.MaxPerHour {
			return safe("hourly_budget_exhausted")
		}
	}
	if !riskAllowed(g.cfg.AllowedRisk, p.RiskLevel) {
		return safe("risk_not_allowed")
	}
	if p.Priority < g.cfg.MinPriority {
		return safe("priority_below_bar")
	}
	return modeDecision{Mode: storage.ModeNormal, Reason: "canary_pass"}
}

func riskAllowed(allowed []string, risk string) bool {
	for _, r := range allowed {
		if r == risk {
			return true
		}
	}
	return false
}
