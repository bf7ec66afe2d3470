package core

import (
	"context"
	"time"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// trustWindow is how many recent actions feed the success rate.
const trustWindow = 50

// Snapshot captures the current health of the platform. Experiment runs
// record it before and after execution; the verifier judges the deltas.
// The score and issue count come from the self debugger, the success rate
// from recent action results, and the throughput from proposal creation
// over the trailing 24 hours.
func (s *System) Snapshot(ctx context.Context) storage.HealthSnapshot {
	report := s.debug.HealthReport()
	trust := s.actions.Trust(trustWindow)

	successRate := report.Session.SuccessRate
	if trust.SampleSize > 0 {
		successRate = trust.ObjectiveSuccessRate
	}

	return storage.HealthSnapshot{
		HealthScore:        report.HealthScore,
		OpenIssues:         report.OpenIssues,
		TotalErrors:        report.Session.Errors,
		AvgDurationMs:      report.Session.AvgDurationMs,
		SuccessRate:        successRate,
		ProposalThroughput: int(s.proposalThroughput(24 * time.Hour)),
		CapturedAt:         time.Now().UTC(),
	}
}

// proposalThroughput counts proposals created within the window.
func (s *System) proposalThroughput(window time.Duration) float64 {
	cutoff := time.Now().UTC().Add(-window)
	pf := s.store.LoadProposals()
	n := 0
	for i := range pf.Proposals {
		if pf.Proposals[i].CreatedAt.After(cutoff) {
			n++
		}
	}
	return float64(n)
}
