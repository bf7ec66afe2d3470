// Package proposal turns scored learning events into improvement proposals
// and owns their lifecycle. Status transitions are strictly forward:
// pending_approval -> approved -> executed -> verified | rejected.
package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/cafe"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Rationale phrases proposal text. Implementations may consult an LLM; the
// engine falls back to its own template when nil or on error.
type Rationale interface {
	ProposalText(ctx context.Context, ev storage.LearningEvent) (hypothesis, impact string, err error)
}

// Options hold the generation thresholds.
type Options struct {
	CreateThreshold      float64
	AutoApproveThreshold float64
	AllowBlocked         bool
}

// Engine generates and advances v2 proposals backed by the typed store.
type Engine struct {
	store   *storage.Store
	scorer  *cafe.Scorer
	advisor Rationale
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine builds the engine. advisor may be nil.
func NewEngine(store *storage.Store, scorer *cafe.Scorer, advisor Rationale, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:   store,
		scorer:  scorer,
		advisor: advisor,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Signature content-addresses an event so duplicate signals collapse onto
// one active proposal.
func Signature(ev storage.LearningEvent) string {
	content := ev.Content
	if len(content) > 160 {
		content = content[:160]
	}
	sum := sha256.Sum256([]byte(ev.EventType + ev.Source + content))
	return hex.EncodeToString(sum[:])[:16]
}

// Priority blends the event tuple into a single urgency in [0,1].
func Priority(ev storage.LearningEvent) float64 {
	p := 0.40*ev.Value + 0.25*ev.Novelty + 0.20*ev.Confidence - 0.15*ev.Risk
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// RiskLevel buckets a numeric risk.
func RiskLevel(risk float64) string {
	switch {
	case risk >= 0.75:
		return storage.RiskHigh
	case risk >= 0.45:
		return storage.RiskMedium
	default:
		return storage.RiskLow
	}
}

// GenerateFromEvents converts up to limit events into new proposals.
// Non-production events are skipped unless includeNonProduction is set.
func (e *Engine) GenerateFromEvents(ctx context.Context, events []storage.LearningEvent, limit int, includeNonProduction bool) ([]storage.ProposalV2, error) {
	if limit <= 0 {
		limit = 3
	}
	var created []storage.ProposalV2
	err := e.store.UpdateProposals(func(pf *storage.ProposalsFile) error {
		active := activeSignatures(pf.Proposals)
		for _, ev := range events {
			if len(created) >= limit {
				break
			}
			if ev.Stream == storage.StreamNonProduction && !includeNonProduction {
				continue
			}
			res := ev.CAFE
			if res == nil {
				scored := e.scorer.ScoreEvent(ev)
				res = &scored
			}
			if res.Blocked && !e.opts.AllowBlocked {
				e.log.Debug("event blocked by cafe, skipping proposal",
					zap.String("event_id", ev.ID),
					zap.Strings("reasons", res.Reasons))
				continue
			}
			priority := Priority(ev)
			if priority < e.opts.CreateThreshold {
				continue
			}
			sig := Signature(ev)
			if active[sig] {
				continue
			}

			p := e.build(ctx, ev, priority, sig, res)
			pf.Proposals = append(pf.Proposals, p)
			pf.Pending = append(pf.Pending, p.ID)
			active[sig] = true
			created = append(created, p)

			e.log.Info("proposal created",
				zap.String("id", p.ID),
				zap.String("title", p.Title),
				zap.Float64("priority", p.Priority),
				zap.String("risk_level", p.RiskLevel),
				zap.String("status", p.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) build(ctx context.Context, ev storage.LearningEvent, priority float64, sig string, res *storage.CAFEResult) storage.ProposalV2 {
	now := e.now().UTC()
	hypothesis, impact := e.rationale(ctx, ev)

	p := storage.ProposalV2{
		ID:             "prop_" + uuid.NewString()[:8],
		CreatedAt:      now,
		OriginEventIDs: []string{ev.ID},
		Title:          eventTitle(ev),
		Hypothesis:     hypothesis,
		PlanSteps:      planSteps(ev),
		ExpectedImpact: impact,
		RiskLevel:      RiskLevel(ev.Risk),
		Status:         storage.ProposalPendingApproval,
		Confidence:     res.Confidence,
		Priority:       priority,
		Signature:      sig,
	}
	meta := map[string]any{}
	if ev.Model != "" {
		meta["model"] = ev.Model
	}
	if priority >= e.opts.AutoApproveThreshold && p.RiskLevel != storage.RiskHigh {
		p.Status = storage.ProposalApproved
		p.ApprovedAt = &now
		meta["auto_approved"] = true
	}
	if len(meta) > 0 {
		p.Metadata = meta
	}
	return p
}

func (e *Engine) rationale(ctx context.Context, ev storage.LearningEvent) (string, string) {
	if e.advisor != nil {
		hypothesis, impact, err := e.advisor.ProposalText(ctx, ev)
		if err == nil && hypothesis != "" {
			return hypothesis, impact
		}
		if err != nil {
			e.log.Warn("advisor rationale failed, using template", zap.Error(err))
		}
	}
	hypothesis := ev.Hypothesis
	if hypothesis == "" {
		hypothesis = fmt.Sprintf("Applying the %s signal from %s should improve outcomes in its focus area.", ev.EventType, ev.Source)
	}
	impact := fmt.Sprintf("Expected value %.2f at risk %.2f based on source confidence %.2f.", ev.Value, ev.Risk, ev.Confidence)
	return hypothesis, impact
}

func eventTitle(ev storage.LearningEvent) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = strings.TrimSpace(ev.Content)
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
	}
	if len(title) > 120 {
		title = title[:120]
	}
	if title == "" {
		title = "Improvement from " + ev.Source
	}
	return title
}

func planSteps(ev storage.LearningEvent) []string {
	return []string{
		fmt.Sprintf("Review the %s signal from %s", ev.EventType, ev.Source),
		"Draft the smallest change that captures the improvement",
		"Run a verification cycle and compare health metrics against baseline",
	}
}

func activeSignatures(proposals []storage.ProposalV2) map[string]bool {
	sigs := make(map[string]bool, len(proposals))
	for i := range proposals {
		if !proposals[i].Terminal() {
			sigs[proposals[i].Signature] = true
		}
	}
	return sigs
}

// AutoApproveSafe promotes up to limit pending proposals that clear
// minPriority and are not high risk. Returns the number approved.
func (e *Engine) AutoApproveSafe(limit int, minPriority float64) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	approved := 0
	err := e.store.UpdateProposals(func(pf *storage.ProposalsFile) error {
		now := e.now().UTC()
		for i := range pf.Proposals {
			if approved >= limit {
				break
			}
			p := &pf.Proposals[i]
			if p.Status != storage.ProposalPendingApproval {
				continue
			}
			if p.Priority < minPriority || p.RiskLevel == storage.RiskHigh {
				continue
			}
			p.Status = storage.ProposalApproved
			t := now
			p.ApprovedAt = &t
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			p.Metadata["auto_approved_safe"] = true
			approved++
			e.log.Info("proposal auto-approved",
				zap.String("id", p.ID),
				zap.Float64("priority", p.Priority))
		}
		return nil
	})
	return approved, err
}

var statusRank = map[string]int{
	storage.ProposalPendingApproval: 0,
	storage.ProposalApproved:        1,
	storage.ProposalExecuted:        2,
	storage.ProposalVerified:        3,
	storage.ProposalRejected:        3,
}

// MarkStatus advances a proposal. Backward or repeated transitions are
// validation errors; extra keys merge into the proposal metadata. Leaving
// pending_approval/approved also removes the id from the pending list.
func (e *Engine) MarkStatus(id, status string, extra map[string]any) error {
	newRank, ok := statusRank[status]
	if !ok {
		return nexuserr.Newf(nexuserr.KindValidation, "unknown proposal status %q", status)
	}
	return e.store.UpdateProposals(func(pf *storage.ProposalsFile) error {
		idx := -1
		for i := range pf.Proposals {
			if pf.Proposals[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nexuserr.Newf(nexuserr.KindNotFound, "proposal %s not found", id)
		}
		p := &pf.Proposals[idx]
		if p.Terminal() || newRank <= statusRank[p.Status] {
			return nexuserr.Newf(nexuserr.KindValidation, "proposal %s cannot move %s -> %s", id, p.Status, status)
		}
		prev := p.Status
		p.Status = status
		if status == storage.ProposalApproved {
			t := e.now().UTC()
			p.ApprovedAt = &t
		}
		if len(extra) > 0 {
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			for k, v := range extra {
				p.Metadata[k] = v
			}
		}
		if status != storage.ProposalApproved {
			pf.Pending = removeID(pf.Pending, id)
		}
		e.log.Info("proposal status changed",
			zap.String("id", id),
			zap.String("from", prev),
			zap.String("to", status))
		return nil
	})
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Annotate merges keys into a proposal's metadata without touching its
// status. Guardrails use it to flag terminal proposals.
func (e *Engine) Annotate(id string, extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}
	return e.store.UpdateProposals(func(pf *storage.ProposalsFile) error {
		for i := range pf.Proposals {
			if pf.Proposals[i].ID != id {
				continue
			}
			p := &pf.Proposals[i]
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			for k, v := range extra {
				p.Metadata[k] = v
			}
			return nil
		}
		return nexuserr.Newf(nexuserr.KindNotFound, "proposal %s not found", id)
	})
}

// Get returns the proposal with the given id.
func (e *Engine) Get(id string) (storage.ProposalV2, bool) {
	pf := e.store.LoadProposals()
	for i := range pf.Proposals {
		if pf.Proposals[i].ID == id {
			return pf.Proposals[i], true
		}
	}
	return storage.ProposalV2{}, false
}

// Approved returns up to limit actionable proposals, highest priority first.
func (e *Engine) Approved(limit int) []storage.ProposalV2 {
	pf := e.store.LoadProposals()
	var out []storage.ProposalV2
	for i := range pf.Proposals {
		if pf.Proposals[i].Status == storage.ProposalApproved {
			out = append(out, pf.Proposals[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Active returns all non-terminal proposals.
func (e *Engine) Active() []storage.ProposalV2 {
	pf := e.store.LoadProposals()
	var out []storage.ProposalV2
	for i := range pf.Proposals {
		if !pf.Proposals[i].Terminal() {
			out = append(out, pf.Proposals[i])
		}
	}
	return out
}

// Stats summarizes proposal counts by status.
func (e *Engine) Stats() map[string]any {
	pf := e.store.LoadProposals()
	byStatus := map[string]int{}
	for i := range pf.Proposals {
		byStatus[pf.Proposals[i].Status]++
	}
	return map[string]any{
		"total":      len(pf.Proposals),
		"pending":    len(pf.Pending),
		"by_status":  byStatus,
		"updated_at": pf.UpdatedAt,
	}
}
