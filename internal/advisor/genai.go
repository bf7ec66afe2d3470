package advisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Published gemini-2.0-flash pricing per million tokens.
const (
	inputUSDPerMTok  = 0.10
	outputUSDPerMTok = 0.40
)

const defaultModel = "gemini-2.0-flash"

type tokenUsage struct {
	prompt int32
	output int32
}

// textModel is the single LLM call the advisor makes. Tests stub it.
type textModel interface {
	generate(ctx context.Context, prompt string) (string, tokenUsage, error)
}

type genaiModel struct {
	client *genai.Client
	model  string
}

func (m *genaiModel) generate(ctx context.Context, prompt string) (string, tokenUsage, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: 512,
	})
	if err != nil {
		return "", tokenUsage{}, err
	}
	var u tokenUsage
	if resp.UsageMetadata != nil {
		u.prompt = resp.UsageMetadata.PromptTokenCount
		u.output = resp.UsageMetadata.CandidatesTokenCount
	}
	return strings.TrimSpace(resp.Text()), u, nil
}

// GenAI asks Gemini and falls back to the heuristic on any failure, so
// callers never see an advisor error become a missing feature.
type GenAI struct {
	model    string
	llm      textModel
	fallback *Heuristic
	rec      CostRecorder
	timeout  time.Duration
	log      *zap.Logger
}

// NewGenAI dials the Gemini API.
func NewGenAI(ctx context.Context, apiKey, model string, timeout time.Duration, rec CostRecorder, log *zap.Logger) (*GenAI, error) {
	if apiKey == "" {
		return nil, nexuserr.New(nexuserr.KindValidation, "genai advisor needs an api key")
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindTransient, "genai client", err)
	}
	return &GenAI{
		model:    model,
		llm:      &genaiModel{client: client, model: model},
		fallback: NewHeuristic(),
		rec:      rec,
		timeout:  timeout,
		log:      log,
	}, nil
}

// Name identifies the implementation in status output.
func (g *GenAI) Name() string { return "genai:" + g.model }

func (g *GenAI) ask(ctx context.Context, prompt string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	reply, usage, err := g.llm.generate(ctx, prompt)
	if err != nil {
		g.log.Debug("genai call failed", zap.Error(err))
		return "", false
	}
	g.recordCost(prompt, reply, usage)
	return reply, true
}

func (g *GenAI) recordCost(prompt, reply string, u tokenUsage) {
	if g.rec == nil {
		return
	}
	in := float64(u.prompt)
	out := float64(u.output)
	if in == 0 {
		in = float64(len(prompt)) / 4
	}
	if out == 0 {
		out = float64(len(reply)) / 4
	}
	usd := in/1e6*inputUSDPerMTok + out/1e6*outputUSDPerMTok
	g.rec.RecordCost("advisor", usd)
}

// ProposalText asks for a two-line rationale and parses it back out.
func (g *GenAI) ProposalText(ctx context.Context, ev storage.LearningEvent) (string, string, error) {
	prompt := fmt.Sprintf(`You review observations from a self-learning system and phrase improvement proposals.

Observation:
  source: %s
  type: %s
  title: %s
  content: %s
  value=%.2f risk=%.2f confidence=%.2f

Reply with exactly two lines:
HYPOTHESIS: <one sentence, what change should help and why>
IMPACT: <one sentence, the expected measurable effect>`,
		ev.Source, ev.EventType, ev.Title, clip(ev.Content, 800), ev.Value, ev.Risk, ev.Confidence)

	if reply, ok := g.ask(ctx, prompt); ok {
		if hypothesis, impact, parsed := parseRationale(reply); parsed {
			return hypothesis, impact, nil
		}
		g.log.Debug("genai rationale unparseable", zap.String("reply", clip(reply, 200)))
	}
	return g.fallback.ProposalText(ctx, ev)
}

// JudgeSourceQuality asks for a bare 0..1 score.
func (g *GenAI) JudgeSourceQuality(ctx context.Context, src scout.Source) (float64, error) {
	prompt := fmt.Sprintf(`Rate this content source for an engineering knowledge base.

  name: %s
  url: %s
  category: %s
  findings so far: %d
  last error: %s

Reply with a single number between 0 and 1, nothing else.`,
		src.Name, src.URL, src.Category, src.TotalFindings, orNone(src.LastError))

	if reply, ok := g.ask(ctx, prompt); ok {
		if score, parsed := parseScore(reply); parsed {
			return score, nil
		}
		g.log.Debug("genai quality score unparseable", zap.String("reply", clip(reply, 200)))
	}
	return g.fallback.JudgeSourceQuality(ctx, src)
}

// ReflectOnTask asks for a short lesson learned.
func (g *GenAI) ReflectOnTask(ctx context.Context, description string, success bool, errText string) (string, error) {
	outcome := "succeeded"
	if !success {
		outcome = "failed with: " + clip(errText, 300)
	}
	prompt := fmt.Sprintf(`A task in an autonomous agent %s.

Task: %s

Reply with one or two sentences on what to keep or change next time. Plain text only.`,
		outcome, clip(description, 500))

	if reply, ok := g.ask(ctx, prompt); ok && reply != "" {
		return clip(reply, 500), nil
	}
	return g.fallback.ReflectOnTask(ctx, description, success, errText)
}

func parseRationale(reply string) (string, string, bool) {
	var hypothesis, impact string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "HYPOTHESIS:"):
			hypothesis = strings.TrimSpace(line[len("HYPOTHESIS:"):])
		case strings.HasPrefix(upper, "IMPACT:"):
			impact = strings.TrimSpace(line[len("IMPACT:"):])
		}
	}
	return hypothesis, impact, hypothesis != "" && impact != ""
}

func parseScore(reply string) (float64, bool) {
	for _, field := range strings.Fields(reply) {
		field = strings.Trim(field, ",;:")
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return v, true
	}
	return 0, false
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
