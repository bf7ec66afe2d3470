// Package scout periodically pulls from registered knowledge sources, scores
// what it finds, and feeds the best items into memory as raw material for
// learning events.
package scout

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Source categories.
const (
	CategoryTechnology = "technology"
	CategoryAIML       = "ai_ml"
	CategoryBusiness   = "business"
	CategoryScience    = "science"
	CategoryDevtools   = "devtools"
	CategoryProduct    = "product"
)

const fetchBodyLimit = 1 << 20

// Source is one registered knowledge source and its scan bookkeeping.
type Source struct {
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	Category        string    `json:"category"`
	ParserType      string    `json:"parser_type"`
	Enabled         bool      `json:"enabled"`
	ScanIntervalMin int       `json:"scan_interval_minutes"`
	LastScanned     time.Time `json:"last_scanned,omitempty"`
	TotalFindings   int       `json:"total_findings"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorAt     time.Time `json:"last_error_at,omitempty"`
}

type sourcesFile struct {
	Sources   []Source  `json:"sources"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Forwarder receives the best findings of a scan. *memory.Store satisfies it.
type Forwarder interface {
	Learn(in memory.LearnInput) (memory.KnowledgeItem, error)
}

// QualityJudge optionally second-opinions a source's quality in [0,1].
type QualityJudge interface {
	JudgeSourceQuality(ctx context.Context, src Source) (float64, error)
}

// Options tune fetching and forwarding.
type Options struct {
	MaxWorkers     int
	FetchTimeout   time.Duration
	MinScore       float64
	ForwardTop     int
	RequestsPerSec float64
	UserAgent      string
	SourcesPath    string
	FindingsPath   string
}

// DefaultOptions mirror the shipped configuration.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:     5,
		FetchTimeout:   20 * time.Second,
		MinScore:       6.0,
		ForwardTop:     3,
		RequestsPerSec: 4,
		UserAgent:      "nexus-scout/1.0",
	}
}

// ScanReport aggregates one ScanAll pass.
type ScanReport struct {
	Findings    []Finding `json:"findings"`
	Scanned     int       `json:"scanned"`
	Skipped     int       `json:"skipped"`
	Unavailable int       `json:"unavailable"`
	Forwarded   int       `json:"forwarded"`
	DurationMs  int64     `json:"duration_ms"`
}

// Scout owns the source registry and the fetch pipeline.
type Scout struct {
	mu      sync.Mutex
	sources map[string]*Source
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	forward Forwarder
	judge   QualityJudge
	log     *zap.Logger
	now     func() time.Time

	watcher *sourceWatcher

	totalScans        int
	totalFindings     int
	totalUnavailable  int
	lastScanStartedAt time.Time
}

// New loads the registry from SourcesPath, seeding and persisting the
// defaults when the file does not exist yet.
func New(opts Options, forward Forwarder, judge QualityJudge, log *zap.Logger) (*Scout, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = def.MaxWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.ForwardTop <= 0 {
		opts.ForwardTop = def.ForwardTop
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = def.RequestsPerSec
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	s := &Scout{
		sources: make(map[string]*Source),
		client:  &http.Client{Timeout: opts.FetchTimeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), int(math.Max(1, opts.RequestsPerSec))),
		opts:    opts,
		forward: forward,
		judge:   judge,
		log:     log,
		now:     time.Now,
	}

	if opts.SourcesPath != "" {
		var f sourcesFile
		found, err := storage.ReadJSON(opts.SourcesPath, &f)
		if err != nil {
			return nil, err
		}
		if found {
			for i := range f.Sources {
				src := f.Sources[i]
				s.sources[src.Name] = &src
			}
			return s, nil
		}
	}
	for _, src := range DefaultSources() {
		cp := src
		s.sources[cp.Name] = &cp
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close stops the watcher and releases idle HTTP connections.
func (s *Scout) Close() {
	s.StopWatch()
	s.client.CloseIdleConnections()
}

// DefaultSources seed the six categories.
func DefaultSources() []Source {
	return []Source{
		{Name: "hacker_news", URL: "https://news.ycombinator.com/", Category: CategoryTechnology, ParserType: ParserHTML, Enabled: true, ScanIntervalMin: 60},
		{Name: "arxiv_cs_ai", URL: "https://rss.arxiv.org/rss/cs.AI", Category: CategoryAIML, ParserType: ParserRSS, Enabled: true, ScanIntervalMin: 360},
		{Name: "techcrunch", URL: "https://techcrunch.com/feed/", Category: CategoryBusiness, ParserType: ParserRSS, Enabled: true, ScanIntervalMin: 120},
		{Name: "nature_news", URL: "https://www.nature.com/nature.rss", Category: CategoryScience, ParserType: ParserRSS, Enabled: true, ScanIntervalMin: 720},
		{Name: "github_blog", URL: "https://github.blog/feed/", Category: CategoryDevtools, ParserType: ParserRSS, Enabled: true, ScanIntervalMin: 360},
		{Name: "dev_to", URL: "https://dev.to/api/articles?per_page=10", Category: CategoryDevtools, ParserType: ParserAPI, Enabled: true, ScanIntervalMin: 120},
		{Name: "product_hunt", URL: "https://www.producthunt.com/feed", Category: CategoryProduct, ParserType: ParserRSS, Enabled: true, ScanIntervalMin: 360},
	}
}

// Register adds or replaces a source.
func (s *Scout) Register(src Source) error {
	if src.Name == "" || src.URL == "" {
		return nexuserr.New(nexuserr.KindValidation, "source needs a name and url")
	}
	switch src.ParserType {
	case ParserHTML, ParserRSS, ParserAPI:
	default:
		return nexuserr.Newf(nexuserr.KindValidation, "unknown parser type %q", src.ParserType)
	}
	s.mu.Lock()
	cp := src
	s.sources[cp.Name] = &cp
	s.mu.Unlock()
	return s.save()
}

// Remove deletes a source from the registry.
func (s *Scout) Remove(name string) error {
	s.mu.Lock()
	if _, ok := s.sources[name]; !ok {
		s.mu.Unlock()
		return nexuserr.Newf(nexuserr.KindNotFound, "source %s not registered", name)
	}
	delete(s.sources, name)
	s.mu.Unlock()
	return s.save()
}

// Sources returns the registry sorted by name.
func (s *Scout) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScanSource scans one source when it is enabled and due. A skipped source
// returns no findings and no error.
func (s *Scout) ScanSource(ctx context.Context, name string) ([]Finding, error) {
	s.mu.Lock()
	src, ok := s.sources[name]
	if !ok {
		s.mu.Unlock()
		return nil, nexuserr.Newf(nexuserr.KindNotFound, "source %s not registered", name)
	}
	snapshot := *src
	s.mu.Unlock()

	if !s.due(snapshot) {
		return nil, nil
	}
	findings, err := s.scanOne(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		s.log.Warn("source registry save failed", zap.Error(err))
	}
	return findings, nil
}

func (s *Scout) due(src Source) bool {
	if !src.Enabled {
		return false
	}
	if src.ScanIntervalMin <= 0 || src.LastScanned.IsZero() {
		return true
	}
	return s.now().Sub(src.LastScanned) >= time.Duration(src.ScanIntervalMin)*time.Minute
}

// scanOne fetches and parses one source. Fetch and parse trouble becomes a
// single unavailable finding; only persistence problems surface as errors.
func (s *Scout) scanOne(ctx context.Context, src Source) ([]Finding, error) {
	now := s.now().UTC()
	findings, fetchErr := s.fetch(ctx, src, now)
	if fetchErr != nil {
		findings = []Finding{{
			ID:        "fnd_unavailable_" + src.Name,
			Source:    src.Name,
			Title:     fmt.Sprintf("source unavailable: %v", fetchErr),
			Type:      FindingUnavailable,
			URL:       src.URL,
			ScannedAt: now,
		}}
	}

	s.mu.Lock()
	if live, ok := s.sources[src.Name]; ok {
		live.LastScanned = now
		if fetchErr != nil {
			live.LastError = fetchErr.Error()
			live.LastErrorAt = now
			s.totalUnavailable++
		} else {
			live.LastError = ""
			live.TotalFindings += len(findings)
			s.totalFindings += len(findings)
		}
		s.totalScans++
	}
	s.mu.Unlock()

	if s.opts.FindingsPath != "" {
		for _, f := range findings {
			if err := storage.AppendJSONL(s.opts.FindingsPath, f); err != nil {
				return findings, err
			}
		}
	}
	if fetchErr != nil {
		s.log.Warn("source unavailable", zap.String("source", src.Name), zap.Error(fetchErr))
	} else {
		s.log.Debug("source scanned", zap.String("source", src.Name), zap.Int("findings", len(findings)))
	}
	return findings, nil
}

func (s *Scout) fetch(ctx context.Context, src Source, now time.Time) ([]Finding, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, err
	}
	return parseFindings(src, body, now)
}

// ScanAll fans out over all due sources with a bounded worker pool and
// forwards the best findings to memory.
func (s *Scout) ScanAll(ctx context.Context) (ScanReport, error) {
	started := s.now()
	s.mu.Lock()
	s.lastScanStartedAt = started.UTC()
	var duesrc []Source
	skipped := 0
	for _, src := range s.sources {
		if s.due(*src) {
			duesrc = append(duesrc, *src)
		} else {
			skipped++
		}
	}
	s.mu.Unlock()

	var (
		aggMu    sync.Mutex
		findings []Finding
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.MaxWorkers)
	for _, src := range duesrc {
		src := src
		eg.Go(func() error {
			fs, err := s.scanOne(gctx, src)
			if err != nil {
				return err
			}
			aggMu.Lock()
			findings = append(findings, fs...)
			aggMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return ScanReport{}, err
	}
	if err := s.save(); err != nil {
		s.log.Warn("source registry save failed", zap.Error(err))
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Relevance > findings[j].Relevance })
	report := ScanReport{
		Findings:   findings,
		Scanned:    len(duesrc),
		Skipped:    skipped,
		DurationMs: s.now().Sub(started).Milliseconds(),
	}
	for _, f := range findings {
		if f.Type == FindingUnavailable {
			report.Unavailable++
		}
	}
	report.Forwarded = s.forwardTop(findings)
	s.log.Info("scan complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("skipped", report.Skipped),
		zap.Int("findings", len(findings)),
		zap.Int("forwarded", report.Forwarded))
	return report, nil
}

func (s *Scout) forwardTop(findings []Finding) int {
	if s.forward == nil {
		return 0
	}
	forwarded := 0
	for _, f := range findings {
		if forwarded >= s.opts.ForwardTop {
			break
		}
		if f.Type == FindingUnavailable || f.Score() < s.opts.MinScore {
			continue
		}
		_, err := s.forward.Learn(memory.LearnInput{
			Source:    "scout:" + f.Source,
			Type:      "scan_finding",
			Title:     f.Title,
			Content:   f.Title,
			URL:       f.URL,
			Relevance: f.Relevance,
			Tags:      []string{"scout", f.Source},
		})
		if err != nil {
			s.log.Warn("finding forward failed", zap.String("finding", f.ID), zap.Error(err))
			continue
		}
		forwarded++
	}
	return forwarded
}

// ScoreSourceQuality rates a source in [0,1] from its scan history, blending
// in the judge's opinion when one is wired.
func (s *Scout) ScoreSourceQuality(ctx context.Context, name string) (float64, error) {
	s.mu.Lock()
	src, ok := s.sources[name]
	if !ok {
		s.mu.Unlock()
		return 0, nexuserr.Newf(nexuserr.KindNotFound, "source %s not registered", name)
	}
	snapshot := *src
	s.mu.Unlock()

	now := s.now()
	score := 0.4
	score += 0.3 * math.Min(1, float64(snapshot.TotalFindings)/50.0)
	if !snapshot.LastScanned.IsZero() {
		switch age := now.Sub(snapshot.LastScanned); {
		case age <= 24*time.Hour:
			score += 0.3
		case age <= 7*24*time.Hour:
			score += 0.15
		}
	}
	if snapshot.LastError != "" && now.Sub(snapshot.LastErrorAt) <= 24*time.Hour {
		score -= 0.3
	}
	score = clamp01(score)

	if s.judge != nil {
		judged, err := s.judge.JudgeSourceQuality(ctx, snapshot)
		if err != nil {
			s.log.Debug("quality judge unavailable", zap.String("source", name), zap.Error(err))
		} else {
			score = (score + clamp01(judged)) / 2
		}
	}
	return score, nil
}

// SourceQualities scores every registered source.
func (s *Scout) SourceQualities(ctx context.Context) map[string]float64 {
	out := map[string]float64{}
	for _, src := range s.Sources() {
		if q, err := s.ScoreSourceQuality(ctx, src.Name); err == nil {
			out[src.Name] = q
		}
	}
	return out
}

// RecentFindings reads back the newest persisted findings.
func (s *Scout) RecentFindings(limit int) ([]Finding, error) {
	if s.opts.FindingsPath == "" {
		return nil, nil
	}
	raw, _, err := storage.TailJSONL(s.opts.FindingsPath, limit)
	if err != nil {
		return nil, err
	}
	findings, _ := storage.DecodeLines[Finding](raw)
	return findings, nil
}

// Stats summarizes scanning activity for reports.
func (s *Scout) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled := 0
	for _, src := range s.sources {
		if src.Enabled {
			enabled++
		}
	}
	return map[string]any{
		"sources":           len(s.sources),
		"sources_enabled":   enabled,
		"total_scans":       s.totalScans,
		"total_findings":    s.totalFindings,
		"total_unavailable": s.totalUnavailable,
		"last_scan_at":      s.lastScanStartedAt,
	}
}

func (s *Scout) save() error {
	if s.opts.SourcesPath == "" {
		return nil
	}
	s.mu.Lock()
	f := sourcesFile{Sources: make([]Source, 0, len(s.sources)), UpdatedAt: s.now().UTC()}
	for _, src := range s.sources {
		f.Sources = append(f.Sources, *src)
	}
	s.mu.Unlock()
	sort.Slice(f.Sources, func(i, j int) bool { return f.Sources[i].Name < f.Sources[j].Name })
	return storage.WriteJSONAtomic(s.opts.SourcesPath, &f)
}

// Reload re-reads the registry file, keeping in-memory scan bookkeeping for
// sources the file does not know better about.
func (s *Scout) Reload() error {
	if s.opts.SourcesPath == "" {
		return nil
	}
	var f sourcesFile
	found, err := storage.ReadJSON(s.opts.SourcesPath, &f)
	if err != nil || !found {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*Source, len(f.Sources))
	for i := range f.Sources {
		incoming := f.Sources[i]
		if existing, ok := s.sources[incoming.Name]; ok {
			if incoming.LastScanned.IsZero() {
				incoming.LastScanned = existing.LastScanned
			}
			if incoming.TotalFindings == 0 {
				incoming.TotalFindings = existing.TotalFindings
			}
			if incoming.LastError == "" {
				incoming.LastError = existing.LastError
				incoming.LastErrorAt = existing.LastErrorAt
			}
		}
		next[incoming.Name] = &incoming
	}
	s.sources = next
	s.log.Info("source registry reloaded", zap.Int("sources", len(next)))
	return nil
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
