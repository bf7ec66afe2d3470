// Package browser drives a headless Chrome for page verification and
// screenshots. Sessions are incognito pages tracked by ID.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the public metadata for one tracked page.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
}

// DefaultConfig returns headless defaults suited to unattended runs.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1440,
		ViewportHeight:      900,
		NavigationTimeoutMs: 30000,
	}
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1440
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the per-navigation deadline.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Manager owns the Chrome connection and the session table.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	lastID     string
	controlURL string
}

// NewManager builds a manager; Chrome is not launched until first use.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches one. Safe to call again;
// a stale connection is replaced.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
		m.lastID = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}
	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = browser
	m.controlURL = controlURL
	m.log.Info("browser connected", zap.Bool("headless", m.cfg.Headless))
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	started := m.browser != nil
	m.mu.RUnlock()
	if started {
		return nil
	}
	return m.Start(ctx)
}

// Connected reports whether a Chrome connection is live.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the browser.
func (m *Manager) Shutdown(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.sessions {
		if rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
	}
	m.lastID = ""
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// Open creates a new incognito session, optionally navigating to url.
func (m *Manager) Open(ctx context.Context, url string) (Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return Session{}, err
	}

	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return Session{}, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return Session{}, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Session{}, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.viewportWidth(),
		Height:            m.cfg.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("set viewport", zap.Error(err))
	}

	now := time.Now().UTC()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		Status:     "active",
		CreatedAt:  now,
		LastActive: now,
	}
	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.lastID = meta.ID
	m.mu.Unlock()

	if url != "" {
		return m.Navigate(ctx, meta.ID, url)
	}
	return meta, nil
}

// Navigate points a session at url and waits for load. An empty sessionID
// targets the most recent session.
func (m *Manager) Navigate(ctx context.Context, sessionID, url string) (Session, error) {
	page, id, err := m.page(sessionID)
	if err != nil {
		return Session{}, err
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout())
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return Session{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		m.log.Warn("wait load", zap.String("url", url), zap.Error(err))
	}

	title := ""
	if info, err := p.Info(); err == nil {
		title = info.Title
	}

	m.mu.Lock()
	rec := m.sessions[id]
	rec.meta.URL = url
	rec.meta.Title = title
	rec.meta.LastActive = time.Now().UTC()
	meta := rec.meta
	m.mu.Unlock()
	return meta, nil
}

// Screenshot captures the session viewport (or full page) as PNG bytes.
func (m *Manager) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error) {
	page, id, err := m.page(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := page.Context(ctx).Screenshot(fullPage, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	m.touch(id)
	return data, nil
}

// PageText returns the visible text of the session's document body.
func (m *Manager) PageText(ctx context.Context, sessionID string) (string, error) {
	page, id, err := m.page(sessionID)
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	m.touch(id)
	return res.Value.Str(), nil
}

// Close tears down one session.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	delete(m.sessions, sessionID)
	if m.lastID == sessionID {
		m.lastID = ""
		for id := range m.sessions {
			m.lastID = id
			break
		}
	}
	if rec.page != nil {
		return rec.page.Close()
	}
	return nil
}

// List returns metadata for all sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.meta)
	}
	return out
}

func (m *Manager) page(sessionID string) (*rod.Page, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := sessionID
	if id == "" {
		id = m.lastID
	}
	if id == "" {
		return nil, "", errors.New("no browser session open")
	}
	rec, ok := m.sessions[id]
	if !ok {
		return nil, "", fmt.Errorf("unknown session: %s", id)
	}
	return rec.page, id, nil
}

func (m *Manager) touch(sessionID string) {
	m.mu.Lock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.meta.LastActive = time.Now().UTC()
	}
	m.mu.Unlock()
}
