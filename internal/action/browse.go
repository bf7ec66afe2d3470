package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theanh97/nexus-nuance-sub001/internal/browser"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
)

// BrowserOptions configure the browser category handlers.
type BrowserOptions struct {
	Manager       *browser.Manager
	Gate          *policy.Gate
	ScreenshotDir string
}

type browserActions struct {
	mgr           *browser.Manager
	gate          *policy.Gate
	resolve       func(string) string
	screenshotDir string
}

// RegisterBrowserActions wires open_browser, navigate_url and
// take_screenshot.
func RegisterBrowserActions(e *Executor, opts BrowserOptions) {
	ba := &browserActions{
		mgr:           opts.Manager,
		gate:          opts.Gate,
		resolve:       e.ResolvePath,
		screenshotDir: opts.ScreenshotDir,
	}
	if ba.screenshotDir == "" {
		ba.screenshotDir = filepath.Join(e.ProjectRoot(), "workspace")
	}
	e.Register("open_browser", ba.openBrowser)
	e.Register("navigate_url", ba.navigateURL)
	e.Register("take_screenshot", ba.takeScreenshot)
}

func (ba *browserActions) openBrowser(ctx context.Context, p Params) (Output, error) {
	if ba.mgr == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "open_browser: browser manager not wired")
	}
	target := p.String("url")
	if target != "" {
		if err := checkURL(target); err != nil {
			return Output{}, err
		}
	}
	sess, err := ba.mgr.Open(ctx, target)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindTransient, "open_browser", err)
	}
	return Output{
		Text:      fmt.Sprintf("opened session %s", sess.ID),
		Data:      map[string]any{"session_id": sess.ID, "url": sess.URL, "title": sess.Title},
		Objective: objective(true),
	}, nil
}

func (ba *browserActions) navigateURL(ctx context.Context, p Params) (Output, error) {
	if ba.mgr == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "navigate_url: browser manager not wired")
	}
	target := p.String("url")
	if err := checkURL(target); err != nil {
		return Output{}, err
	}
	sess, err := ba.mgr.Navigate(ctx, p.String("session_id"), target)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindTransient, "navigate_url", err)
	}
	return Output{
		Text:      fmt.Sprintf("%s (%s)", sess.Title, sess.URL),
		Data:      map[string]any{"session_id": sess.ID, "url": sess.URL, "title": sess.Title},
		Objective: objective(sess.Title != "" || sess.URL != ""),
	}, nil
}

func (ba *browserActions) takeScreenshot(ctx context.Context, p Params) (Output, error) {
	if ba.mgr == nil {
		return Output{}, nexuserr.New(nexuserr.KindInternal, "take_screenshot: browser manager not wired")
	}
	path := p.String("path")
	if path == "" {
		path = filepath.Join(ba.screenshotDir, fmt.Sprintf("screenshot_%s.png", time.Now().UTC().Format("20060102_150405")))
	} else {
		path = ba.resolve(path)
		if !strings.HasSuffix(strings.ToLower(path), ".png") {
			path += ".png"
		}
	}
	if d := ba.gate.CheckPath(path, "take_screenshot"); !d.Allowed {
		return Output{}, nexuserr.New(nexuserr.KindPolicyDenied, d.Reason)
	}

	data, err := ba.mgr.Screenshot(ctx, p.String("session_id"), p.Bool("full_page", false))
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindTransient, "take_screenshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "take_screenshot: create dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "take_screenshot: write", err)
	}
	return Output{
		Text:      fmt.Sprintf("saved screenshot to %s (%d bytes)", path, len(data)),
		Data:      map[string]any{"path": path, "bytes": len(data)},
		Objective: objective(len(data) > 0),
	}, nil
}
