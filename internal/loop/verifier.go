package loop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/browser"
)

// PageReader is the slice of the browser manager the verifier needs.
type PageReader interface {
	Connected() bool
	Open(ctx context.Context, url string) (browser.Session, error)
	PageText(ctx context.Context, sessionID string) (string, error)
	Close(sessionID string) error
}

// Verifier checks that URLs render and files exist. A connected browser
// gives the strongest signal; plain HTTP is the fallback.
type Verifier struct {
	pages  PageReader
	client *http.Client
	root   string
	log    *zap.Logger
}

// NewVerifier builds a verifier. pages may be nil; root anchors relative
// file paths.
func NewVerifier(pages PageReader, root string, timeout time.Duration, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Verifier{
		pages:  pages,
		client: &http.Client{Timeout: timeout},
		root:   root,
		log:    log,
	}
}

// VerifyURL loads the page and reports whether it rendered content.
func (v *Verifier) VerifyURL(ctx context.Context, rawURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false, fmt.Sprintf("unsupported url: %s", rawURL)
	}

	if v.pages != nil && v.pages.Connected() {
		if ok, detail := v.verifyWithBrowser(ctx, rawURL); ok {
			return true, detail
		}
		// A failed render falls through to the HTTP probe so a flaky
		// browser never blocks verification outright.
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func (v *Verifier) verifyWithBrowser(ctx context.Context, rawURL string) (bool, string) {
	sess, err := v.pages.Open(ctx, rawURL)
	if err != nil {
		v.log.Debug("browser open failed", zap.String("url", rawURL), zap.Error(err))
		return false, err.Error()
	}
	defer func() {
		if err := v.pages.Close(sess.ID); err != nil {
			v.log.Debug("browser session close failed", zap.Error(err))
		}
	}()
	text, err := v.pages.PageText(ctx, sess.ID)
	if err != nil {
		return false, err.Error()
	}
	if len(text) == 0 {
		return false, "page rendered empty"
	}
	return true, fmt.Sprintf("rendered %d chars", len(text))
}

// VerifyFile reports whether the path exists. Relative paths resolve against
// the verifier root.
func (v *Verifier) VerifyFile(path string) (bool, string) {
	if path == "" {
		return false, "empty path"
	}
	if !filepath.IsAbs(path) && v.root != "" {
		path = filepath.Join(v.root, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err.Error()
	}
	if info.IsDir() {
		return true, "directory exists"
	}
	return true, fmt.Sprintf("file exists (%d bytes)", info.Size())
}

// ReleaseConnections drops idle HTTP connections, for tests and shutdown.
func (v *Verifier) ReleaseConnections() {
	v.client.CloseIdleConnections()
}
