package action

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

const (
	httpBodyCap       = 1 << 20
	searchEndpoint    = "https://html.duckduckgo.com/html/?q=%s"
	browserUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultMaxResults = 10
	maxSearchResults  = 30
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type httpActions struct {
	client *http.Client
}

// RegisterHTTPActions wires http_get, http_post and web_search.
func RegisterHTTPActions(e *Executor, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ha := &httpActions{client: client}
	e.Register("http_get", ha.httpGet)
	e.Register("http_post", ha.httpPost)
	e.Register("web_search", ha.webSearch)
}

func (ha *httpActions) httpGet(ctx context.Context, p Params) (Output, error) {
	target := p.String("url")
	if err := checkURL(target); err != nil {
		return Output{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindValidation, "http_get", err)
	}
	applyHeaders(req, p.StringMap("headers"))
	return ha.do(req, target)
}

func (ha *httpActions) httpPost(ctx context.Context, p Params) (Output, error) {
	target := p.String("url")
	if err := checkURL(target); err != nil {
		return Output{}, err
	}
	body := p.String("body")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindValidation, "http_post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, p.StringMap("headers"))
	return ha.do(req, target)
}

func (ha *httpActions) do(req *http.Request, target string) (Output, error) {
	resp, err := ha.client.Do(req)
	if err != nil {
		if req.Context().Err() == context.DeadlineExceeded {
			return Output{}, nexuserr.Wrap(nexuserr.KindTimeout, "request deadline exceeded", err)
		}
		return Output{}, nexuserr.Wrap(nexuserr.KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyCap))
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindTransient, "read response", err)
	}
	out := Output{
		Text: string(body),
		Data: map[string]any{
			"url":          target,
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"bytes":        len(body),
		},
		Objective: objective(resp.StatusCode >= 200 && resp.StatusCode < 400),
	}
	return out, nil
}

func (ha *httpActions) webSearch(ctx context.Context, p Params) (Output, error) {
	query := p.String("query")
	if strings.TrimSpace(query) == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "web_search: query must be non-empty")
	}
	maxResults := p.Int("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	results, err := ha.searchDuckDuckGo(ctx, query, maxResults)
	if err != nil {
		return Output{}, err
	}
	if len(results) == 0 {
		return Output{
			Text:      "No results found for: " + query,
			Data:      map[string]any{"query": query, "results": []SearchResult{}},
			Objective: objective(false),
		}, nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return Output{
		Text:      sb.String(),
		Data:      map[string]any{"query": query, "results": results},
		Objective: objective(true),
	}, nil
}

func (ha *httpActions) searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf(searchEndpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "web_search", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := ha.client.Do(req)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindTransient, "web_search request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nexuserr.Newf(nexuserr.KindTransient, "web_search: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyCap))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindTransient, "web_search read response", err)
	}
	return parseSearchResults(string(body), maxResults)
}

// parseSearchResults extracts hits from the DuckDuckGo HTML page. Result rows
// carry class="result results_links ..." with result__a and result__snippet
// anchors inside.
func parseSearchResults(page string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindTransient, "web_search parse page", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			cls := attrValue(n, "class")
			if strings.Contains(cls, "result") && strings.Contains(cls, "results_links") {
				if r := extractSearchResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractSearchResult(n *html.Node) SearchResult {
	var result SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			cls := attrValue(n, "class")
			if strings.Contains(cls, "result__a") {
				result.URL = attrValue(n, "href")
				result.Title = textContent(n)
			} else if strings.Contains(cls, "result__snippet") {
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	result.URL = decodeRedirect(result.URL)
	return result
}

// decodeRedirect unwraps DuckDuckGo's uddg= redirect URLs.
func decodeRedirect(raw string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(raw, prefix) {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func checkURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nexuserr.New(nexuserr.KindValidation, "url must be non-empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nexuserr.Wrap(nexuserr.KindValidation, "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nexuserr.Newf(nexuserr.KindValidation, "unsupported url scheme %q", u.Scheme)
	}
	return nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
