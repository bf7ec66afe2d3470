package scout

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// Parser types a source can declare.
const (
	ParserHTML = "html"
	ParserRSS  = "rss"
	ParserAPI  = "api"
)

// Finding types.
const (
	FindingArticle     = "article"
	FindingUnavailable = "unavailable"
)

const maxFindingsPerScan = 20

// Finding is one item extracted from a source scan.
type Finding struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Relevance float64   `json:"relevance"`
	URL       string    `json:"url,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Score maps relevance onto the 0-10 scale the scan policies use.
func (f Finding) Score() float64 { return f.Relevance * 10 }

func parseFindings(src Source, body []byte, now time.Time) ([]Finding, error) {
	switch src.ParserType {
	case ParserHTML:
		return parseHTML(src, body, now)
	case ParserRSS:
		return parseRSS(src, body, now)
	case ParserAPI:
		return parseAPI(src, body, now)
	default:
		return nil, nexuserr.Newf(nexuserr.KindValidation, "source %s has unknown parser %q", src.Name, src.ParserType)
	}
}

// parseHTML walks the document and turns headings into findings.
func parseHTML(src Source, body []byte, now time.Time) ([]Finding, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var findings []Finding
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if len(findings) >= maxFindingsPerScan {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3":
				text := textContent(n)
				if len(text) >= 10 && len(text) <= 200 {
					findings = append(findings, newFinding(src, text, headingLink(n, src.URL), now))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return findings, nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// headingLink returns the href of the first anchor under the heading, or the
// source URL when the heading carries no link.
func headingLink(n *html.Node, fallback string) string {
	var href string
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if href != "" {
			return
		}
		if node.Type == html.ElementNode && node.Data == "a" {
			for _, attr := range node.Attr {
				if attr.Key == "href" && attr.Val != "" {
					href = attr.Val
					return
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	if href == "" {
		return fallback
	}
	return href
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

func parseRSS(src Source, body []byte, now time.Time) ([]Finding, error) {
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, err
	}
	var findings []Finding
	for _, item := range feed.Channel.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		findings = append(findings, newFinding(src, title, item.Link, now))
		if len(findings) >= maxFindingsPerScan {
			break
		}
	}
	return findings, nil
}

// parseAPI accepts either a top-level JSON array of objects or an object
// wrapping one under a well-known key.
func parseAPI(src Source, body []byte, now time.Time) ([]Finding, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapper map[string]any
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, err
		}
		for _, key := range []string{"items", "articles", "results", "data"} {
			raw, ok := wrapper[key].([]any)
			if !ok {
				continue
			}
			for _, entry := range raw {
				if m, ok := entry.(map[string]any); ok {
					items = append(items, m)
				}
			}
			break
		}
	}

	var findings []Finding
	for _, item := range items {
		title := firstString(item, "title", "name", "headline")
		if title == "" {
			continue
		}
		findings = append(findings, newFinding(src, title, firstString(item, "url", "link", "html_url"), now))
		if len(findings) >= maxFindingsPerScan {
			break
		}
	}
	return findings, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func newFinding(src Source, title, url string, now time.Time) Finding {
	if url == "" {
		url = src.URL
	}
	return Finding{
		ID:        "fnd_" + uuid.NewString()[:8],
		Source:    src.Name,
		Title:     title,
		Type:      FindingArticle,
		Relevance: scoreRelevance(title, src.Category),
		URL:       url,
		ScannedAt: now,
	}
}

var categoryKeywords = map[string][]string{
	CategoryTechnology: {"release", "performance", "security", "open source", "infrastructure", "engineering", "database"},
	CategoryAIML:       {"model", "learning", "agent", "llm", "training", "inference", "neural", "benchmark"},
	CategoryBusiness:   {"funding", "startup", "launch", "market", "growth", "revenue", "acquisition"},
	CategoryScience:    {"research", "study", "paper", "experiment", "discovery", "physics"},
	CategoryDevtools:   {"cli", "sdk", "library", "framework", "tooling", "compiler", "debugger", "testing"},
	CategoryProduct:    {"feature", "design", "user", "feedback", "beta", "roadmap"},
}

// scoreRelevance is a keyword heuristic over the finding title. Two category
// hits clear the default forwarding bar, one does not.
func scoreRelevance(title, category string) float64 {
	score := 0.4
	lower := strings.ToLower(title)
	for _, kw := range categoryKeywords[category] {
		if strings.Contains(lower, kw) {
			score += 0.12
		}
	}
	if score > 0.95 {
		score = 0.95
	}
	return score
}
