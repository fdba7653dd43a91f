package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const defaultScrapeLength = 50000

var (
	blankLines  = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	spaceRunsRe = regexp.MustCompile(`[ \t]{2,}`)
)

// ScrapeTool fetches a web page and returns its readable text.
type ScrapeTool struct {
	fetcher   *httpFetcher
	maxLength int
}

func NewScrapeTool(client *http.Client, maxLength int, logger *zap.Logger) *ScrapeTool {
	if maxLength <= 0 {
		maxLength = defaultScrapeLength
	}
	return &ScrapeTool{fetcher: newHTTPFetcher(client, logger), maxLength: maxLength}
}

func (s *ScrapeTool) Name() string { return "scrape_website" }

func (s *ScrapeTool) Description() string {
	return "Fetches a web page by URL and returns its text content."
}

func (s *ScrapeTool) Run(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	body, contentType, err := s.fetcher.do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}

	text := string(body)
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/markdown") {
		if text, err = HTMLToText(text); err != nil {
			return "", fmt.Errorf("parse %s: %w", u, err)
		}
	}

	if strings.TrimSpace(text) == "" {
		return "", errors.New("page has no readable text")
	}

	return truncate(text, s.maxLength), nil
}

// HTMLToText extracts the visible text of an HTML document, keeping block
// boundaries as line breaks.
func HTMLToText(document string) (string, error) {
	doc, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeText(doc, &b)

	text := spaceRunsRe.ReplaceAllString(b.String(), " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

func writeText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "template":
			return
		case "br":
			b.WriteString("\n")
		case "li":
			b.WriteString("\n- ")
		case "p", "div", "section", "article", "ul", "ol", "table", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "section", "article", "ul", "ol", "table", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n")
		}
	}
}

func truncate(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + "\n\n[...truncated...]"
}
