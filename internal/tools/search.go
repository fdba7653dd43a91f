package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	serperEndpoint     = "https://google.serper.dev/search"
	duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	defaultMaxResults  = 8
)

// SearchResult is a single web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchTool queries the Serper API when a key is configured and falls back
// to the DuckDuckGo HTML endpoint otherwise.
type SearchTool struct {
	fetcher    *httpFetcher
	serperKey  string
	serperURL  string
	ddgURL     string
	maxResults int
}

func NewSearchTool(client *http.Client, serperKey string, maxResults int, logger *zap.Logger) *SearchTool {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &SearchTool{
		fetcher:    newHTTPFetcher(client, logger),
		serperKey:  strings.TrimSpace(serperKey),
		serperURL:  serperEndpoint,
		ddgURL:     duckDuckGoEndpoint,
		maxResults: maxResults,
	}
}

func (s *SearchTool) Name() string { return "web_search" }

func (s *SearchTool) Description() string {
	return "Searches the internet and returns titles, links and snippets."
}

func (s *SearchTool) Run(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("search query is empty")
	}

	var (
		results []SearchResult
		err     error
	)
	if s.serperKey != "" {
		results, err = s.serper(ctx, query)
	} else {
		results, err = s.duckDuckGo(ctx, query)
	}
	if err != nil {
		return "", fmt.Errorf("search %q: %w", query, err)
	}

	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}

	return formatResults(query, results), nil
}

func (s *SearchTool) serper(ctx context.Context, query string) ([]SearchResult, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": s.maxResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serperURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.serperKey)

	body, _, err := s.fetcher.do(req)
	if err != nil {
		return nil, err
	}

	var response struct {
		Organic []SearchResult `json:"organic"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode serper response: %w", err)
	}

	return response.Organic, nil
}

func (s *SearchTool) duckDuckGo(ctx context.Context, query string) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ddgURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	body, _, err := s.fetcher.do(req)
	if err != nil {
		return nil, err
	}

	return parseDuckDuckGo(string(body), s.maxResults)
}

func parseDuckDuckGo(document string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r := extractResult(n); r.URL != "" && r.Title != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

func extractResult(n *html.Node) SearchResult {
	var r SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				r.URL = attr(n, "href")
				r.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				r.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	const redirect = "//duckduckgo.com/l/?uddg="
	if strings.HasPrefix(r.URL, redirect) {
		target := strings.TrimPrefix(r.URL, redirect)
		if i := strings.Index(target, "&"); i > 0 {
			target = target[:i]
		}
		if decoded, err := url.QueryUnescape(target); err == nil {
			r.URL = decoded
		}
	}

	return r
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return "No results found for: " + query
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\nLink: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "Snippet: %s\n", r.Snippet)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
