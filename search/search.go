// Package search is the web-search evidence provider. It queries a
// Serper-style search API and optionally enriches the top results with
// readable page text.
//
// Failure policy: request errors and non-2xx responses are retried a bounded
// number of times with backoff, then degrade to not-found evidence. A search
// turn can be slow but never crashes the pipeline.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/nevindra/concierge"
)

const defaultEndpoint = "https://google.serper.dev/search"

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides the search API endpoint (tests, proxies).
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithMaxResults sets how many results are returned (default: 5).
func WithMaxResults(n int) Option {
	return func(p *Provider) { p.maxResults = n }
}

// WithFetchPages enables page-text enrichment for the top n results. Each
// page is fetched and run through readability; pages that fail to fetch keep
// their snippet. Default: 0 (snippets only).
func WithFetchPages(n int) Option {
	return func(p *Provider) { p.fetchPages = n }
}

// WithMaxAttempts sets the bounded retry count for the search request
// (default: 3).
func WithMaxAttempts(n int) Option {
	return func(p *Provider) { p.maxAttempts = n }
}

// WithTimeout sets the per-request HTTP timeout (default: 10s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Provider implements concierge.EvidenceProvider against a Serper-style
// Google search API.
type Provider struct {
	apiKey      string
	endpoint    string
	maxResults  int
	fetchPages  int
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client
	logger      *slog.Logger
}

var _ concierge.EvidenceProvider = (*Provider)(nil)

// New creates a web search provider. An empty apiKey is allowed; every fetch
// then degrades to not-found, which keeps a keyless dev setup working.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		maxResults:  5,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Name implements concierge.EvidenceProvider.
func (p *Provider) Name() string { return "web_search" }

type searchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Fetch implements concierge.EvidenceProvider. It prefers the router's
// rewritten search query over the raw user query. Outages surface as
// *concierge.ErrProvider after bounded retries; the pipeline logs it and
// degrades the turn to not-found evidence.
func (p *Provider) Fetch(ctx context.Context, query string, decision concierge.RoutingDecision) (concierge.Evidence, error) {
	if decision.SearchQuery != "" {
		query = decision.SearchQuery
	}
	if p.apiKey == "" {
		p.logger.Warn("web search skipped: no api key configured")
		return concierge.Evidence{}, nil
	}

	results, err := p.search(ctx, query)
	if err != nil {
		p.logger.Warn("web search failed after retries", "error", err)
		return concierge.Evidence{}, &concierge.ErrProvider{Provider: p.Name(), Err: err}
	}
	if len(results) == 0 {
		return concierge.Evidence{}, nil
	}

	if p.fetchPages > 0 {
		p.enrich(ctx, results)
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\nSource: %s\n\n", i+1, r.Title, r.Snippet, r.Link)
	}
	return concierge.Evidence{
		Found:   true,
		Source:  "web search",
		Content: strings.TrimSpace(b.String()),
	}, nil
}

// search performs the API request with bounded retries and backoff.
func (p *Provider) search(ctx context.Context, query string) ([]searchResult, error) {
	payload, _ := json.Marshal(map[string]any{"q": query, "num": p.maxResults})

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.baseDelay * (1 << (attempt - 1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			p.logger.Warn("retrying web search", "attempt", attempt+1, "max_attempts", p.maxAttempts)
		}

		results, err := p.searchOnce(ctx, payload)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Provider) searchOnce(ctx context.Context, payload []byte) ([]searchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &concierge.ErrHTTP{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed struct {
		Organic []searchResult `json:"organic"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	if len(parsed.Organic) > p.maxResults {
		parsed.Organic = parsed.Organic[:p.maxResults]
	}
	return parsed.Organic, nil
}

// enrich replaces the snippets of the top results with readable page text.
// Failures are silent — the snippet is already a usable fallback.
func (p *Provider) enrich(ctx context.Context, results []searchResult) {
	n := p.fetchPages
	if n > len(results) {
		n = len(results)
	}
	for i := 0; i < n; i++ {
		text, err := p.fetchPage(ctx, results[i].Link)
		if err != nil {
			p.logger.Debug("page fetch failed, keeping snippet", "url", results[i].Link, "error", err)
			continue
		}
		if len(text) > 2000 {
			text = text[:2000] + "... (truncated)"
		}
		results[i].Snippet = text
	}
}

// fetchPage downloads a result page and extracts readable text.
func (p *Provider) fetchPage(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ConciergeBot/1.0)")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", err
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil || article.TextContent == "" {
		return "", fmt.Errorf("no readable content")
	}
	return strings.TrimSpace(article.TextContent), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
