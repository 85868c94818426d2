package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/internal/helpers"
)

// TavilyClient implements SearchProvider using the Tavily search API
type TavilyClient struct {
	cfg  config.TavilyConfig
	http *HTTPClient
}

func (t *TavilyClient) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	endpoint := t.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.tavily.com/search"
	}
	var resp struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Bearer " + t.cfg.APIKey}
	body := map[string]any{"query": query, "max_results": max1(limit, 5)}
	if err := t.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	var out []Document
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		out = append(out, Document{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   helpers.StripUnsafeHTML(r.Content),
			Source:    "tavily",
			FetchedAt: time.Now(),
		})
	}
	return out, nil
}

func (t *TavilyClient) Name() string { return "tavily" }

// SerperClient implements SearchProvider using serper.dev
type SerperClient struct {
	cfg  config.SerperConfig
	http *HTTPClient
}

func (s *SerperClient) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	endpoint := s.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.cfg.APIKey}
	body := map[string]any{"q": query, "num": max1(limit, 5)}
	if err := s.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	var out []Document
	for _, r := range resp.Organic {
		if r.Link == "" {
			continue
		}
		out = append(out, Document{
			URL:       r.Link,
			Title:     r.Title,
			Snippet:   helpers.StripUnsafeHTML(r.Snippet),
			Source:    "serper",
			FetchedAt: time.Now(),
		})
	}
	return out, nil
}

func (s *SerperClient) Name() string { return "serper" }

// MockSearch is a deterministic provider used when no search API key is
// configured. Results point at example.com so the pipeline stays offline.
type MockSearch struct{}

func (m *MockSearch) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := max1(limit, 5)
	slug := slugify(query)
	out := make([]Document, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Document{
			URL:       fmt.Sprintf("https://example.com/%s-%d", slug, i),
			Title:     fmt.Sprintf("Result %d for %s", i, query),
			Snippet:   fmt.Sprintf("Background material %d discussing %s in practical detail.", i, query),
			Source:    "mock",
			FetchedAt: time.Now(),
		})
	}
	return out, nil
}

func (m *MockSearch) Name() string { return "mock" }

// RateLimitedSearch wraps a provider with a token-bucket limiter so bursts of
// rounds cannot exhaust an API quota.
type RateLimitedSearch struct {
	inner   SearchProvider
	limiter *rate.Limiter
}

// NewRateLimitedSearch bounds inner to perSecond requests with the given burst.
func NewRateLimitedSearch(inner SearchProvider, perSecond float64, burst int) *RateLimitedSearch {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedSearch{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimitedSearch) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Search(ctx, query, limit)
}

func (r *RateLimitedSearch) Name() string { return r.inner.Name() }

// MultiSearch fans a query out to several providers and merges the results.
type MultiSearch struct {
	providers []SearchProvider
}

// NewMultiSearch combines providers; results keep provider order.
func NewMultiSearch(providers ...SearchProvider) *MultiSearch {
	return &MultiSearch{providers: providers}
}

func (m *MultiSearch) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("no search providers configured")
	}
	if len(m.providers) == 1 {
		docs, err := m.providers[0].Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		return capDocs(DeduplicateDocuments(docs), limit), nil
	}

	results := make([][]Document, len(m.providers))
	errs := make([]error, len(m.providers))
	var wg sync.WaitGroup
	for i, p := range m.providers {
		wg.Add(1)
		go func(i int, p SearchProvider) {
			defer wg.Done()
			results[i], errs[i] = p.Search(ctx, query, limit)
		}(i, p)
	}
	wg.Wait()

	var all []Document
	for _, docs := range results {
		all = append(all, docs...)
	}
	if len(all) == 0 {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return capDocs(DeduplicateDocuments(all), limit), nil
}

func (m *MultiSearch) Name() string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

// DeduplicateDocuments merges documents by canonical URL (or title fallback),
// keeping the first occurrence so provider ordering expresses preference.
// Canonicalisation folds tracking-parameter and fragment variants of the
// same page into one entry.
func DeduplicateDocuments(in []Document) []Document {
	seen := make(map[string]struct{}, len(in))
	keyOf := func(d Document) string {
		if d.URL != "" {
			return canonicalKey(d.URL)
		}
		return strings.ToLower(d.Title)
	}
	out := make([]Document, 0, len(in))
	for _, d := range in {
		k := keyOf(d)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}

// canonicalKey normalises a URL for use as a dedupe key, falling back to the
// raw string when it will not parse.
func canonicalKey(rawURL string) string {
	if canon, err := helpers.CanonicalURL(rawURL); err == nil {
		return canon
	}
	return rawURL
}

func capDocs(docs []Document, limit int) []Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen && b.Len() > 0:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
