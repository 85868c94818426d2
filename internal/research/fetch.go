package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/tools/web_fetch"
)

// PageFetcher adapts a web_fetch.WebFetcher to the Fetcher interface and
// applies the configured fetch policy before touching a host.
type PageFetcher struct {
	fetcher web_fetch.WebFetcher
	policy  config.FetchPolicyConfig
}

// NewPageFetcher wraps fetcher with the given policy.
func NewPageFetcher(fetcher web_fetch.WebFetcher, policy config.FetchPolicyConfig) *PageFetcher {
	return &PageFetcher{fetcher: fetcher, policy: policy}
}

// Fetch retrieves and extracts the page at url.
func (p *PageFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if !p.policy.FetchAllowed(url) {
		return Page{}, fmt.Errorf("fetch policy refuses host of %s", url)
	}

	res, err := p.fetcher.Exec(ctx, url)
	if err != nil {
		return Page{}, classifyProviderErr(err)
	}
	if res.Status != 200 {
		return Page{}, fmt.Errorf("%w: fetch status %d for %s", ErrProviderUnavailable, res.Status, url)
	}
	text := res.Text
	if text == "" {
		text = res.Markdown
	}
	if strings.TrimSpace(text) == "" {
		return Page{}, fmt.Errorf("no extractable content at %s", url)
	}
	return Page{URL: res.URL, Title: res.Title, Text: text}, nil
}
