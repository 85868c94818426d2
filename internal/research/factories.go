package research

import (
	"fmt"
	"time"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/tools/web_fetch"
)

// NewLLMProvider creates an LLM provider based on configuration
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "mock", "":
		return NewMockLLM(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}

// NewSearchProvider creates the combined search provider. Configured
// providers are rate limited and merged; with no API keys at all the
// deterministic mock keeps the pipeline usable offline.
func NewSearchProvider(cfg config.SourcesConfig) (SearchProvider, error) {
	httpc := NewHTTPClient(15*time.Second, 2, 300*time.Millisecond)
	var providers []SearchProvider
	if cfg.Tavily.APIKey != "" {
		providers = append(providers, NewRateLimitedSearch(&TavilyClient{cfg: cfg.Tavily, http: httpc}, cfg.Rate.PerSecond, cfg.Rate.Burst))
	}
	if cfg.Serper.APIKey != "" {
		providers = append(providers, NewRateLimitedSearch(&SerperClient{cfg: cfg.Serper, http: httpc}, cfg.Rate.PerSecond, cfg.Rate.Burst))
	}
	switch len(providers) {
	case 0:
		return &MockSearch{}, nil
	case 1:
		return providers[0], nil
	default:
		return NewMultiSearch(providers...), nil
	}
}

// NewFetcher creates the page-content fetcher, or nil when content fetching
// is disabled and documents stay at snippet level.
func NewFetcher(cfg config.SourcesConfig, enabled bool) (Fetcher, error) {
	if !enabled {
		return nil, nil
	}
	wf, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Fetcher.Type), cfg.Fetcher.Timeout, cfg.Fetcher.MaxChars, cfg.Fetcher.UserAgent)
	if err != nil {
		return nil, err
	}
	return NewPageFetcher(wf, cfg.FetchPolicy), nil
}
