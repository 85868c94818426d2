package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FetchPolicyConfig controls which hosts the page fetcher will pull full
// content from. Hosts on the skip list keep their search snippet only.
type FetchPolicyConfig struct {
	Allow    []string `mapstructure:"allow"`
	Disallow []string `mapstructure:"disallow"`
	Skip     []string `mapstructure:"skip"`
}

// Normalize cleans entries and removes duplicates.
func (c FetchPolicyConfig) Normalize() FetchPolicyConfig {
	norm := c
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Disallow = sanitizeDomainList(norm.Disallow)
	norm.Skip = sanitizeDomainList(norm.Skip)
	return norm
}

// Validate ensures configured policy entries do not conflict and are well-formed.
func (c FetchPolicyConfig) Validate() error {
	norm := c.Normalize()

	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	disallow := make(map[string]struct{}, len(norm.Disallow))
	for _, host := range norm.Disallow {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("fetch policy conflict: host %q present in both allow and disallow lists", host)
		}
		disallow[host] = struct{}{}
	}
	for _, host := range norm.Skip {
		if host == "" {
			return fmt.Errorf("fetch policy skip entry must not be empty")
		}
		if _, ok := disallow[host]; ok {
			return fmt.Errorf("fetch policy conflict: host %q marked disallow and skip", host)
		}
	}
	return nil
}

// FetchAllowed reports whether full-page content may be fetched from rawurl.
// An empty allow list admits every host not otherwise disallowed or skipped.
func (c FetchPolicyConfig) FetchAllowed(rawurl string) bool {
	host := normalizeHost(rawurl)
	if host == "" {
		return false
	}
	for _, h := range c.Disallow {
		if hostMatches(host, h) {
			return false
		}
	}
	for _, h := range c.Skip {
		if hostMatches(host, h) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, h := range c.Allow {
		if hostMatches(host, h) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
