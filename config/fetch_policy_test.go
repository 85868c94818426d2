package config

import "testing"

func TestFetchPolicyNormalize(t *testing.T) {
	cfg := FetchPolicyConfig{
		Allow:    []string{"Example.com", "https://news.example.com"},
		Disallow: []string{"www.Example.com", "bad.com"},
		Skip:     []string{"Paywall.com", "PAYWALL.COM"},
	}

	norm := cfg.Normalize()
	if len(norm.Allow) != 2 || norm.Allow[0] != "example.com" {
		t.Fatalf("unexpected allow list: %#v", norm.Allow)
	}
	if len(norm.Disallow) != 2 || norm.Disallow[0] != "bad.com" {
		t.Fatalf("unexpected disallow list: %#v", norm.Disallow)
	}
	if len(norm.Skip) != 1 || norm.Skip[0] != "paywall.com" {
		t.Fatalf("unexpected skip list: %#v", norm.Skip)
	}
}

func TestFetchPolicyValidate(t *testing.T) {
	valid := FetchPolicyConfig{
		Allow:    []string{"example.com"},
		Disallow: []string{"blocked.com"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	conflict := FetchPolicyConfig{
		Allow:    []string{"example.com"},
		Disallow: []string{"example.com"},
	}
	if err := conflict.Validate(); err == nil {
		t.Fatalf("expected conflict validation error")
	}

	skipConflict := FetchPolicyConfig{
		Disallow: []string{"paywall.com"},
		Skip:     []string{"paywall.com"},
	}
	if err := skipConflict.Validate(); err == nil {
		t.Fatalf("expected skip/disallow conflict error")
	}
}

func TestFetchPolicyFetchAllowed(t *testing.T) {
	cfg := FetchPolicyConfig{
		Disallow: []string{"blocked.com"},
		Skip:     []string{"paywall.com"},
	}.Normalize()

	if !cfg.FetchAllowed("https://example.com/article") {
		t.Fatalf("expected unlisted host to be allowed")
	}
	if cfg.FetchAllowed("https://blocked.com/page") {
		t.Fatalf("expected disallowed host to be refused")
	}
	if cfg.FetchAllowed("https://sub.paywall.com/story") {
		t.Fatalf("expected skip-list subdomain to be refused")
	}

	restricted := FetchPolicyConfig{Allow: []string{"example.com"}}.Normalize()
	if !restricted.FetchAllowed("https://www.example.com/a") {
		t.Fatalf("expected allow-listed host to be admitted")
	}
	if restricted.FetchAllowed("https://other.com/a") {
		t.Fatalf("expected host outside allow list to be refused")
	}
}
