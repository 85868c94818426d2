package helpers

import "testing"

func TestNormalizeContent(t *testing.T) {
	t.Parallel()
	in := " Hello\tWorld\nNew  Line "
	got := NormalizeContent(in)
	if got != "hello world new line" {
		t.Fatalf("NormalizeContent() = %q", got)
	}
}

func TestContentHashDeterministic(t *testing.T) {
	t.Parallel()
	a := ContentHash("Breaking News!")
	b := ContentHash("  BREAKING   news!  ")
	if a != b {
		t.Fatalf("expected identical hashes, got %s vs %s", a, b)
	}
}

func TestContentHashDistinguishesContent(t *testing.T) {
	t.Parallel()
	a := ContentHash("first article body")
	b := ContentHash("second article body")
	if a == b {
		t.Fatalf("different content must not collide")
	}
}
