package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent collapses whitespace and lowercases content so hash
// comparisons are stable across formatting differences.
func NormalizeContent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// ContentHash computes a SHA-256 hex digest of the normalised content.
// Identical articles served from different URLs hash the same.
func ContentHash(content string) string {
	norm := NormalizeContent(content)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
