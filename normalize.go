package concierge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a raw query and returns the canonical text together
// with its sha256 hex digest, the cache key component.
//
// Normalization is deterministic and session-independent: NFKC unicode
// normalization (so fullwidth variants collapse), lowercasing, whitespace
// collapsing, and stripping a trailing run of '?', '!' and '.' characters.
// Two queries that differ only in those respects always hash identically.
func Normalize(raw string) (normalized, hashKey string) {
	normalized = norm.NFKC.String(raw)
	normalized = strings.ToLower(strings.TrimSpace(normalized))
	normalized = strings.Join(strings.Fields(normalized), " ")
	normalized = strings.TrimRight(normalized, "?!.")
	normalized = strings.TrimSpace(normalized)

	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:])
}
