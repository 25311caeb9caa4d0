package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint derives the content key used for dedup and cache lookups.
// Content is NFC-normalised and trimmed so that visually identical
// submissions collapse to the same key.
func Fingerprint(content string) string {
	normalized := strings.TrimSpace(norm.NFC.String(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
