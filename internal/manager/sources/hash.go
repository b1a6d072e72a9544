package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// Reject content shorter than this after normalization.
	minContentLength = 100
	// Reject pathologically long content.
	maxContentLength = 50000
)

// ContentHash returns the SHA-256 hex digest of the normalized text.
// Used for duplicate detection within and across ingestion runs.
func ContentHash(text string) string {
	normalized := strings.TrimSpace(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// contentLengthOK reports whether normalized content falls inside the
// accepted length band.
func contentLengthOK(content string) bool {
	n := len(content)
	return n >= minContentLength && n <= maxContentLength
}
