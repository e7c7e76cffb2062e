// Package sha256 shortens identifiers that are too long to use as file
// names while keeping them unique.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLen is the length of a hex digest.
const DigestLen = sha256.Size * 2

// Hex returns the hex SHA-256 digest of s.
func Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Cap returns s unchanged when it fits in limit bytes. Longer values keep
// a prefix and end with "_" and the digest of the full value, so distinct
// inputs stay distinct. limit must exceed DigestLen.
func Cap(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	keep := limit - DigestLen - 1
	return s[:keep] + "_" + Hex(s)
}
