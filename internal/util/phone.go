// Package util provides small helpers shared across components.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PhoneHashLength is the number of hex characters kept from the digest.
// Truncation keeps keys short while remaining collision-safe for this keyspace.
const PhoneHashLength = 32

// NormalizePhone strips formatting symbols from a phone number, leaving
// E.164-like digits ("+91 98765-43210" -> "919876543210").
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashPhone derives the privacy-preserving session key from a phone number.
// Raw numbers never appear as primary keys or in logs; this hash does.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(NormalizePhone(phone)))
	return hex.EncodeToString(sum[:])[:PhoneHashLength]
}
