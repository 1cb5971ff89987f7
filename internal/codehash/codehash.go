// Package codehash derives the deterministic at-rest form of one-time codes,
// backup codes, and bridge tokens.
package codehash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const minPepperBytes = 16

// Hasher computes HMAC-SHA256 under a fixed pepper. Equal inputs always
// produce equal hashes, so stored values can be compared and indexed.
type Hasher struct {
	pepper []byte
}

// New returns a Hasher keyed by pepper.
func New(pepper []byte) (*Hasher, error) {
	if len(pepper) < minPepperBytes {
		return nil, errors.New("code pepper must be at least 16 bytes")
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &Hasher{pepper: key}, nil
}

// Hash returns the lowercase hex digest of secret.
func (h *Hasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether candidate hashes to stored, in constant time.
func (h *Hasher) Matches(stored, candidate string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(h.Hash(candidate))) == 1
}
