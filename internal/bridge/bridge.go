// Package bridge issues the short-lived opaque tokens that carry a caller
// from one step of a multi-step flow to the next.
package bridge

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/internal/codehash"
)

const (
	tokenBytes = 32

	// TwoFactorTTL bounds the gap between password and second factor.
	TwoFactorTTL = 5 * time.Minute
	// PasswordResetTTL bounds the gap between reset code and new password.
	PasswordResetTTL = 10 * time.Minute
)

// Token is a freshly issued bridge token. Plain is returned to the caller
// once; only Hash is stored.
type Token struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

// Check classifies a presented token against a stored slot.
type Check uint8

const (
	CheckValid Check = iota
	CheckMissing
	CheckExpired
	CheckMismatch
)

// Engine issues and checks bridge tokens.
type Engine struct {
	hasher *codehash.Hasher
}

func New(hasher *codehash.Hasher) *Engine {
	return &Engine{hasher: hasher}
}

// Issue creates a 256-bit random token valid for ttl.
func (e *Engine) Issue(ttl time.Duration, now time.Time) (Token, error) {
	if ttl <= 0 {
		return Token{}, errors.New("bridge token ttl must be > 0")
	}
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return Token{
		Plain:     plain,
		Hash:      e.hasher.Hash(plain),
		ExpiresAt: now.Add(ttl).UTC(),
	}, nil
}

// Hash returns the stored form of plain, used for repository lookup.
func (e *Engine) Hash(plain string) string {
	return e.hasher.Hash(plain)
}

// Store writes tok into slot, replacing any previous token.
func (e *Engine) Store(slot *account.TokenSlot, tok Token) {
	*slot = account.TokenSlot{TokenHash: tok.Hash, ExpiresAt: tok.ExpiresAt}
}

// Check compares plain with slot. An expired slot is cleared. A valid slot is
// left in place; the caller clears it in the same update that performs the
// guarded action.
func (e *Engine) Check(slot *account.TokenSlot, plain string, now time.Time) Check {
	if slot == nil || !slot.Active() || plain == "" {
		return CheckMissing
	}
	if !e.hasher.Matches(slot.TokenHash, plain) {
		return CheckMismatch
	}
	if now.After(slot.ExpiresAt) {
		slot.Clear()
		return CheckExpired
	}
	return CheckValid
}
