// Package otp issues and verifies the six-digit codes stored in account code
// slots. It operates on a slot in memory; callers persist the slot inside an
// account update so that verification and attempt counting are atomic.
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/internal/codehash"
)

const (
	// CodeDigits is the length of every issued code.
	CodeDigits = 6
	// DefaultTTL is the lifetime of an issued code.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxAttempts is the number of failed comparisons a code survives.
	DefaultMaxAttempts = 5
)

// Result classifies a verification attempt.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultInvalidCode
	ResultExpired
	ResultAttemptsExceeded
	ResultNotFound
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInvalidCode:
		return "invalid_code"
	case ResultExpired:
		return "expired"
	case ResultAttemptsExceeded:
		return "attempts_exceeded"
	default:
		return "not_found"
	}
}

// Outcome is the result of Verify. Changed reports whether the slot was
// mutated and must be persisted.
type Outcome struct {
	Result    Result
	Remaining int
	Changed   bool
}

// Engine issues and verifies codes.
type Engine struct {
	hasher      *codehash.Hasher
	ttl         time.Duration
	maxAttempts int
	generate    func() (string, error)
}

// New returns an Engine. Non-positive ttl or maxAttempts select the defaults.
func New(hasher *codehash.Hasher, ttl time.Duration, maxAttempts int) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		hasher:      hasher,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		generate:    NewCode,
	}
}

// MaxAttempts returns the configured failure budget.
func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

// Issue stores a fresh code in slot, replacing any previous code and
// resetting attempts. The plaintext is returned for delivery only.
func (e *Engine) Issue(slot *account.CodeSlot, now time.Time) (string, error) {
	if slot == nil {
		return "", errors.New("nil code slot")
	}
	code, err := e.generate()
	if err != nil {
		return "", err
	}
	*slot = account.CodeSlot{
		CodeHash:  e.hasher.Hash(code),
		ExpiresAt: now.Add(e.ttl).UTC(),
		Attempts:  0,
	}
	return code, nil
}

// Verify checks candidate against slot. The attempt budget and expiry are
// checked before the code is compared; a slot that is exhausted or expired is
// cleared and can never verify again.
func (e *Engine) Verify(slot *account.CodeSlot, candidate string, now time.Time) Outcome {
	if slot == nil || !slot.Active() {
		return Outcome{Result: ResultNotFound}
	}

	if slot.Attempts >= e.maxAttempts {
		slot.Clear()
		return Outcome{Result: ResultAttemptsExceeded, Changed: true}
	}
	if now.After(slot.ExpiresAt) {
		slot.Clear()
		return Outcome{Result: ResultExpired, Changed: true}
	}

	if !e.hasher.Matches(slot.CodeHash, strings.TrimSpace(candidate)) {
		slot.Attempts++
		remaining := e.maxAttempts - slot.Attempts
		if remaining <= 0 {
			return Outcome{Result: ResultAttemptsExceeded, Changed: true}
		}
		return Outcome{Result: ResultInvalidCode, Remaining: remaining, Changed: true}
	}

	slot.Clear()
	return Outcome{Result: ResultSuccess, Changed: true}
}

// NewCode returns a uniformly random six-digit code.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeDigits)

	ten := big.NewInt(10)
	for i := 0; i < CodeDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
