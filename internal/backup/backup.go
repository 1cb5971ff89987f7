// Package backup generates and consumes single-use recovery codes.
package backup

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"github.com/MrEthical07/goIdentity/internal/codehash"
)

// Alphabet omits 0/O and 1/I so codes survive being read aloud or retyped.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCount  = 10
	DefaultLength = 8
)

// Engine generates batches and checks candidates against stored hashes.
type Engine struct {
	hasher      *codehash.Hasher
	count       int
	length      int
	randomIndex func(int) (int, error)
}

// New returns an Engine. Non-positive count or length select the defaults.
func New(hasher *codehash.Hasher, count, length int) *Engine {
	if count <= 0 {
		count = DefaultCount
	}
	if length <= 0 {
		length = DefaultLength
	}
	return &Engine{
		hasher:      hasher,
		count:       count,
		length:      length,
		randomIndex: cryptoRandomIndex,
	}
}

// GenerateBatch returns display codes (XXXX-XXXX) and their hashes in the
// same order.
func (e *Engine) GenerateBatch() ([]string, []string, error) {
	codes := make([]string, 0, e.count)
	hashes := make([]string, 0, e.count)
	seen := make(map[string]struct{}, e.count)

	for len(codes) < e.count {
		raw, err := newCode(e.length, e.randomIndex)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, Format(raw))
		hashes = append(hashes, e.Hash(raw))
	}
	return codes, hashes, nil
}

// Hash normalizes code and returns its stored form.
func (e *Engine) Hash(code string) string {
	return e.hasher.Hash(Normalize(code))
}

// ConsumeIfValid removes the first stored hash matching candidate. The
// returned list is a new slice; stored is never modified.
func (e *Engine) ConsumeIfValid(candidate string, stored []string) (bool, []string) {
	normalized := Normalize(candidate)
	if normalized == "" || len(stored) == 0 {
		return false, stored
	}

	idx := -1
	for i, h := range stored {
		if e.hasher.Matches(h, normalized) && idx < 0 {
			idx = i
		}
	}
	if idx < 0 {
		return false, stored
	}

	remaining := make([]string, 0, len(stored)-1)
	remaining = append(remaining, stored[:idx]...)
	remaining = append(remaining, stored[idx+1:]...)
	return true, remaining
}

// Normalize upper-cases code and strips dashes and whitespace.
func Normalize(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code))
}

// Format inserts a dash at the midpoint of codes of length 8 or more.
func Format(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func newCode(length int, randomIndex func(int) (int, error)) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
