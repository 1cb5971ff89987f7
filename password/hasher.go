package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes new passwords with argon2id and verifies both argon2id and
// legacy bcrypt hashes. Legacy hashes always report NeedsUpgrade.
type Hasher struct {
	argon argon2idScheme
}

// NewHasher validates cfg and returns a Hasher safe for concurrent use.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Hasher{argon: argon2idScheme{cfg: cfg}}, nil
}

// Hash returns an argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.hash(password)
}

// Verify compares password with an argon2id or bcrypt hash. A mismatch is
// (false, nil); an undecodable hash is an error.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	if !isBcrypt(encodedHash) {
		return h.argon.verify(password, encodedHash)
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsUpgrade reports whether encodedHash should be replaced on next login.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		return true, nil
	}
	return h.argon.weaker(encodedHash)
}

func isBcrypt(encodedHash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encodedHash, prefix) {
			return true
		}
	}
	return false
}
