package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrTooShort is returned by Hash for passwords under MinLength bytes.
	ErrTooShort = errors.New("password is too short")
	// ErrTooLong is returned for passwords over Config.MaxBytes.
	ErrTooLong = errors.New("password is too long")
	// ErrMalformedHash is returned when a stored hash cannot be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// MinLength is the shortest password Hash accepts, in bytes.
const MinLength = 10

// DefaultMaxBytes applies when Config.MaxBytes is zero.
const DefaultMaxBytes = 1024

// Floors below which a configuration or a stored hash is refused.
const (
	floorMemoryKB = 8 * 1024
	floorSaltLen  = 16
	floorKeyLen   = 16
)

// Config holds argon2id cost parameters. Passwords are hashed as raw bytes
// with no Unicode normalization.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxBytes int
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", floorMemoryKB)
	case c.Time < 1:
		return errors.New("password: time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password: parallelism must be >= 1")
	case c.SaltLength < floorSaltLen:
		return fmt.Errorf("password: salt length must be >= %d", floorSaltLen)
	case c.KeyLength < floorKeyLen:
		return fmt.Errorf("password: key length must be >= %d", floorKeyLen)
	case c.MaxBytes != 0 && c.MaxBytes < MinLength:
		return fmt.Errorf("password: max bytes must be 0 or >= %d", MinLength)
	}
	return nil
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func decodePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return phc{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return phc{}, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}

	var p phc
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return phc{}, fmt.Errorf("%w: bad parameters", ErrMalformedHash)
	}
	if p.memory < floorMemoryKB || p.time < 1 || p.parallelism < 1 {
		return phc{}, fmt.Errorf("%w: parameters below floor", ErrMalformedHash)
	}

	var err error
	if p.salt, err = decodeB64(fields[4]); err != nil || len(p.salt) < floorSaltLen {
		return phc{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(fields[5]); err != nil || len(p.key) == 0 {
		return phc{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// argon2idScheme hashes with the configured costs and verifies with the costs
// stored in each hash.
type argon2idScheme struct {
	cfg Config
}

func (s argon2idScheme) hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", ErrTooShort
	}
	if len(password) > s.cfg.MaxBytes {
		return "", ErrTooLong
	}

	salt := make([]byte, s.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: reading salt: %w", err)
	}
	p := phc{
		memory:      s.cfg.Memory,
		time:        s.cfg.Time,
		parallelism: s.cfg.Parallelism,
		salt:        salt,
	}
	p.key = argon2.IDKey([]byte(password), salt, p.time, p.memory, p.parallelism, s.cfg.KeyLength)
	return p.String(), nil
}

func (s argon2idScheme) verify(password, encoded string) (bool, error) {
	if len(password) > s.cfg.MaxBytes {
		return false, ErrTooLong
	}
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// weaker reports whether encoded was produced with lower costs or a
// different key length than the current configuration.
func (s argon2idScheme) weaker(encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < s.cfg.Memory ||
		p.time < s.cfg.Time ||
		p.parallelism < s.cfg.Parallelism ||
		uint32(len(p.key)) != s.cfg.KeyLength, nil
}
