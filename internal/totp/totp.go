// Package totp wraps RFC 6238 time-based codes for authenticator enrollment
// and login.
package totp

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	secretBytes      = 20
	defaultDigits    = 6
	defaultPeriod    = 30
	defaultSkew      = 1
	defaultImageSize = 256
)

// Config controls code shape and clock tolerance.
type Config struct {
	Issuer string
	Digits int
	Period uint
	Skew   uint
}

// Engine generates secrets and validates codes.
type Engine struct {
	config Config
}

// New returns an Engine, filling zero fields with 6 digits, 30 s, skew 1.
func New(cfg Config) *Engine {
	if cfg.Digits <= 0 {
		cfg.Digits = defaultDigits
	}
	if cfg.Period == 0 {
		cfg.Period = defaultPeriod
	}
	if cfg.Skew == 0 {
		cfg.Skew = defaultSkew
	}
	return &Engine{config: cfg}
}

// GenerateSecret returns a fresh 160-bit secret, base32 without padding.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI an authenticator app imports.
func (e *Engine) ProvisioningURI(accountName, secret string) string {
	issuer := e.config.Issuer
	label := accountName
	if issuer != "" {
		label = issuer + ":" + accountName
	}

	v := url.Values{}
	v.Set("secret", secret)
	if issuer != "" {
		v.Set("issuer", issuer)
	}
	v.Set("period", strconv.FormatUint(uint64(e.config.Period), 10))
	v.Set("digits", strconv.Itoa(e.config.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + url.PathEscape(label) + "?" + v.Encode()
}

// RenderImage encodes uri as a PNG QR code. size <= 0 selects 256 px.
func (e *Engine) RenderImage(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultImageSize
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate reports whether code matches secret at now or within the skew
// window. Malformed codes and secrets are rejected without error.
func (e *Engine) Validate(secret, code string, now time.Time) bool {
	_, ok := e.Match(secret, code, now)
	return ok
}

// Match is Validate that also returns the time step the code belongs to.
// Callers persist the step and refuse any later code whose step is not
// greater, which stops a code from being used twice.
func (e *Engine) Match(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != e.config.Digits || !isNumeric(code) {
		return 0, false
	}
	period := time.Duration(e.config.Period) * time.Second
	skew := int(e.config.Skew)
	for i := -skew; i <= skew; i++ {
		at := now.UTC().Add(time.Duration(i) * period)
		want, err := pqtotp.GenerateCodeCustom(secret, at, e.opts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return e.Step(at), true
		}
	}
	return 0, false
}

// Step returns the RFC 6238 counter for t.
func (e *Engine) Step(t time.Time) int64 {
	return t.Unix() / int64(e.config.Period)
}

// GenerateCode returns the code for secret at t.
func (e *Engine) GenerateCode(secret string, t time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("empty totp secret")
	}
	return pqtotp.GenerateCodeCustom(secret, t.UTC(), e.opts())
}

func (e *Engine) opts() pqtotp.ValidateOpts {
	return pqtotp.ValidateOpts{
		Period:    e.config.Period,
		Skew:      e.config.Skew,
		Digits:    otp.Digits(e.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
