// Package federation verifies third-party identity assertions (OpenID Connect
// id tokens) and reduces them to the fields the identity core links accounts by.
package federation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	// ErrInvalidToken is returned when signature, issuer, audience, or expiry
	// checks fail.
	ErrInvalidToken = errors.New("federated identity token invalid")
	// ErrEmailNotVerified is returned when the provider does not vouch for the email.
	ErrEmailNotVerified = errors.New("federated email not verified")
)

// Identity is a verified third-party assertion.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Name          string
	Picture       string
}

// Verifier validates a raw assertion. Implementations return ErrInvalidToken or
// ErrEmailNotVerified for rejected assertions and any other error for
// transport or configuration failures.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// Config configures an OIDCVerifier.
type Config struct {
	Provider string   `yaml:"provider"`
	Issuer   string   `yaml:"issuer"`
	ClientID string   `yaml:"client_id"`
	Algs     []string `yaml:"algs"`
}

// OIDCVerifier checks id tokens against an issuer's published keys.
type OIDCVerifier struct {
	provider string
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier performs issuer discovery and returns a verifier bound to
// cfg.ClientID.
func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Issuer, err)
	}
	return &OIDCVerifier{
		provider: cfg.Provider,
		verifier: p.Verifier(cfg.oidcConfig(nil)),
	}, nil
}

// NewStaticVerifier verifies against a fixed key set without discovery. now
// may be nil.
func NewStaticVerifier(cfg Config, keys oidc.KeySet, now func() time.Time) (*OIDCVerifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("federation key set is required")
	}
	return &OIDCVerifier{
		provider: cfg.Provider,
		verifier: oidc.NewVerifier(cfg.Issuer, keys, cfg.oidcConfig(now)),
	}, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New("federation provider name is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("federation issuer is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("federation client id is required")
	}
	return nil
}

func (c Config) oidcConfig(now func() time.Time) *oidc.Config {
	return &oidc.Config{
		ClientID:             c.ClientID,
		SupportedSigningAlgs: c.Algs,
		Now:                  now,
	}
}

type claims struct {
	Email         string    `json:"email"`
	EmailVerified boolClaim `json:"email_verified"`
	GivenName     string    `json:"given_name"`
	FamilyName    string    `json:"family_name"`
	Name          string    `json:"name"`
	Picture       string    `json:"picture"`
}

// boolClaim accepts both true and "true"; some providers send the string form.
type boolClaim bool

func (b *boolClaim) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = boolClaim(v)
	return nil
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrInvalidToken
	}
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c claims
	if err := tok.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok.Subject == "" || c.Email == "" {
		return nil, fmt.Errorf("%w: subject and email are required", ErrInvalidToken)
	}
	if !c.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return &Identity{
		Provider:      v.provider,
		Subject:       tok.Subject,
		Email:         c.Email,
		EmailVerified: true,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Name:          c.Name,
		Picture:       c.Picture,
	}, nil
}
