package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod names the credential signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
)

var (
	errMissingKid   = errors.New("missing kid")
	errUnknownKid   = errors.New("unknown kid")
	errNoSubject    = errors.New("credential subject missing")
	errFutureIssued = errors.New("credential issued too far in the future")
	errCannotSign   = errors.New("manager has no signing key")
)

// Config controls how session credentials are minted and checked.
//
// With Ed25519 a manager built from PublicKey or VerifyKeys alone can verify
// but not issue. VerifyKeys, when set, is keyed by kid and every credential
// must carry a kid present in it.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager issues and parses session credentials. It is safe for concurrent
// use.
type Manager struct {
	config Config
	keys   *keyring
	parser *jwt.Parser
}

// Principal is the identity a session credential is minted for. Name, when
// set, becomes the name claim; otherwise it is built from the given and
// family names.
type Principal struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	Name       string
	Roles      []string
}

// SessionClaims is the payload of a session credential.
type SessionClaims struct {
	Email      string   `json:"email"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Name       string   `json:"name,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewManager checks cfg and decodes its key material once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("credential ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("credential leeway must be within [0, %s]", maxLeeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("credential max future iat must be within (0, 24h]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	keys, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{config: cfg, keys: keys, parser: jwt.NewParser(opts...)}, nil
}

// TTL returns the configured credential lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue signs a credential for p valid from now for TTL. Every call gets a
// fresh jti.
func (m *Manager) Issue(p Principal, now time.Time) (string, *SessionClaims, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return "", nil, errors.New("session subject is required")
	}
	if m.keys.sign == nil {
		return "", nil, errCannotSign
	}

	claims := &SessionClaims{
		Email:      p.Email,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		Name:       displayName(p),
		Roles:      append([]string(nil), p.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	tok := jwt.NewWithClaims(m.keys.method, claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}
	signed, err := tok.SignedString(m.keys.sign)
	if err != nil {
		return "", nil, fmt.Errorf("sign credential: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies raw and returns its claims. Signature, algorithm, expiry,
// issuer and audience are all checked, and the subject must be present.
func (m *Manager) Parse(raw string) (*SessionClaims, error) {
	tok, err := m.parser.ParseWithClaims(raw, &SessionClaims{}, m.lookupKey)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, errFutureIssued
	}
	return claims, nil
}

func (m *Manager) lookupKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.keys.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if len(m.keys.byKid) > 0 {
		if kid == "" {
			return nil, errMissingKid
		}
		key, ok := m.keys.byKid[kid]
		if !ok {
			return nil, errUnknownKid
		}
		return key, nil
	}
	if m.config.KeyID != "" {
		if kid == "" {
			return nil, errMissingKid
		}
		if kid != m.config.KeyID {
			return nil, errUnknownKid
		}
	}
	if m.keys.verify == nil {
		return nil, errors.New("manager has no verification key")
	}
	return m.keys.verify, nil
}

func displayName(p Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(p.GivenName) + " " + strings.TrimSpace(p.FamilyName))
}
