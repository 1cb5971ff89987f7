package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// keyring is the decoded key material for one Manager.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	verify any
	byKid  map[string]any
}

func newKeyring(cfg Config) (*keyring, error) {
	switch cfg.SigningMethod {
	case MethodHS256:
		return hmacKeyring(cfg)
	case MethodEd25519:
		return edKeyring(cfg)
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}
}

func hmacKeyring(cfg Config) (*keyring, error) {
	if len(cfg.PrivateKey) == 0 {
		return nil, errors.New("hs256 requires a secret")
	}
	secret := append([]byte(nil), cfg.PrivateKey...)
	kr := &keyring{method: jwt.SigningMethodHS256, sign: secret, verify: secret}
	if len(cfg.VerifyKeys) > 0 {
		kr.byKid = make(map[string]any, len(cfg.VerifyKeys))
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			kr.byKid[kid] = append([]byte(nil), key...)
		}
	}
	return kr, checkKid(cfg, kr)
}

func edKeyring(cfg Config) (*keyring, error) {
	kr := &keyring{method: jwt.SigningMethodEdDSA}
	if len(cfg.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		kr.sign = priv
	}
	if len(cfg.PublicKey) > 0 {
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		kr.verify = pub
	}
	if len(cfg.VerifyKeys) == 0 && kr.verify == nil {
		return nil, errors.New("ed25519 requires a public key or verify key set")
	}
	if len(cfg.VerifyKeys) > 0 {
		kr.byKid = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			pub, err := parseEdPublicKey(raw)
			if err != nil {
				return nil, fmt.Errorf("verify key %q: %w", kid, err)
			}
			kr.byKid[kid] = pub
		}
	}
	return kr, checkKid(cfg, kr)
}

func checkKid(cfg Config, kr *keyring) error {
	if cfg.KeyID == "" || kr.byKid == nil {
		return nil
	}
	if _, ok := kr.byKid[cfg.KeyID]; !ok {
		return fmt.Errorf("key id %q is not in the verify key set", cfg.KeyID)
	}
	return nil
}

// parseEdPrivateKey accepts a raw 64-byte key or a PKCS#8 PEM block.
func parseEdPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return key, nil
}

// parseEdPublicKey accepts a raw 32-byte key or a PKIX PEM block.
func parseEdPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return key, nil
}
