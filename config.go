package goIdentity

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/logging"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/password"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Obtain one from LoadConfig or
// DefaultConfig and treat it as immutable after Build.
type Config struct {
	Credential   CredentialConfig   `yaml:"credential"`
	OTP          OTPConfig          `yaml:"otp"`
	TOTP         TOTPConfig         `yaml:"totp"`
	BackupCodes  BackupCodesConfig  `yaml:"backup_codes"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Password     PasswordConfig     `yaml:"password"`
	Registration RegistrationConfig `yaml:"registration"`
	Federation   FederationConfig   `yaml:"federation"`
	Security     SecurityConfig     `yaml:"security"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Mail         MailConfig         `yaml:"mail"`
	Log          logging.Config     `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig controls the signed session credential minted after login.
// PrivateKey and PublicKey are filled by LoadConfig from the key files, or by
// the caller directly.
type CredentialConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	SigningMethod  string        `yaml:"signing_method"` // "ed25519" (default), "hs256" optional
	PrivateKeyFile string        `yaml:"private_key_file"`
	PublicKeyFile  string        `yaml:"public_key_file"`
	Secret         string        `yaml:"secret"` // hs256 only
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	Leeway         time.Duration `yaml:"leeway"`
	KeyID          string        `yaml:"key_id"`

	PrivateKey []byte `yaml:"-"`
	PublicKey  []byte `yaml:"-"`
}

/*
====================================
CODE CONFIG
====================================
*/

// OTPConfig controls the emailed six-digit codes.
type OTPConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// TOTPConfig controls authenticator app enrollment and validation.
type TOTPConfig struct {
	Issuer    string `yaml:"issuer"`
	Digits    int    `yaml:"digits"`
	Period    uint   `yaml:"period"`
	Skew      uint   `yaml:"skew"`
	ImageSize int    `yaml:"image_size"`
}

// BackupCodesConfig controls backup code batches.
type BackupCodesConfig struct {
	Count  int `yaml:"count"`
	Length int `yaml:"length"`
}

// BridgeConfig controls the short-lived tokens that link the steps of the
// login and password reset flows.
type BridgeConfig struct {
	TwoFactorTTL     time.Duration `yaml:"two_factor_ttl"`
	PasswordResetTTL time.Duration `yaml:"password_reset_ttl"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the password policy.
type PasswordConfig struct {
	Memory         uint32 `yaml:"memory"`
	Time           uint32 `yaml:"time"`
	Parallelism    uint8  `yaml:"parallelism"`
	SaltLength     uint32 `yaml:"salt_length"`
	KeyLength      uint32 `yaml:"key_length"`
	MinLength      int    `yaml:"min_length"`
	UpgradeOnLogin bool   `yaml:"upgrade_on_login"`
}

// RegistrationConfig controls accounts created by Register and FederatedLogin.
type RegistrationConfig struct {
	DefaultRoles []string `yaml:"default_roles"`
}

// FederationConfig controls third-party identity token login.
type FederationConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Provider string   `yaml:"provider"`
	Issuer   string   `yaml:"issuer"`
	ClientID string   `yaml:"client_id"`
	Algs     []string `yaml:"algs"`

	// RequireSecondFactor routes federated logins of 2FA-enabled accounts
	// through VerifyTwoFactor.
	RequireSecondFactor bool `yaml:"require_second_factor"`
	// RejectSubjectMismatch refuses a federated login whose email matches an
	// account already linked to a different subject.
	RejectSubjectMismatch bool `yaml:"reject_subject_mismatch"`
	// ConfirmPhrase is what federation-only accounts type to disable 2FA or
	// regenerate backup codes.
	ConfirmPhrase string `yaml:"confirm_phrase"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the code pepper and the Redis-backed throttles.
type SecurityConfig struct {
	ProductionMode bool `yaml:"production_mode"`

	// CodePepper keys the HMAC used for stored codes, bridge tokens, and
	// backup codes. Rotating it invalidates every outstanding code.
	CodePepper string `yaml:"code_pepper"`

	EnableIPThrottle      bool          `yaml:"enable_ip_throttle"`
	MaxLoginAttempts      int           `yaml:"max_login_attempts"`
	LoginCooldownDuration time.Duration `yaml:"login_cooldown"`

	MaxCodeSends   int           `yaml:"max_code_sends"`
	CodeSendWindow time.Duration `yaml:"code_send_window"`

	MaxSecondFactorFailures int           `yaml:"max_second_factor_failures"`
	SecondFactorCooldown    time.Duration `yaml:"second_factor_cooldown"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
INFRASTRUCTURE CONFIG
====================================
*/

// MailConfig selects the mail transport. Builder.WithMailer overrides it.
type MailConfig struct {
	Transport  string                `yaml:"transport"` // "log" (default) or "smtp"
	ShowCodes  bool                  `yaml:"show_codes"`
	SMTP       mail.SMTPConfig       `yaml:"smtp"`
	Dispatcher mail.DispatcherConfig `yaml:"dispatcher"`
}

// DatabaseConfig selects the account store. Builder.WithAccounts overrides it.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

// RedisConfig is used when Builder.WithRedis is not called.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns a development configuration. Keys, the code pepper,
// and the store DSN still have to be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Credential: CredentialConfig{
			TTL:           24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goidentity",
		},
		OTP: OTPConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		TOTP: TOTPConfig{
			Issuer:    "goIdentity",
			Digits:    6,
			Period:    30,
			Skew:      1,
			ImageSize: 200,
		},
		BackupCodes: BackupCodesConfig{
			Count:  10,
			Length: 8,
		},
		Bridge: BridgeConfig{
			TwoFactorTTL:     10 * time.Minute,
			PasswordResetTTL: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      password.MinLength,
			UpgradeOnLogin: true,
		},
		Registration: RegistrationConfig{
			DefaultRoles: []string{"student"},
		},
		Federation: FederationConfig{
			Provider:      "google",
			ConfirmPhrase: "DISABLE",
		},
		Security: SecurityConfig{
			EnableIPThrottle:        false,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxCodeSends:            5,
			CodeSendWindow:          15 * time.Minute,
			MaxSecondFactorFailures: 5,
			SecondFactorCooldown:    5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Mail: MailConfig{
			Transport: "log",
			SMTP: mail.SMTPConfig{
				Port:        587,
				Connections: 4,
				SendTimeout: 10 * time.Second,
				Product:     "goIdentity",
				CodeMinutes: 10,
			},
			Dispatcher: mail.DispatcherConfig{
				BufferSize:  256,
				Workers:     2,
				SendTimeout: 15 * time.Second,
			},
		},
		Log: logging.Config{
			Level:      "info",
			Filename:   "logs/identity.log",
			MaxSizeMB:  100,
			MaxAgeDays: 14,
			MaxBackups: 5,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Credential.PrivateKey = cloneBytes(cfg.Credential.PrivateKey)
	out.Credential.PublicKey = cloneBytes(cfg.Credential.PublicKey)
	out.Registration.DefaultRoles = cloneStrings(cfg.Registration.DefaultRoles)
	out.Federation.Algs = cloneStrings(cfg.Federation.Algs)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// LoadConfig reads a YAML file over the defaults. ${VAR} references are
// expanded from the environment before parsing, and key files named in the
// credential section are read into PrivateKey and PublicKey.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(raw []byte) (Config, error) {
	cfg := defaultConfig()
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.loadKeys(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadKeys() error {
	cred := &c.Credential
	if cred.PrivateKeyFile != "" {
		key, err := os.ReadFile(cred.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read credential private key: %w", err)
		}
		cred.PrivateKey = key
	}
	if cred.PublicKeyFile != "" {
		key, err := os.ReadFile(cred.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read credential public key: %w", err)
		}
		cred.PublicKey = key
	}
	if cred.Secret != "" && len(cred.PrivateKey) == 0 {
		cred.PrivateKey = []byte(cred.Secret)
	}
	return nil
}

// Validate checks cross-field constraints. It does not touch the network.
func (c *Config) Validate() error {
	// Credential
	if c.Credential.TTL <= 0 {
		return errors.New("Credential TTL must be > 0")
	}
	if c.Credential.SigningMethod != "ed25519" && c.Credential.SigningMethod != "hs256" {
		return errors.New("unsupported credential signing method")
	}
	if c.Credential.SigningMethod == "ed25519" && len(c.Credential.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Credential.SigningMethod == "ed25519" && len(c.Credential.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Credential.SigningMethod == "hs256" && len(c.Credential.PrivateKey) < 32 {
		return errors.New("hs256 requires a secret of at least 32 bytes")
	}
	if c.Credential.Leeway < 0 || c.Credential.Leeway > 2*time.Minute {
		return errors.New("Credential Leeway must be between 0 and 2m")
	}

	// Codes
	if c.OTP.TTL <= 0 || c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be > 0 and <= 1h")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP MaxAttempts must be between 1 and 10")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 20 {
		return errors.New("BackupCodes Count must be between 1 and 20")
	}
	if c.BackupCodes.Length < 8 {
		return errors.New("BackupCodes Length must be >= 8")
	}
	if c.Bridge.TwoFactorTTL <= 0 || c.Bridge.PasswordResetTTL <= 0 {
		return errors.New("Bridge TTLs must be > 0")
	}
	if len(c.Security.CodePepper) < 16 {
		return errors.New("Security CodePepper must be at least 16 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < password.MinLength {
		return fmt.Errorf("Password MinLength must be >= %d", password.MinLength)
	}

	// Federation
	if c.Federation.Enabled {
		if c.Federation.Issuer == "" || c.Federation.ClientID == "" {
			return errors.New("Federation requires Issuer and ClientID")
		}
		if strings.TrimSpace(c.Federation.Provider) == "" {
			return errors.New("Federation Provider must be set")
		}
	}
	if strings.TrimSpace(c.Federation.ConfirmPhrase) == "" {
		return errors.New("Federation ConfirmPhrase must be set")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 || c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security login throttle must be > 0")
	}
	if c.Security.MaxCodeSends <= 0 || c.Security.CodeSendWindow <= 0 {
		return errors.New("Security code send throttle must be > 0")
	}
	if c.Security.MaxSecondFactorFailures <= 0 || c.Security.SecondFactorCooldown <= 0 {
		return errors.New("Security second factor throttle must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Mail
	switch c.Mail.Transport {
	case "log":
	case "smtp":
		if err := c.Mail.SMTP.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported mail transport %q", c.Mail.Transport)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Security.ProductionMode {
		if c.Mail.ShowCodes {
			return errors.New("Mail ShowCodes must be false in production mode")
		}
		if c.Mail.Transport != "smtp" {
			return errors.New("Mail Transport must be smtp in production mode")
		}
		if !c.Security.EnableIPThrottle {
			return errors.New("Security EnableIPThrottle must be true in production mode")
		}
		if c.Log.Development {
			return errors.New("Log Development must be false in production mode")
		}
	}

	return nil
}
