package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/federation"
	"github.com/MrEthical07/goIdentity/internal/backup"
	"github.com/MrEthical07/goIdentity/internal/bridge"
	"github.com/MrEthical07/goIdentity/internal/codehash"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/totp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const discoveryTimeout = 10 * time.Second

// Builder assembles an Engine. Each With* call overrides the matching
// section of the configuration; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts   account.Repository
	mailer     mail.Sender
	federation federation.Verifier
	auditSink  AuditSink

	log *zap.Logger
	now func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by the login, code-send, and second-factor
// throttles. Without it Build dials Config.Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccounts sets the account repository. Without it Build opens
// Config.Database.
func (b *Builder) WithAccounts(repo account.Repository) *Builder {
	b.accounts = repo
	return b
}

// WithMailer sets the blocking mail transport. The engine always wraps it in
// an asynchronous dispatcher.
func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

// WithFederation sets the id token verifier used by FederatedLogin.
func (b *Builder) WithFederation(v federation.Verifier) *Builder {
	b.federation = v
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be true.
// Without a sink, events go to the engine logger under the "audit" name.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithClock overrides the time source for code, token, and credential expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login and validate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, opens any backend not supplied through
// a With* call, and returns a ready Engine. Backends opened here are closed
// by Engine.Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		log:     log,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}
	fail := func(err error) (*Engine, error) {
		engine.closeBackends()
		return nil, err
	}

	// -------- REDIS --------
	rdb := b.redis
	if rdb == nil {
		if cfg.Redis.Addr == "" {
			return fail(errors.New("redis client required"))
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		engine.closers = append(engine.closers, client.Close)
		rdb = client
	}

	// -------- ACCOUNT STORE --------
	accounts := b.accounts
	if accounts == nil {
		if cfg.Database.DSN == "" {
			return fail(errors.New("account repository required"))
		}
		db, err := account.Open(account.OpenConfig{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
			Debug:  cfg.Database.Debug,
		})
		if err != nil {
			return fail(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		engine.closers = append(engine.closers, sqlDB.Close)
		accounts = account.NewStore(db)
	}

	// -------- MAIL --------
	mailer := b.mailer
	if mailer == nil {
		switch cfg.Mail.Transport {
		case "smtp":
			s, err := mail.NewSMTPSender(cfg.Mail.SMTP)
			if err != nil {
				return fail(err)
			}
			engine.closers = append(engine.closers, func() error {
				s.Close()
				return nil
			})
			mailer = s
		default:
			mailer = mail.LogSender{Log: log, ShowCodes: cfg.Mail.ShowCodes}
		}
	}

	// -------- FEDERATION --------
	verifier := b.federation
	if verifier == nil && cfg.Federation.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
		v, err := federation.NewOIDCVerifier(ctx, federation.Config{
			Provider: cfg.Federation.Provider,
			Issuer:   cfg.Federation.Issuer,
			ClientID: cfg.Federation.ClientID,
			Algs:     cloneStrings(cfg.Federation.Algs),
		})
		cancel()
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		verifier = v
	}
	engine.federationEnabled = verifier != nil

	// -------- CODES AND TOKENS --------
	hasher, err := codehash.New([]byte(cfg.Security.CodePepper))
	if err != nil {
		return fail(err)
	}

	passwords, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return fail(err)
	}

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Credential.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Credential.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Credential.PrivateKey),
		PublicKey:     cloneBytes(cfg.Credential.PublicKey),
		Issuer:        cfg.Credential.Issuer,
		Audience:      cfg.Credential.Audience,
		Leeway:        cfg.Credential.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.Credential.KeyID,
	})
	if err != nil {
		return fail(err)
	}
	engine.jwtManager = jm

	// -------- DISPATCHERS --------
	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(log.Named("audit"))
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sink)
	engine.mail = mail.NewDispatcher(cfg.Mail.Dispatcher, mailer, log)

	engine.flows = flows.New(flows.Deps{
		Accounts:   accounts,
		Passwords:  passwords,
		Codes:      otp.New(hasher, cfg.OTP.TTL, cfg.OTP.MaxAttempts),
		TOTP:       totp.New(totp.Config{Issuer: cfg.TOTP.Issuer, Digits: cfg.TOTP.Digits, Period: cfg.TOTP.Period, Skew: cfg.TOTP.Skew}),
		Backup:     backup.New(hasher, cfg.BackupCodes.Count, cfg.BackupCodes.Length),
		Bridge:     bridge.New(hasher),
		Issuer:     jm,
		Mail:       engine.mail,
		Federation: verifier,

		LoginLimiter: rate.New(rdb, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		}),
		CodeSendLimiter: limiters.NewCodeSendLimiter(rdb, limiters.CodeSendConfig{
			MaxSends:         cfg.Security.MaxCodeSends,
			Window:           cfg.Security.CodeSendWindow,
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
		}),
		SecondFactorLimiter: limiters.NewSecondFactorLimiter(rdb, limiters.SecondFactorConfig{
			MaxFailures: cfg.Security.MaxSecondFactorFailures,
			Cooldown:    cfg.Security.SecondFactorCooldown,
		}),

		Log:      log,
		Now:      now,
		Observe:  engine.observe,
		ClientIP: clientIPFromContext,

		Policy: flows.Policy{
			MinPasswordLength:              cfg.Password.MinLength,
			DefaultRoles:                   cloneStrings(cfg.Registration.DefaultRoles),
			TwoFactorBridgeTTL:             cfg.Bridge.TwoFactorTTL,
			PasswordResetBridgeTTL:         cfg.Bridge.PasswordResetTTL,
			TOTPImageSize:                  cfg.TOTP.ImageSize,
			FederationConfirmPhrase:        cfg.Federation.ConfirmPhrase,
			RejectFederatedSubjectMismatch: cfg.Federation.RejectSubjectMismatch,
			FederatedRequireSecondFactor:   cfg.Federation.RequireSecondFactor,
			PasswordUpgradeOnLogin:         cfg.Password.UpgradeOnLogin,
		},
		Errors: flows.Errors{
			EngineNotReady: ErrEngineNotReady,
			Unavailable:    ErrUnavailable,
			Misconfigured:  ErrMisconfigured,
			Internal:       ErrInternal,
			InvalidInput:   ErrInvalidInput,
			NotFound:       ErrAccountNotFound,
		},
	})

	b.built = true

	return engine, nil
}
