package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/federation"
	"github.com/MrEthical07/goIdentity/internal/backup"
	"github.com/MrEthical07/goIdentity/internal/bridge"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/totp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mail"
	"go.uber.org/zap"
)

// CredentialIssuer mints the final session credential.
type CredentialIssuer interface {
	Issue(p jwt.Principal, now time.Time) (string, *jwt.SessionClaims, error)
}

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Outbox accepts mail for asynchronous delivery and never blocks.
type Outbox interface {
	Enqueue(msg mail.Message) bool
}

// Policy carries read-only tunables.
type Policy struct {
	MinPasswordLength      int
	DefaultRoles           []string
	TwoFactorBridgeTTL     time.Duration
	PasswordResetBridgeTTL time.Duration
	TOTPImageSize          int

	// FederationConfirmPhrase is the literal a federation-only account echoes
	// back to disable 2FA or regenerate backup codes.
	FederationConfirmPhrase        string
	RejectFederatedSubjectMismatch bool
	FederatedRequireSecondFactor   bool
	PasswordUpgradeOnLogin         bool
}

// Errors carries root-level sentinels wrapped into faults.
type Errors struct {
	EngineNotReady error
	Unavailable    error
	Misconfigured  error
	Internal       error
	InvalidInput   error
	NotFound       error
}

// Deps is the immutable wiring shared by every flow.
type Deps struct {
	Accounts   account.Repository
	Passwords  PasswordHasher
	Codes      *otp.Engine
	TOTP       *totp.Engine
	Backup     *backup.Engine
	Bridge     *bridge.Engine
	Issuer     CredentialIssuer
	Mail       Outbox
	Federation federation.Verifier

	LoginLimiter        *rate.Limiter
	CodeSendLimiter     *limiters.CodeSendLimiter
	SecondFactorLimiter *limiters.SecondFactorLimiter

	Log      *zap.Logger
	Now      func() time.Time
	Observe  func(context.Context, Event)
	ClientIP func(context.Context) string

	Policy Policy
	Errors Errors
}

func (d Deps) ready() bool {
	return d.Accounts != nil &&
		d.Passwords != nil &&
		d.Codes != nil &&
		d.TOTP != nil &&
		d.Backup != nil &&
		d.Bridge != nil &&
		d.Issuer != nil
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d Deps) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) observe(ctx context.Context, ev Event) {
	if d.Observe != nil {
		d.Observe(ctx, ev)
	}
}

func (d Deps) clientIP(ctx context.Context) string {
	if d.ClientIP == nil {
		return ""
	}
	return d.ClientIP(ctx)
}

func (d Deps) notReady() error {
	if d.Errors.EngineNotReady != nil {
		return d.Errors.EngineNotReady
	}
	return errors.New("engine not ready")
}

func (d Deps) misconfigured(what string) error {
	if d.Errors.Misconfigured != nil {
		return fmt.Errorf("%w: %s", d.Errors.Misconfigured, what)
	}
	return errors.New(what)
}

// fault logs err with op context and wraps it into the matching root sentinel.
func (d Deps) fault(op string, err error) error {
	d.log().Error("identity flow fault", zap.String("op", op), zap.Error(err))

	sentinel := d.Errors.Internal
	if errors.Is(err, account.ErrNotFound) && d.Errors.NotFound != nil {
		sentinel = d.Errors.NotFound
	}
	if errors.Is(err, account.ErrUnavailable) || errors.Is(err, account.ErrConflict) || errors.Is(err, rate.ErrRedisUnavailable) {
		sentinel = d.Errors.Unavailable
	}
	if sentinel == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", sentinel, op, err)
}

func (d Deps) send(ctx context.Context, acct *account.Account, msg mail.Message) {
	if d.Mail == nil {
		d.log().Warn("mail outbox not configured, message discarded", zap.Stringer("kind", msg.Kind))
		return
	}
	msg.To = acct.Email
	msg.Name = acct.DisplayName()
	if !d.Mail.Enqueue(msg) {
		d.observe(ctx, Event{Kind: EventMailDropped, AccountID: acct.ID, Email: acct.Email, Metadata: map[string]string{"kind": msg.Kind.String()}})
	}
}

func (d Deps) bridgeTTL(kind account.TokenKind) time.Duration {
	switch kind {
	case account.TokenPasswordReset:
		if d.Policy.PasswordResetBridgeTTL > 0 {
			return d.Policy.PasswordResetBridgeTTL
		}
		return bridge.PasswordResetTTL
	default:
		if d.Policy.TwoFactorBridgeTTL > 0 {
			return d.Policy.TwoFactorBridgeTTL
		}
		return bridge.TwoFactorTTL
	}
}

// allowCodeSend applies the per-email send throttle. A limiter backend failure
// is logged and allows the send.
func (d Deps) allowCodeSend(ctx context.Context, purpose account.CodePurpose, email string) bool {
	err := d.CodeSendLimiter.Allow(ctx, purpose.String(), email, d.clientIP(ctx))
	if err == nil {
		return true
	}
	if errors.Is(err, limiters.ErrCodeSendRateLimited) {
		d.observe(ctx, Event{Kind: EventCodeSendThrottled, Email: email, Metadata: map[string]string{"purpose": purpose.String()}})
		return false
	}
	d.log().Warn("code send limiter unavailable", zap.Error(err))
	return true
}

func lookupMissing(err error) bool {
	return errors.Is(err, account.ErrNotFound)
}
