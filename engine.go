package goIdentity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mail"
	"go.uber.org/zap"
)

// Engine runs the identity use cases. It is safe for concurrent use once
// returned by Builder.Build.
type Engine struct {
	config            Config
	flows             flows.Service
	jwtManager        *jwt.Manager
	mail              *mail.Dispatcher
	audit             *auditDispatcher
	metrics           *Metrics
	log               *zap.Logger
	now               func() time.Time
	federationEnabled bool
	closers           []func() error
}

// Close drains the mail and audit queues and closes every backend Build
// opened. Backends passed in through the Builder stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.mail != nil {
		e.mail.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	e.closeBackends()
}

func (e *Engine) closeBackends() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && e.log != nil {
			e.log.Warn("closing identity backend failed", zap.Error(err))
		}
	}
	e.closers = nil
}

// AuditDropped returns the number of audit events discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MailDropped returns the number of messages discarded because the mail
// queue was full.
func (e *Engine) MailDropped() uint64 {
	if e == nil || e.mail == nil {
		return 0
	}
	return e.mail.Dropped()
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

var unbuilt = flows.New(flows.Deps{Errors: flows.Errors{EngineNotReady: ErrEngineNotReady}})

func (e *Engine) service() flows.Service {
	if e == nil || !e.flows.Initialized() {
		return unbuilt
	}
	return e.flows
}

/*
====================================
LOGIN
====================================
*/

// Login checks email and password. On success it returns a Session, or
// StatusRequiresTwoFactor with a bridge token for VerifyTwoFactor. Unknown
// emails and wrong passwords produce the same StatusInvalidCredentials result.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e != nil {
		defer e.observeLatency(MetricLoginLatency, time.Now())
	}
	return e.service().Login(ctx, email, password)
}

// VerifyTwoFactor completes a login with the bridge token from Login and a
// second-factor code. useBackupCode selects backup code validation instead
// of the account's configured method.
func (e *Engine) VerifyTwoFactor(ctx context.Context, bridgeToken, code string, useBackupCode bool) (*LoginResult, error) {
	return e.service().VerifyTwoFactor(ctx, bridgeToken, code, useBackupCode)
}

// FederatedLogin signs in with a provider id token, creating or linking the
// local account as needed.
func (e *Engine) FederatedLogin(ctx context.Context, idToken string) (*LoginResult, error) {
	if e != nil && e.flows.Initialized() && !e.federationEnabled {
		return nil, ErrFederationDisabled
	}
	return e.service().FederatedLogin(ctx, idToken)
}

/*
====================================
REGISTRATION
====================================
*/

// Register creates an unverified password account and mails a verification code.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	return e.service().Register(ctx, req)
}

// VerifyEmailOTP confirms the registration email and signs the user in.
func (e *Engine) VerifyEmailOTP(ctx context.Context, email, code string) (*CodeResult, error) {
	return e.service().VerifyEmailOTP(ctx, email, code)
}

// ResendEmailOTP issues a fresh verification code. The result does not reveal
// whether the email is registered.
func (e *Engine) ResendEmailOTP(ctx context.Context, email string) (*MessageResult, error) {
	return e.service().ResendEmailOTP(ctx, email)
}

/*
====================================
PASSWORD RESET
====================================
*/

// ForgotPassword mails a reset code when the email is registered. The result
// is identical either way.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (*MessageResult, error) {
	return e.service().ForgotPassword(ctx, email)
}

// VerifyPasswordResetOTP exchanges a reset code for a short-lived reset token.
func (e *Engine) VerifyPasswordResetOTP(ctx context.Context, email, code string) (*ResetResult, error) {
	return e.service().VerifyResetOTP(ctx, email, code)
}

// SetNewPassword consumes the reset token and stores the new password.
func (e *Engine) SetNewPassword(ctx context.Context, email, resetToken, newPassword string) (*MessageResult, error) {
	return e.service().SetNewPassword(ctx, email, resetToken, newPassword)
}

/*
====================================
TWO-FACTOR ENROLLMENT
====================================
*/

// TwoFactorStatus reports the second-factor settings of accountID.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatusResult, error) {
	return e.service().TwoFactorStatus(ctx, accountID)
}

// EnableEmailTwoFactor turns on emailed login codes.
func (e *Engine) EnableEmailTwoFactor(ctx context.Context, accountID string) (*MessageResult, error) {
	return e.service().EnableEmailMethod(ctx, accountID)
}

// BeginAuthenticatorEnrollment stores a pending TOTP secret and returns it
// with its provisioning URI and QR image.
func (e *Engine) BeginAuthenticatorEnrollment(ctx context.Context, accountID string) (*EnrollmentResult, error) {
	return e.service().BeginAuthenticatorEnrollment(ctx, accountID)
}

// ConfirmAuthenticatorEnrollment enables the authenticator method once code
// matches the pending secret.
func (e *Engine) ConfirmAuthenticatorEnrollment(ctx context.Context, accountID, code string) (*MessageResult, error) {
	return e.service().ConfirmAuthenticatorEnrollment(ctx, accountID, code)
}

// DisableTwoFactor turns off every second factor. confirmation is the current
// password, or the configured phrase for federation-only accounts.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, confirmation string) (*MessageResult, error) {
	return e.service().DisableTwoFactor(ctx, accountID, confirmation)
}

// GenerateBackupCodes returns a fresh batch, replacing any previous one.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID, confirmation string) (*BackupCodesResult, error) {
	return e.service().GenerateBackupCodes(ctx, accountID, confirmation)
}

// RegenerateBackupCodes is GenerateBackupCodes under the name clients use
// when a batch already exists.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, confirmation string) (*BackupCodesResult, error) {
	return e.service().GenerateBackupCodes(ctx, accountID, confirmation)
}

/*
====================================
CREDENTIAL VALIDATION
====================================
*/

// ValidateCredential verifies a session credential minted by this engine and
// returns its claims. It does not consult the account store.
func (e *Engine) ValidateCredential(ctx context.Context, token string) (*Claims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	defer e.observeLatency(MetricValidateLatency, time.Now())

	token = strings.TrimSpace(token)
	if token == "" {
		e.metrics.Inc(MetricCredentialRejected)
		return nil, ErrTokenInvalid
	}

	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		e.metrics.Inc(MetricCredentialRejected)
		e.log.Debug("credential rejected", zap.Error(err), zap.String("ip", clientIPFromContext(ctx)))
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	return claims, nil
}
