package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"go.uber.org/zap"
)

// AuditErrorCode is the stable error classification written into audit events.
type AuditErrorCode string

const (
	auditErrUnavailable   AuditErrorCode = "backend_unavailable"
	auditErrInternal      AuditErrorCode = "internal_error"
	auditErrMisconfigured AuditErrorCode = "misconfigured"
	auditErrInvalidInput  AuditErrorCode = "invalid_input"
	auditErrNotFound      AuditErrorCode = "account_not_found"
)

var eventMetrics = map[flows.EventKind]MetricID{
	flows.EventLoginSuccess:                   MetricLoginSuccess,
	flows.EventLoginFailure:                   MetricLoginFailure,
	flows.EventLoginRateLimited:               MetricLoginRateLimited,
	flows.EventTwoFactorRequired:              MetricTwoFactorRequired,
	flows.EventTwoFactorSuccess:               MetricTwoFactorSuccess,
	flows.EventTwoFactorFailure:               MetricTwoFactorFailure,
	flows.EventTwoFactorLocked:                MetricTwoFactorLocked,
	flows.EventBackupCodeUsed:                 MetricBackupCodeUsed,
	flows.EventRegistered:                     MetricRegistered,
	flows.EventEmailVerified:                  MetricEmailVerified,
	flows.EventEmailVerificationFailure:       MetricEmailVerificationFailure,
	flows.EventCodeSent:                       MetricCodeSent,
	flows.EventCodeSendThrottled:              MetricCodeSendThrottled,
	flows.EventPasswordResetRequested:         MetricPasswordResetRequested,
	flows.EventPasswordResetVerified:          MetricPasswordResetVerified,
	flows.EventPasswordResetFailure:           MetricPasswordResetFailure,
	flows.EventPasswordChanged:                MetricPasswordChanged,
	flows.EventPasswordUpgraded:               MetricPasswordUpgraded,
	flows.EventTwoFactorEnabled:               MetricTwoFactorEnabled,
	flows.EventTwoFactorDisabled:              MetricTwoFactorDisabled,
	flows.EventAuthenticatorEnrollmentStarted: MetricAuthenticatorEnrollmentStarted,
	flows.EventBackupCodesGenerated:           MetricBackupCodesGenerated,
	flows.EventFederatedLogin:                 MetricFederatedLogin,
	flows.EventFederatedFailure:               MetricFederatedFailure,
	flows.EventFederatedAccountCreated:        MetricFederatedAccountCreated,
	flows.EventFederatedAccountLinked:         MetricFederatedAccountLinked,
	flows.EventFederatedSubjectMismatch:       MetricFederatedSubjectMismatch,
	flows.EventCredentialIssued:               MetricCredentialIssued,
	flows.EventMailDropped:                    MetricMailDropped,
}

// observe is installed as flows.Deps.Observe. It runs on the request
// goroutine and must not block.
func (e *Engine) observe(ctx context.Context, ev flows.Event) {
	if id, ok := eventMetrics[ev.Kind]; ok {
		e.metrics.Inc(id)
	}

	switch ev.Kind {
	case flows.EventTwoFactorLocked, flows.EventFederatedSubjectMismatch, flows.EventLoginRateLimited:
		e.log.Warn("identity security event",
			zap.Stringer("event", ev.Kind),
			zap.String("account_id", ev.AccountID),
			zap.String("ip", clientIPFromContext(ctx)),
		)
	case flows.EventMailDropped:
		e.log.Warn("mail queue full, message dropped", zap.String("account_id", ev.AccountID))
	}

	e.emitAudit(ctx, ev)
}

func (e *Engine) emitAudit(ctx context.Context, ev flows.Event) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: ev.Kind.String(),
		AccountID: ev.AccountID,
		Email:     ev.Email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   ev.Success,
		Metadata:  ev.Metadata,
	}
	if !ev.Success && ev.Status != flows.StatusSuccess {
		event.Status = ev.Status.String()
	}
	if code := auditErrorCode(ev.Err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrMisconfigured), errors.Is(err, ErrEngineNotReady):
		return auditErrMisconfigured
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrAccountNotFound):
		return auditErrNotFound
	default:
		return auditErrInternal
	}
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}
