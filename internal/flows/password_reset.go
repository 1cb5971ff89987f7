package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/internal/bridge"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/mail"
	"go.uber.org/zap"
)

// ResetResult reports a reset-code verification. ResetToken and ExpiresAt are
// set on success.
type ResetResult struct {
	Status     Status
	Message    string
	Remaining  int
	ResetToken string
	ExpiresAt  time.Time
}

// RunForgotPassword issues a reset code when the account exists. The response
// is identical either way.
func RunForgotPassword(ctx context.Context, email string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	email = account.NormalizeEmail(email)
	res := &MessageResult{Status: StatusSuccess, Message: msgResetRequested}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if !lookupMissing(err) {
			// The response stays identical on faults.
			deps.log().Error("forgot password lookup failed", zap.Error(err))
		}
		deps.observe(ctx, Event{Kind: EventPasswordResetRequested, Email: email, Metadata: map[string]string{"known": "false"}})
		return res, nil
	}
	if !deps.allowCodeSend(ctx, account.PurposePasswordReset, email) {
		return res, nil
	}

	now := deps.now()
	var code string
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		c, err := deps.Codes.Issue(&a.PasswordReset, now)
		if err != nil {
			return err
		}
		code = c
		a.PasswordResetToken.Clear()
		return nil
	})
	if err != nil {
		deps.log().Error("forgot password update failed", zap.String("account_id", acct.ID), zap.Error(err))
		return res, nil
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindOTP, Code: code, Purpose: account.PurposePasswordReset})
	deps.observe(ctx, Event{Kind: EventPasswordResetRequested, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"known": "true"}})
	return res, nil
}

// RunVerifyResetOTP exchanges a valid reset code for a reset bridge token.
func RunVerifyResetOTP(ctx context.Context, email, code string, deps Deps) (*ResetResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	email = account.NormalizeEmail(email)

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if lookupMissing(err) {
			return &ResetResult{Status: StatusCodeNotFound, Message: msgCodeNotFound}, nil
		}
		return nil, deps.fault("verify reset lookup", err)
	}

	now := deps.now()
	tok, err := deps.Bridge.Issue(deps.bridgeTTL(account.TokenPasswordReset), now)
	if err != nil {
		return nil, deps.fault("issue reset bridge", err)
	}

	var out otp.Outcome
	_, err = deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		out = deps.Codes.Verify(&a.PasswordReset, code, now)
		if out.Result == otp.ResultSuccess {
			deps.Bridge.Store(&a.PasswordResetToken, tok)
		}
		if !out.Changed {
			return account.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, deps.fault("verify reset update", err)
	}

	if out.Result != otp.ResultSuccess {
		cr := codeFailure(out)
		deps.observe(ctx, Event{Kind: EventPasswordResetFailure, AccountID: acct.ID, Email: acct.Email, Status: cr.Status})
		return &ResetResult{Status: cr.Status, Message: cr.Message, Remaining: cr.Remaining}, nil
	}

	deps.observe(ctx, Event{Kind: EventPasswordResetVerified, AccountID: acct.ID, Email: acct.Email, Success: true})
	return &ResetResult{
		Status:     StatusSuccess,
		Message:    msgResetVerified,
		ResetToken: tok.Plain,
		ExpiresAt:  tok.ExpiresAt,
	}, nil
}

// RunSetNewPassword consumes the reset bridge token and replaces the password.
func RunSetNewPassword(ctx context.Context, email, resetToken, newPassword string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	email = account.NormalizeEmail(email)

	if !deps.passwordAcceptable(newPassword) {
		return &MessageResult{Status: StatusPasswordPolicy, Message: msgPasswordPolicy}, nil
	}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if lookupMissing(err) {
			return &MessageResult{Status: StatusResetTokenExpired, Message: msgResetTokenExpired}, nil
		}
		return nil, deps.fault("set password lookup", err)
	}
	if !acct.PasswordResetToken.Active() {
		return &MessageResult{Status: StatusResetTokenExpired, Message: msgResetTokenExpired}, nil
	}

	hash, err := deps.Passwords.Hash(newPassword)
	if err != nil {
		if isPolicyError(err) {
			return &MessageResult{Status: StatusPasswordPolicy, Message: msgPasswordPolicy}, nil
		}
		return nil, deps.fault("set password hash", err)
	}

	now := deps.now()
	var check bridge.Check
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		check = deps.Bridge.Check(&a.PasswordResetToken, resetToken, now)
		switch check {
		case bridge.CheckValid:
			a.PasswordResetToken.Clear()
			a.PasswordReset.Clear()
			a.PasswordHash = hash
			return nil
		case bridge.CheckExpired:
			return nil
		default:
			return account.ErrNoChange
		}
	})
	if err != nil {
		return nil, deps.fault("set password update", err)
	}

	switch check {
	case bridge.CheckValid:
	case bridge.CheckMismatch:
		deps.observe(ctx, Event{Kind: EventPasswordResetFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusResetTokenInvalid})
		return &MessageResult{Status: StatusResetTokenInvalid, Message: msgResetTokenInvalid}, nil
	default:
		deps.observe(ctx, Event{Kind: EventPasswordResetFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusResetTokenExpired})
		return &MessageResult{Status: StatusResetTokenExpired, Message: msgResetTokenExpired}, nil
	}

	if err := deps.LoginLimiter.ResetLogin(ctx, updated.Email, deps.clientIP(ctx)); err != nil {
		deps.log().Warn("login limiter reset failed", zap.Error(err))
	}
	deps.observe(ctx, Event{Kind: EventPasswordChanged, AccountID: updated.ID, Email: updated.Email, Success: true})
	return &MessageResult{Status: StatusSuccess, Message: msgPasswordChanged}, nil
}
