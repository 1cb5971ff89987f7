package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/internal/bridge"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/mail"
	"go.uber.org/zap"
)

// RunLogin verifies email and password and either issues a session or starts
// the second-factor step.
func RunLogin(ctx context.Context, email, password string, deps Deps) (*LoginResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}

	email = account.NormalizeEmail(email)
	ip := deps.clientIP(ctx)

	if err := deps.LoginLimiter.CheckLogin(ctx, email, ip); err != nil {
		if !errors.Is(err, rate.ErrRateLimited) {
			return nil, deps.fault("login rate check", err)
		}
		deps.observe(ctx, Event{Kind: EventLoginRateLimited, Email: email, Status: StatusRateLimited, Metadata: map[string]string{"ip": ip}})
		return &LoginResult{Status: StatusRateLimited, Message: msgRateLimited}, nil
	}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil && !lookupMissing(err) {
		return nil, deps.fault("login lookup", err)
	}

	matched := false
	if acct != nil && acct.HasPassword() {
		matched, err = deps.Passwords.Verify(password, acct.PasswordHash)
		if err != nil {
			deps.log().Warn("stored password hash rejected", zap.String("account_id", acct.ID), zap.Error(err))
			matched = false
		}
	}
	if !matched {
		if err := deps.LoginLimiter.IncrementLogin(ctx, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			deps.log().Warn("login limiter increment failed", zap.Error(err))
		}
		ev := Event{Kind: EventLoginFailure, Email: email, Status: StatusInvalidCredentials}
		if acct != nil {
			ev.AccountID = acct.ID
		}
		deps.observe(ctx, ev)
		return &LoginResult{Status: StatusInvalidCredentials, Message: msgInvalidCredentials}, nil
	}

	if !acct.EmailConfirmed {
		deps.observe(ctx, Event{Kind: EventLoginFailure, AccountID: acct.ID, Email: email, Status: StatusEmailNotVerified})
		return &LoginResult{Status: StatusEmailNotVerified, Message: msgEmailNotVerified, Email: acct.Email}, nil
	}
	if !acct.Active {
		deps.observe(ctx, Event{Kind: EventLoginFailure, AccountID: acct.ID, Email: email, Status: StatusAccountDeactivated})
		return &LoginResult{Status: StatusAccountDeactivated, Message: msgDeactivated}, nil
	}

	if err := deps.LoginLimiter.ResetLogin(ctx, email, ip); err != nil {
		deps.log().Warn("login limiter reset failed", zap.Error(err))
	}
	if deps.Policy.PasswordUpgradeOnLogin {
		upgradePasswordHash(ctx, acct, password, deps)
	}

	if acct.TwoFactor.Enabled {
		return beginSecondFactor(ctx, acct, deps)
	}

	res, err := deps.loggedIn(ctx, acct)
	if err != nil {
		return nil, err
	}
	deps.observe(ctx, Event{Kind: EventLoginSuccess, AccountID: acct.ID, Email: acct.Email, Success: true})
	return res, nil
}

// upgradePasswordHash re-hashes legacy or weaker hashes. Failures are logged
// and never fail the login.
func upgradePasswordHash(ctx context.Context, acct *account.Account, password string, deps Deps) {
	needs, err := deps.Passwords.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := deps.Passwords.Hash(password)
	if err != nil {
		deps.log().Warn("password rehash failed", zap.String("account_id", acct.ID), zap.Error(err))
		return
	}

	oldHash := acct.PasswordHash
	_, err = deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		if a.PasswordHash != oldHash {
			return account.ErrNoChange
		}
		a.PasswordHash = newHash
		return nil
	})
	if err != nil {
		deps.log().Warn("password hash upgrade not stored", zap.String("account_id", acct.ID), zap.Error(err))
		return
	}
	deps.observe(ctx, Event{Kind: EventPasswordUpgraded, AccountID: acct.ID, Email: acct.Email, Success: true})
}

// beginSecondFactor stores a bridge token and, for the email method, a fresh
// code in a single update.
func beginSecondFactor(ctx context.Context, acct *account.Account, deps Deps) (*LoginResult, error) {
	now := deps.now()
	tok, err := deps.Bridge.Issue(deps.bridgeTTL(account.TokenTwoFactor), now)
	if err != nil {
		return nil, deps.fault("issue two-factor bridge", err)
	}

	if acct.TwoFactor.Method == account.MethodEmail && !deps.allowCodeSend(ctx, account.PurposeTwoFactorEmail, acct.Email) {
		return &LoginResult{Status: StatusRateLimited, Message: msgRateLimited}, nil
	}

	var code string
	var method account.TwoFactorMethod
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		code = ""
		method = a.TwoFactor.Method
		deps.Bridge.Store(&a.TwoFactorToken, tok)
		if method == account.MethodEmail {
			c, err := deps.Codes.Issue(&a.TwoFactorEmail, now)
			if err != nil {
				return err
			}
			code = c
		}
		return nil
	})
	if err != nil {
		return nil, deps.fault("store two-factor bridge", err)
	}

	if code != "" {
		deps.send(ctx, updated, mail.Message{Kind: mail.KindOTP, Code: code, Purpose: account.PurposeTwoFactorEmail})
		deps.observe(ctx, Event{Kind: EventCodeSent, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"purpose": account.PurposeTwoFactorEmail.String()}})
	}
	deps.observe(ctx, Event{Kind: EventTwoFactorRequired, AccountID: updated.ID, Email: updated.Email, Success: true, Status: StatusRequiresTwoFactor, Metadata: map[string]string{"method": string(method)}})

	return &LoginResult{
		Status:          StatusRequiresTwoFactor,
		Message:         msgRequiresTwoFactor,
		BridgeToken:     tok.Plain,
		Method:          method,
		BridgeExpiresAt: tok.ExpiresAt,
	}, nil
}

type secondFactorOutcome uint8

const (
	secondFactorPassed secondFactorOutcome = iota
	secondFactorRejected
	secondFactorSessionGone
	secondFactorLocked
)

// RunVerifyTwoFactor consumes the login bridge token with an authenticator,
// emailed, or backup code.
func RunVerifyTwoFactor(ctx context.Context, bridgeToken, code string, useBackupCode bool, deps Deps) (*LoginResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	if bridgeToken == "" {
		return &LoginResult{Status: StatusInvalidCredentials, Message: msgSessionExpired}, nil
	}

	acct, err := deps.Accounts.FindByTokenHash(ctx, account.TokenTwoFactor, deps.Bridge.Hash(bridgeToken))
	if err != nil {
		if lookupMissing(err) {
			deps.observe(ctx, Event{Kind: EventTwoFactorFailure, Status: StatusInvalidCredentials, Metadata: map[string]string{"reason": "bridge_missing"}})
			return &LoginResult{Status: StatusInvalidCredentials, Message: msgSessionExpired}, nil
		}
		return nil, deps.fault("two-factor lookup", err)
	}

	limited := useBackupCode || acct.TwoFactor.Method == account.MethodAuthenticator
	if limited {
		if err := deps.SecondFactorLimiter.Check(ctx, acct.ID); err != nil {
			if !errors.Is(err, limiters.ErrSecondFactorLocked) {
				return nil, deps.fault("second factor limiter", err)
			}
			return lockSecondFactor(ctx, acct, deps)
		}
	}

	now := deps.now()
	var outcome secondFactorOutcome
	var remaining int
	var usedBackup bool
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		outcome, remaining, usedBackup = secondFactorRejected, 0, false

		switch deps.Bridge.Check(&a.TwoFactorToken, bridgeToken, now) {
		case bridge.CheckValid:
		case bridge.CheckExpired:
			a.TwoFactorEmail.Clear()
			outcome = secondFactorSessionGone
			return nil
		default:
			outcome = secondFactorSessionGone
			return account.ErrNoChange
		}
		if !a.TwoFactor.Enabled {
			a.TwoFactorToken.Clear()
			outcome = secondFactorSessionGone
			return nil
		}

		switch {
		case useBackupCode:
			ok, rest := deps.Backup.ConsumeIfValid(code, a.TwoFactor.BackupCodeHashes)
			if !ok {
				return account.ErrNoChange
			}
			a.SetBackupCodes(rest)
			usedBackup = true
		case a.TwoFactor.Method == account.MethodAuthenticator:
			step, ok := acceptTOTP(deps, a, code, now)
			if !ok {
				return account.ErrNoChange
			}
			a.TwoFactor.TOTPLastStep = step
		default:
			if a.TwoFactorEmail.Attempts >= deps.Codes.MaxAttempts() {
				a.TwoFactorEmail.Clear()
				a.TwoFactorToken.Clear()
				outcome = secondFactorLocked
				return nil
			}
			out := deps.Codes.Verify(&a.TwoFactorEmail, code, now)
			switch out.Result {
			case otp.ResultSuccess:
			case otp.ResultAttemptsExceeded:
				a.TwoFactorEmail.Clear()
				a.TwoFactorToken.Clear()
				outcome = secondFactorLocked
				return nil
			case otp.ResultInvalidCode:
				remaining = out.Remaining
				return nil
			default:
				if !out.Changed {
					return account.ErrNoChange
				}
				return nil
			}
		}

		a.TwoFactorToken.Clear()
		a.TwoFactorEmail.Clear()
		outcome = secondFactorPassed
		return nil
	})
	if err != nil {
		return nil, deps.fault("two-factor verify", err)
	}

	switch outcome {
	case secondFactorSessionGone:
		deps.observe(ctx, Event{Kind: EventTwoFactorFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusInvalidCredentials, Metadata: map[string]string{"reason": "bridge_expired"}})
		return &LoginResult{Status: StatusInvalidCredentials, Message: msgSessionExpired}, nil
	case secondFactorLocked:
		deps.observe(ctx, Event{Kind: EventTwoFactorLocked, AccountID: acct.ID, Email: acct.Email, Status: StatusAccountLocked})
		return &LoginResult{Status: StatusAccountLocked, Message: msgTooManyAttempts}, nil
	case secondFactorRejected:
		if limited {
			if err := deps.SecondFactorLimiter.RecordFailure(ctx, acct.ID); err != nil {
				if errors.Is(err, limiters.ErrSecondFactorLocked) {
					return lockSecondFactor(ctx, acct, deps)
				}
				deps.log().Warn("second factor limiter record failed", zap.Error(err))
			}
		}
		deps.observe(ctx, Event{Kind: EventTwoFactorFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusInvalidCredentials, Metadata: map[string]string{"backup": boolString(useBackupCode)}})
		msg := msgSecondFactorBad
		if remaining > 0 {
			msg = remainingMessage(msgSecondFactorBad, remaining)
		}
		return &LoginResult{Status: StatusInvalidCredentials, Message: msg}, nil
	}

	if limited {
		if err := deps.SecondFactorLimiter.Reset(ctx, acct.ID); err != nil {
			deps.log().Warn("second factor limiter reset failed", zap.Error(err))
		}
	}
	if usedBackup {
		deps.observe(ctx, Event{Kind: EventBackupCodeUsed, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"remaining": itoa(updated.TwoFactor.BackupCodesRemaining)}})
	}

	res, err := deps.loggedIn(ctx, updated)
	if err != nil {
		return nil, err
	}
	deps.observe(ctx, Event{Kind: EventTwoFactorSuccess, AccountID: updated.ID, Email: updated.Email, Success: true})
	return res, nil
}

// lockSecondFactor drops the bridge token so the caller must restart login.
func lockSecondFactor(ctx context.Context, acct *account.Account, deps Deps) (*LoginResult, error) {
	_, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		if !a.TwoFactorToken.Active() && !a.TwoFactorEmail.Active() {
			return account.ErrNoChange
		}
		a.TwoFactorToken.Clear()
		a.TwoFactorEmail.Clear()
		return nil
	})
	if err != nil {
		return nil, deps.fault("two-factor lock", err)
	}
	deps.observe(ctx, Event{Kind: EventTwoFactorLocked, AccountID: acct.ID, Email: acct.Email, Status: StatusAccountLocked})
	return &LoginResult{Status: StatusAccountLocked, Message: msgTooManyAttempts}, nil
}
