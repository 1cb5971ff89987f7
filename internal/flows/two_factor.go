package flows

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/mail"
	"go.uber.org/zap"
)

// TwoFactorStatusResult describes the current second-factor settings.
type TwoFactorStatusResult struct {
	Enabled              bool
	Method               account.TwoFactorMethod
	BackupCodesRemaining int
	// PendingAuthenticator is true between Begin and Confirm enrollment.
	PendingAuthenticator bool
	// RequiresPassword reports which confirmation Disable and backup code
	// generation expect: the password, or the fixed phrase.
	RequiresPassword bool
}

// EnrollmentResult carries the provisioning data for an authenticator app.
type EnrollmentResult struct {
	Status  Status
	Message string
	Secret  string
	URI     string
	// Image is a PNG QR code of URI.
	Image []byte
}

// BackupCodesResult returns freshly generated codes exactly once.
type BackupCodesResult struct {
	Status  Status
	Message string
	Codes   []string
}

// RunTwoFactorStatus reports the second-factor settings of accountID.
func RunTwoFactorStatus(ctx context.Context, accountID string, deps Deps) (*TwoFactorStatusResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	acct, err := deps.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, deps.fault("two-factor status", err)
	}
	tf := acct.TwoFactor
	return &TwoFactorStatusResult{
		Enabled:              tf.Enabled,
		Method:               tf.Method,
		BackupCodesRemaining: tf.BackupCodesRemaining,
		PendingAuthenticator: tf.TOTPSecret != "" && !(tf.Enabled && tf.Method == account.MethodAuthenticator),
		RequiresPassword:     acct.HasPassword(),
	}, nil
}

// RunEnableEmailMethod switches the account to emailed second-factor codes.
func RunEnableEmailMethod(ctx context.Context, accountID string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}

	var already bool
	updated, err := deps.Accounts.Update(ctx, accountID, func(a *account.Account) error {
		already = a.TwoFactor.Enabled && a.TwoFactor.Method == account.MethodEmail
		if already {
			return account.ErrNoChange
		}
		a.TwoFactor.Enabled = true
		a.TwoFactor.Method = account.MethodEmail
		a.TwoFactor.TOTPSecret = ""
		return nil
	})
	if err != nil {
		return nil, deps.fault("enable email two-factor", err)
	}
	if already {
		return &MessageResult{Status: StatusAlreadyEnabled, Message: msgAlreadyEnabled}, nil
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindTwoFactorChanged, Enabled: true, Method: account.MethodEmail})
	deps.observe(ctx, Event{Kind: EventTwoFactorEnabled, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"method": string(account.MethodEmail)}})
	return &MessageResult{Status: StatusSuccess, Message: msgTwoFactorEnabled}, nil
}

// RunBeginAuthenticatorEnrollment stores a new unconfirmed TOTP secret and
// returns its provisioning URI and QR image.
func RunBeginAuthenticatorEnrollment(ctx context.Context, accountID string, deps Deps) (*EnrollmentResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}

	secret, err := deps.TOTP.GenerateSecret()
	if err != nil {
		return nil, deps.fault("generate totp secret", err)
	}

	var already bool
	updated, err := deps.Accounts.Update(ctx, accountID, func(a *account.Account) error {
		already = a.TwoFactor.Enabled && a.TwoFactor.Method == account.MethodAuthenticator
		if already {
			return account.ErrNoChange
		}
		a.TwoFactor.TOTPSecret = secret
		a.TwoFactor.TOTPLastStep = 0
		return nil
	})
	if err != nil {
		return nil, deps.fault("begin authenticator enrollment", err)
	}
	if already {
		return &EnrollmentResult{Status: StatusAlreadyEnabled, Message: msgAlreadyEnabled}, nil
	}

	uri := deps.TOTP.ProvisioningURI(updated.Email, secret)
	img, err := deps.TOTP.RenderImage(uri, deps.Policy.TOTPImageSize)
	if err != nil {
		return nil, deps.fault("render provisioning image", err)
	}

	deps.observe(ctx, Event{Kind: EventAuthenticatorEnrollmentStarted, AccountID: updated.ID, Email: updated.Email, Success: true})
	return &EnrollmentResult{
		Status:  StatusSuccess,
		Message: msgEnrollmentStarted,
		Secret:  secret,
		URI:     uri,
		Image:   img,
	}, nil
}

// RunConfirmAuthenticatorEnrollment enables the authenticator method once the
// first code from the pending secret validates.
func RunConfirmAuthenticatorEnrollment(ctx context.Context, accountID, code string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}

	now := deps.now()
	status := StatusSuccess
	updated, err := deps.Accounts.Update(ctx, accountID, func(a *account.Account) error {
		status = StatusSuccess
		switch {
		case a.TwoFactor.Enabled && a.TwoFactor.Method == account.MethodAuthenticator:
			status = StatusAlreadyEnabled
			return account.ErrNoChange
		case a.TwoFactor.TOTPSecret == "":
			status = StatusEnrollmentNotStarted
			return account.ErrNoChange
		}
		step, ok := acceptTOTP(deps, a, code, now)
		if !ok {
			status = StatusInvalidCode
			return account.ErrNoChange
		}
		a.TwoFactor.TOTPLastStep = step
		a.TwoFactor.Enabled = true
		a.TwoFactor.Method = account.MethodAuthenticator
		return nil
	})
	if err != nil {
		return nil, deps.fault("confirm authenticator enrollment", err)
	}

	switch status {
	case StatusAlreadyEnabled:
		return &MessageResult{Status: status, Message: msgAlreadyEnabled}, nil
	case StatusEnrollmentNotStarted:
		return &MessageResult{Status: status, Message: msgEnrollmentNotStarted}, nil
	case StatusInvalidCode:
		deps.observe(ctx, Event{Kind: EventTwoFactorFailure, AccountID: accountID, Status: status, Metadata: map[string]string{"stage": "enrollment"}})
		return &MessageResult{Status: status, Message: msgSecondFactorBad}, nil
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindTwoFactorChanged, Enabled: true, Method: account.MethodAuthenticator})
	deps.observe(ctx, Event{Kind: EventTwoFactorEnabled, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"method": string(account.MethodAuthenticator)}})
	return &MessageResult{Status: StatusSuccess, Message: msgTwoFactorEnabled}, nil
}

// RunDisableTwoFactor clears every second-factor setting after confirmation.
func RunDisableTwoFactor(ctx context.Context, accountID, confirmation string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	acct, err := deps.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, deps.fault("disable two-factor lookup", err)
	}
	if !acct.TwoFactor.Enabled && acct.TwoFactor.TOTPSecret == "" {
		return &MessageResult{Status: StatusTwoFactorNotEnabled, Message: msgTwoFactorNotEnabled}, nil
	}
	if !deps.confirmed(acct, confirmation) {
		deps.observe(ctx, Event{Kind: EventTwoFactorFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusConfirmationRejected, Metadata: map[string]string{"stage": "disable"}})
		return &MessageResult{Status: StatusConfirmationRejected, Message: msgConfirmationRejected}, nil
	}

	updated, err := deps.Accounts.Update(ctx, accountID, func(a *account.Account) error {
		a.DisableTwoFactor()
		return nil
	})
	if err != nil {
		return nil, deps.fault("disable two-factor", err)
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindTwoFactorChanged, Enabled: false})
	deps.observe(ctx, Event{Kind: EventTwoFactorDisabled, AccountID: updated.ID, Email: updated.Email, Success: true})
	return &MessageResult{Status: StatusSuccess, Message: msgTwoFactorDisabled}, nil
}

// RunGenerateBackupCodes replaces any stored batch with a fresh one. The
// plaintext codes are returned only here.
func RunGenerateBackupCodes(ctx context.Context, accountID, confirmation string, deps Deps) (*BackupCodesResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	acct, err := deps.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, deps.fault("backup codes lookup", err)
	}
	if !acct.TwoFactor.Enabled {
		return &BackupCodesResult{Status: StatusTwoFactorNotEnabled, Message: msgTwoFactorNotEnabled}, nil
	}
	if !deps.confirmed(acct, confirmation) {
		deps.observe(ctx, Event{Kind: EventTwoFactorFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusConfirmationRejected, Metadata: map[string]string{"stage": "backup_codes"}})
		return &BackupCodesResult{Status: StatusConfirmationRejected, Message: msgConfirmationRejected}, nil
	}

	codes, hashes, err := deps.Backup.GenerateBatch()
	if err != nil {
		return nil, deps.fault("generate backup codes", err)
	}

	enabled := true
	updated, err := deps.Accounts.Update(ctx, accountID, func(a *account.Account) error {
		enabled = a.TwoFactor.Enabled
		if !enabled {
			return account.ErrNoChange
		}
		a.SetBackupCodes(hashes)
		return nil
	})
	if err != nil {
		return nil, deps.fault("store backup codes", err)
	}
	if !enabled {
		return &BackupCodesResult{Status: StatusTwoFactorNotEnabled, Message: msgTwoFactorNotEnabled}, nil
	}

	deps.observe(ctx, Event{Kind: EventBackupCodesGenerated, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"count": itoa(len(codes))}})
	return &BackupCodesResult{Status: StatusSuccess, Message: msgBackupCodesGenerated, Codes: codes}, nil
}

// confirmed checks the password, or the fixed phrase for accounts without one.
func (d Deps) confirmed(acct *account.Account, confirmation string) bool {
	if acct.HasPassword() {
		ok, err := d.Passwords.Verify(confirmation, acct.PasswordHash)
		if err != nil {
			d.log().Warn("confirmation password check failed", zap.String("account_id", acct.ID), zap.Error(err))
			return false
		}
		return ok
	}
	phrase := d.Policy.FederationConfirmPhrase
	if phrase == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(confirmation)), []byte(phrase)) == 1
}

// acceptTOTP matches code against the account's secret and refuses a step
// that was already used.
func acceptTOTP(deps Deps, a *account.Account, code string, now time.Time) (int64, bool) {
	step, ok := deps.TOTP.Match(a.TwoFactor.TOTPSecret, code, now)
	if !ok || step <= a.TwoFactor.TOTPLastStep {
		return 0, false
	}
	return step, true
}
