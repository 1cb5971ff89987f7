package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/password"
)

// RegisterRequest is the registration command.
type RegisterRequest struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// RegisterResult reports the registration outcome.
type RegisterResult struct {
	Status    Status
	Message   string
	AccountID string
}

// CodeResult reports an email-code verification. Remaining is set for
// StatusInvalidCode; Session is set on successful email verification.
type CodeResult struct {
	Status    Status
	Message   string
	Remaining int
	Session   *Session
}

// MessageResult is the shape of use cases that only report a status.
type MessageResult struct {
	Status  Status
	Message string
}

// RunRegister creates an unverified account and mails its verification code.
func RunRegister(ctx context.Context, req RegisterRequest, deps Deps) (*RegisterResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}

	email := account.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if !plausibleEmail(email) || username == "" {
		return nil, invalidInput(deps, "email and username are required")
	}

	existing, err := deps.Accounts.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.EmailConfirmed:
		return &RegisterResult{Status: StatusEmailAlreadyExists, Message: msgEmailExists}, nil
	case err == nil:
		return &RegisterResult{Status: StatusEmailNotVerified, Message: msgUnverifiedExists, AccountID: existing.ID}, nil
	case !lookupMissing(err):
		return nil, deps.fault("register lookup", err)
	}

	if !deps.passwordAcceptable(req.Password) {
		return &RegisterResult{Status: StatusPasswordPolicy, Message: msgPasswordPolicy}, nil
	}
	hash, err := deps.Passwords.Hash(req.Password)
	if err != nil {
		if isPolicyError(err) {
			return &RegisterResult{Status: StatusPasswordPolicy, Message: msgPasswordPolicy}, nil
		}
		return nil, deps.fault("register hash", err)
	}

	acct := &account.Account{
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Active:       true,
		PasswordHash: hash,
		Roles:        append([]string(nil), deps.Policy.DefaultRoles...),
	}
	code, err := deps.Codes.Issue(&acct.EmailVerification, deps.now())
	if err != nil {
		return nil, deps.fault("register issue code", err)
	}
	if err := deps.Accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			return &RegisterResult{Status: StatusEmailAlreadyExists, Message: msgEmailExists}, nil
		}
		return nil, deps.fault("register create", err)
	}

	deps.send(ctx, acct, mail.Message{Kind: mail.KindOTP, Code: code, Purpose: account.PurposeEmailVerification})
	deps.observe(ctx, Event{Kind: EventRegistered, AccountID: acct.ID, Email: acct.Email, Success: true})
	deps.observe(ctx, Event{Kind: EventCodeSent, AccountID: acct.ID, Email: acct.Email, Success: true, Metadata: map[string]string{"purpose": account.PurposeEmailVerification.String()}})

	return &RegisterResult{Status: StatusSuccess, Message: msgRegistered, AccountID: acct.ID}, nil
}

// RunVerifyEmailOTP confirms the registration email and logs the account in.
func RunVerifyEmailOTP(ctx context.Context, email, code string, deps Deps) (*CodeResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	email = account.NormalizeEmail(email)

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if lookupMissing(err) {
			return &CodeResult{Status: StatusCodeNotFound, Message: msgCodeNotFound}, nil
		}
		return nil, deps.fault("verify email lookup", err)
	}
	if acct.EmailConfirmed {
		return &CodeResult{Status: StatusAlreadyVerified, Message: msgAlreadyVerified}, nil
	}

	now := deps.now()
	var out otp.Outcome
	var already bool
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		out, already = otp.Outcome{}, false
		if a.EmailConfirmed {
			already = true
			return account.ErrNoChange
		}
		out = deps.Codes.Verify(&a.EmailVerification, code, now)
		if out.Result == otp.ResultSuccess {
			a.EmailConfirmed = true
		}
		if !out.Changed {
			return account.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, deps.fault("verify email update", err)
	}
	if already {
		return &CodeResult{Status: StatusAlreadyVerified, Message: msgAlreadyVerified}, nil
	}

	if out.Result != otp.ResultSuccess {
		res := codeFailure(out)
		deps.observe(ctx, Event{Kind: EventEmailVerificationFailure, AccountID: acct.ID, Email: acct.Email, Status: res.Status})
		return res, nil
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindWelcome})
	deps.observe(ctx, Event{Kind: EventEmailVerified, AccountID: updated.ID, Email: updated.Email, Success: true})

	if !updated.Active {
		return &CodeResult{Status: StatusSuccess, Message: msgEmailVerified}, nil
	}
	sess, err := deps.mintSession(ctx, updated)
	if err != nil {
		return nil, err
	}
	return &CodeResult{Status: StatusSuccess, Message: msgEmailVerified, Session: sess}, nil
}

// RunResendEmailOTP re-issues the verification code. Unknown emails receive the
// same response as known ones.
func RunResendEmailOTP(ctx context.Context, email string, deps Deps) (*MessageResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	email = account.NormalizeEmail(email)
	sent := &MessageResult{Status: StatusSuccess, Message: msgCodeSent}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if lookupMissing(err) {
			return sent, nil
		}
		return nil, deps.fault("resend lookup", err)
	}
	if acct.EmailConfirmed {
		return &MessageResult{Status: StatusAlreadyVerified, Message: msgAlreadyVerified}, nil
	}
	if !deps.allowCodeSend(ctx, account.PurposeEmailVerification, email) {
		return sent, nil
	}

	now := deps.now()
	var code string
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		code = ""
		if a.EmailConfirmed {
			return account.ErrNoChange
		}
		c, err := deps.Codes.Issue(&a.EmailVerification, now)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		return nil, deps.fault("resend update", err)
	}
	if code == "" {
		return &MessageResult{Status: StatusAlreadyVerified, Message: msgAlreadyVerified}, nil
	}

	deps.send(ctx, updated, mail.Message{Kind: mail.KindOTP, Code: code, Purpose: account.PurposeEmailVerification})
	deps.observe(ctx, Event{Kind: EventCodeSent, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"purpose": account.PurposeEmailVerification.String()}})
	return sent, nil
}

func codeFailure(out otp.Outcome) *CodeResult {
	switch out.Result {
	case otp.ResultInvalidCode:
		return &CodeResult{Status: StatusInvalidCode, Message: remainingMessage("Invalid code.", out.Remaining), Remaining: out.Remaining}
	case otp.ResultExpired:
		return &CodeResult{Status: StatusCodeExpired, Message: msgCodeExpired}
	case otp.ResultAttemptsExceeded:
		return &CodeResult{Status: StatusAttemptsExceeded, Message: msgCodeExhausted}
	default:
		return &CodeResult{Status: StatusCodeNotFound, Message: msgCodeNotFound}
	}
}

func (d Deps) passwordAcceptable(pw string) bool {
	min := d.Policy.MinPasswordLength
	if min <= 0 {
		min = password.MinLength
	}
	return len(pw) >= min
}

func isPolicyError(err error) bool {
	return errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong)
}

func plausibleEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func invalidInput(deps Deps, reason string) error {
	if deps.Errors.InvalidInput == nil {
		return errors.New(reason)
	}
	return fmt.Errorf("%w: %s", deps.Errors.InvalidInput, reason)
}
