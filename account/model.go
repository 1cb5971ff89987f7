package account

import (
	"errors"
	"strings"
	"time"
)

// TwoFactorMethod identifies the second factor an account uses at login.
type TwoFactorMethod string

const (
	// MethodNone means no second factor is configured.
	MethodNone TwoFactorMethod = ""
	// MethodEmail delivers a one-time code to the account email.
	MethodEmail TwoFactorMethod = "email"
	// MethodAuthenticator validates RFC 6238 codes from an authenticator app.
	MethodAuthenticator TwoFactorMethod = "authenticator"
)

// Valid reports whether m is a known method.
func (m TwoFactorMethod) Valid() bool {
	switch m {
	case MethodNone, MethodEmail, MethodAuthenticator:
		return true
	default:
		return false
	}
}

// CodePurpose selects one of the three one-time code slots on an account.
type CodePurpose uint8

const (
	// PurposeEmailVerification confirms ownership of the registration email.
	PurposeEmailVerification CodePurpose = iota + 1
	// PurposePasswordReset gates the password reset flow.
	PurposePasswordReset
	// PurposeTwoFactorEmail is the emailed second factor during login.
	PurposeTwoFactorEmail
)

func (p CodePurpose) String() string {
	switch p {
	case PurposeEmailVerification:
		return "email_verification"
	case PurposePasswordReset:
		return "password_reset"
	case PurposeTwoFactorEmail:
		return "two_factor_email"
	default:
		return "unknown"
	}
}

// TokenKind selects one of the two bridge token slots on an account.
type TokenKind uint8

const (
	// TokenTwoFactor bridges a password login to the second-factor step.
	TokenTwoFactor TokenKind = iota + 1
	// TokenPasswordReset bridges a verified reset code to the new-password step.
	TokenPasswordReset
)

func (k TokenKind) String() string {
	switch k {
	case TokenTwoFactor:
		return "two_factor"
	case TokenPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// CodeSlot holds one pending one-time code. An empty CodeHash means the slot
// is absent; Attempts counts failed comparisons since the last issue.
type CodeSlot struct {
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
}

// Active reports whether a code is currently stored.
func (s CodeSlot) Active() bool {
	return s.CodeHash != ""
}

// Clear removes the code and resets the attempt counter.
func (s *CodeSlot) Clear() {
	*s = CodeSlot{}
}

// TokenSlot holds one pending bridge token hash.
type TokenSlot struct {
	TokenHash string
	ExpiresAt time.Time
}

// Active reports whether a token is currently stored.
func (s TokenSlot) Active() bool {
	return s.TokenHash != ""
}

// Clear removes the token.
func (s *TokenSlot) Clear() {
	*s = TokenSlot{}
}

// TwoFactorSettings is the second-factor configuration of an account.
// BackupCodeHashes never contains plaintext codes. TOTPLastStep is the time
// step of the last accepted authenticator code; codes at or below it are
// refused.
type TwoFactorSettings struct {
	Enabled              bool
	Method               TwoFactorMethod
	TOTPSecret           string
	TOTPLastStep         int64
	BackupCodeHashes     []string
	BackupCodesRemaining int
}

// Account is the persisted identity record together with its credential
// slots. Slot fields are mutated only inside Repository.Update.
type Account struct {
	ID              string
	Email           string
	Username        string
	FirstName       string
	LastName        string
	AvatarURL       string
	HasCustomAvatar bool
	Active          bool
	EmailConfirmed  bool
	PasswordHash    string
	Roles           []string

	EmailVerification CodeSlot
	PasswordReset     CodeSlot
	TwoFactorEmail    CodeSlot

	PasswordResetToken TokenSlot
	TwoFactorToken     TokenSlot

	TwoFactor TwoFactorSettings

	ExternalProvider  string
	ExternalSubjectID string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Code returns the slot for purpose, or nil for an unknown purpose.
func (a *Account) Code(purpose CodePurpose) *CodeSlot {
	switch purpose {
	case PurposeEmailVerification:
		return &a.EmailVerification
	case PurposePasswordReset:
		return &a.PasswordReset
	case PurposeTwoFactorEmail:
		return &a.TwoFactorEmail
	default:
		return nil
	}
}

// Token returns the bridge token slot for kind, or nil for an unknown kind.
func (a *Account) Token(kind TokenKind) *TokenSlot {
	switch kind {
	case TokenTwoFactor:
		return &a.TwoFactorToken
	case TokenPasswordReset:
		return &a.PasswordResetToken
	default:
		return nil
	}
}

// HasPassword reports whether the account can log in with a password.
// Federation-only accounts have no password hash.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// DisplayName joins first and last name, falling back to the username.
func (a *Account) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
	if name == "" {
		return a.Username
	}
	return name
}

// SetBackupCodes replaces the stored backup code hashes and keeps the
// remaining counter equal to the list length.
func (a *Account) SetBackupCodes(hashes []string) {
	if len(hashes) == 0 {
		a.TwoFactor.BackupCodeHashes = nil
		a.TwoFactor.BackupCodesRemaining = 0
		return
	}
	out := make([]string, len(hashes))
	copy(out, hashes)
	a.TwoFactor.BackupCodeHashes = out
	a.TwoFactor.BackupCodesRemaining = len(out)
}

// DisableTwoFactor clears every second-factor field and pending 2FA slot.
func (a *Account) DisableTwoFactor() {
	a.TwoFactor = TwoFactorSettings{}
	a.TwoFactorEmail.Clear()
	a.TwoFactorToken.Clear()
}

// Validate checks the structural invariants of the account record.
func (a *Account) Validate() error {
	if a.Email == "" {
		return errors.New("account email is required")
	}
	if a.Email != NormalizeEmail(a.Email) {
		return errors.New("account email must be normalized")
	}
	if !a.TwoFactor.Method.Valid() {
		return errors.New("unknown two-factor method")
	}
	if a.TwoFactor.Enabled && a.TwoFactor.Method == MethodNone {
		return errors.New("enabled two-factor requires a method")
	}
	if a.TwoFactor.Enabled && a.TwoFactor.Method == MethodAuthenticator && a.TwoFactor.TOTPSecret == "" {
		return errors.New("authenticator method requires a secret")
	}
	if a.TwoFactor.BackupCodesRemaining != len(a.TwoFactor.BackupCodeHashes) {
		return errors.New("backup code counter out of sync")
	}
	return nil
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Roles != nil {
		out.Roles = append([]string(nil), a.Roles...)
	}
	if a.TwoFactor.BackupCodeHashes != nil {
		out.TwoFactor.BackupCodeHashes = append([]string(nil), a.TwoFactor.BackupCodeHashes...)
	}
	return &out
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
