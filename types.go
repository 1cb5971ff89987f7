package goIdentity

import (
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/jwt"
)

// Status is the closed set of terminal states a use case reports. Callers
// switch on it to choose a response; Message carries the user-safe text.
type Status = flows.Status

const (
	StatusSuccess              = flows.StatusSuccess
	StatusRequiresTwoFactor    = flows.StatusRequiresTwoFactor
	StatusInvalidCredentials   = flows.StatusInvalidCredentials
	StatusInvalidCode          = flows.StatusInvalidCode
	StatusCodeExpired          = flows.StatusCodeExpired
	StatusAttemptsExceeded     = flows.StatusAttemptsExceeded
	StatusCodeNotFound         = flows.StatusCodeNotFound
	StatusAccountLocked        = flows.StatusAccountLocked
	StatusAccountDeactivated   = flows.StatusAccountDeactivated
	StatusEmailNotVerified     = flows.StatusEmailNotVerified
	StatusEmailAlreadyExists   = flows.StatusEmailAlreadyExists
	StatusAlreadyVerified      = flows.StatusAlreadyVerified
	StatusUserBanned           = flows.StatusUserBanned
	StatusResetTokenExpired    = flows.StatusResetTokenExpired
	StatusResetTokenInvalid    = flows.StatusResetTokenInvalid
	StatusPasswordPolicy       = flows.StatusPasswordPolicy
	StatusConfirmationRejected = flows.StatusConfirmationRejected
	StatusTwoFactorNotEnabled  = flows.StatusTwoFactorNotEnabled
	StatusEnrollmentNotStarted = flows.StatusEnrollmentNotStarted
	StatusAlreadyEnabled       = flows.StatusAlreadyEnabled
	StatusRateLimited          = flows.StatusRateLimited
)

// Session is the credential minted at the end of a successful login, email
// verification, or federated login, together with the user projection.
type Session = flows.Session

// User is the profile projection returned alongside a Session.
type User = flows.User

// LoginResult is returned by Login, VerifyTwoFactor, and FederatedLogin.
type LoginResult = flows.LoginResult

// RegisterRequest carries the fields of a new password account.
type RegisterRequest = flows.RegisterRequest

// RegisterResult is returned by Register.
type RegisterResult = flows.RegisterResult

// CodeResult is returned by VerifyEmailOTP.
type CodeResult = flows.CodeResult

// MessageResult is returned by use cases that only report a status.
type MessageResult = flows.MessageResult

// ResetResult is returned by VerifyPasswordResetOTP.
type ResetResult = flows.ResetResult

// TwoFactorStatusResult is returned by TwoFactorStatus.
type TwoFactorStatusResult = flows.TwoFactorStatusResult

// EnrollmentResult is returned by BeginAuthenticatorEnrollment.
type EnrollmentResult = flows.EnrollmentResult

// BackupCodesResult is returned by GenerateBackupCodes and RegenerateBackupCodes.
type BackupCodesResult = flows.BackupCodesResult

// Claims are the verified contents of a session credential.
type Claims = jwt.SessionClaims
