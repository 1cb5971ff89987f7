package flows

// Status is the closed set of terminal states a use case can report.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusRequiresTwoFactor
	StatusInvalidCredentials
	StatusInvalidCode
	StatusCodeExpired
	StatusAttemptsExceeded
	StatusCodeNotFound
	StatusAccountLocked
	StatusAccountDeactivated
	StatusEmailNotVerified
	StatusEmailAlreadyExists
	StatusAlreadyVerified
	StatusUserBanned
	StatusResetTokenExpired
	StatusResetTokenInvalid
	StatusPasswordPolicy
	StatusConfirmationRejected
	StatusTwoFactorNotEnabled
	StatusEnrollmentNotStarted
	StatusAlreadyEnabled
	StatusRateLimited
)

var statusNames = [...]string{
	StatusSuccess:              "success",
	StatusRequiresTwoFactor:    "requires_two_factor",
	StatusInvalidCredentials:   "invalid_credentials",
	StatusInvalidCode:          "invalid_code",
	StatusCodeExpired:          "code_expired",
	StatusAttemptsExceeded:     "attempts_exceeded",
	StatusCodeNotFound:         "code_not_found",
	StatusAccountLocked:        "account_locked",
	StatusAccountDeactivated:   "account_deactivated",
	StatusEmailNotVerified:     "email_not_verified",
	StatusEmailAlreadyExists:   "email_already_exists",
	StatusAlreadyVerified:      "already_verified",
	StatusUserBanned:           "user_banned",
	StatusResetTokenExpired:    "reset_token_expired",
	StatusResetTokenInvalid:    "reset_token_invalid",
	StatusPasswordPolicy:       "password_policy",
	StatusConfirmationRejected: "confirmation_rejected",
	StatusTwoFactorNotEnabled:  "two_factor_not_enabled",
	StatusEnrollmentNotStarted: "enrollment_not_started",
	StatusAlreadyEnabled:       "already_enabled",
	StatusRateLimited:          "rate_limited",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// OK reports whether s is a successful terminal state. RequiresTwoFactor counts
// as success of the password step.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusRequiresTwoFactor
}

// User-facing messages. They never carry hashes, secrets, or internal errors.
const (
	msgInvalidCredentials = "Invalid email or password."
	msgEmailNotVerified   = "Please verify your email before logging in."
	msgDeactivated        = "This account has been deactivated."
	msgRequiresTwoFactor  = "Second factor required."
	msgLoggedIn           = "Logged in."
	msgRateLimited        = "Too many attempts. Please try again later."

	msgSessionExpired   = "Your session has expired. Please log in again."
	msgSecondFactorBad  = "Invalid verification code."
	msgTooManyAttempts  = "Too many attempts. Please log in again."
	msgRegistered       = "Registration successful. Check your email for a verification code."
	msgEmailExists      = "An account with this email already exists."
	msgUnverifiedExists = "This email is registered but not verified. Request a new code to continue."
	msgPasswordPolicy   = "Password does not meet the requirements."
	msgEmailVerified    = "Email verified."
	msgAlreadyVerified  = "This email is already verified."
	msgCodeSent         = "If an account exists for this email, a new code has been sent."
	msgCodeExpired      = "This code has expired. Please request a new one."
	msgCodeNotFound     = "No active code. Please request a new one."
	msgCodeExhausted    = "Too many incorrect attempts. Please request a new code."

	msgResetRequested    = "If an account exists for this email, a password reset code has been sent."
	msgResetVerified     = "Code verified. You can now choose a new password."
	msgResetTokenExpired = "Your reset session has expired. Please restart the password reset."
	msgResetTokenInvalid = "Invalid reset token."
	msgPasswordChanged   = "Password updated."

	msgTwoFactorEnabled     = "Two-factor authentication enabled."
	msgTwoFactorDisabled    = "Two-factor authentication disabled."
	msgTwoFactorNotEnabled  = "Two-factor authentication is not enabled."
	msgAlreadyEnabled       = "This method is already enabled."
	msgEnrollmentStarted    = "Scan the code with your authenticator app, then confirm with a generated code."
	msgEnrollmentNotStarted = "Authenticator enrollment has not been started."
	msgConfirmationRejected = "Confirmation failed."
	msgBackupCodesGenerated = "Store these backup codes somewhere safe. They will not be shown again."

	msgUserBanned = "This account has been suspended."
)
