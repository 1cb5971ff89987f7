package flows

// EventKind names an observable flow transition. The engine maps each kind to
// a metric counter and an audit event.
type EventKind uint8

const (
	EventLoginSuccess EventKind = iota + 1
	EventLoginFailure
	EventLoginRateLimited
	EventTwoFactorRequired
	EventTwoFactorSuccess
	EventTwoFactorFailure
	EventTwoFactorLocked
	EventBackupCodeUsed
	EventRegistered
	EventEmailVerified
	EventEmailVerificationFailure
	EventCodeSent
	EventCodeSendThrottled
	EventPasswordResetRequested
	EventPasswordResetVerified
	EventPasswordResetFailure
	EventPasswordChanged
	EventPasswordUpgraded
	EventTwoFactorEnabled
	EventTwoFactorDisabled
	EventAuthenticatorEnrollmentStarted
	EventBackupCodesGenerated
	EventFederatedLogin
	EventFederatedFailure
	EventFederatedAccountCreated
	EventFederatedAccountLinked
	EventFederatedSubjectMismatch
	EventCredentialIssued
	EventMailDropped

	eventKindCount
)

var eventNames = [...]string{
	EventLoginSuccess:                   "login_success",
	EventLoginFailure:                   "login_failure",
	EventLoginRateLimited:               "login_rate_limited",
	EventTwoFactorRequired:              "two_factor_required",
	EventTwoFactorSuccess:               "two_factor_success",
	EventTwoFactorFailure:               "two_factor_failure",
	EventTwoFactorLocked:                "two_factor_locked",
	EventBackupCodeUsed:                 "backup_code_used",
	EventRegistered:                     "registered",
	EventEmailVerified:                  "email_verified",
	EventEmailVerificationFailure:       "email_verification_failure",
	EventCodeSent:                       "code_sent",
	EventCodeSendThrottled:              "code_send_throttled",
	EventPasswordResetRequested:         "password_reset_requested",
	EventPasswordResetVerified:          "password_reset_verified",
	EventPasswordResetFailure:           "password_reset_failure",
	EventPasswordChanged:                "password_changed",
	EventPasswordUpgraded:               "password_upgraded",
	EventTwoFactorEnabled:               "two_factor_enabled",
	EventTwoFactorDisabled:              "two_factor_disabled",
	EventAuthenticatorEnrollmentStarted: "authenticator_enrollment_started",
	EventBackupCodesGenerated:           "backup_codes_generated",
	EventFederatedLogin:                 "federated_login",
	EventFederatedFailure:               "federated_failure",
	EventFederatedAccountCreated:        "federated_account_created",
	EventFederatedAccountLinked:         "federated_account_linked",
	EventFederatedSubjectMismatch:       "federated_subject_mismatch",
	EventCredentialIssued:               "credential_issued",
	EventMailDropped:                    "mail_dropped",
}

func (k EventKind) String() string {
	if k > 0 && k < eventKindCount {
		return eventNames[k]
	}
	return "unknown"
}

// EventKinds returns every defined kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, eventKindCount-1)
	for k := EventLoginSuccess; k < eventKindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Event is reported through Deps.Observe. Metadata must not contain codes,
// tokens, secrets, or hashes.
type Event struct {
	Kind      EventKind
	AccountID string
	Email     string
	Success   bool
	Status    Status
	Err       error
	Metadata  map[string]string
}
