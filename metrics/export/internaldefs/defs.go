package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Logins that issued a session."},
	{ID: goIdentity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Failed login attempts."},
	{ID: goIdentity.MetricLoginRateLimited, Name: "identity_login_rate_limited_total", Help: "Login attempts refused by the throttle."},
	{ID: goIdentity.MetricTwoFactorRequired, Name: "identity_two_factor_required_total", Help: "Logins that stopped at the second factor."},
	{ID: goIdentity.MetricTwoFactorSuccess, Name: "identity_two_factor_success_total", Help: "Accepted second-factor codes."},
	{ID: goIdentity.MetricTwoFactorFailure, Name: "identity_two_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: goIdentity.MetricTwoFactorLocked, Name: "identity_two_factor_locked_total", Help: "Second-factor challenges ended by the failure limit."},
	{ID: goIdentity.MetricBackupCodeUsed, Name: "identity_backup_code_used_total", Help: "Backup codes consumed at login."},
	{ID: goIdentity.MetricRegistered, Name: "identity_registered_total", Help: "Accounts created through registration."},
	{ID: goIdentity.MetricEmailVerified, Name: "identity_email_verified_total", Help: "Confirmed registration emails."},
	{ID: goIdentity.MetricEmailVerificationFailure, Name: "identity_email_verification_failure_total", Help: "Rejected email verification codes."},
	{ID: goIdentity.MetricCodeSent, Name: "identity_code_sent_total", Help: "One-time codes queued for delivery."},
	{ID: goIdentity.MetricCodeSendThrottled, Name: "identity_code_send_throttled_total", Help: "Code sends suppressed by the throttle."},
	{ID: goIdentity.MetricPasswordResetRequested, Name: "identity_password_reset_requested_total", Help: "Password reset codes issued."},
	{ID: goIdentity.MetricPasswordResetVerified, Name: "identity_password_reset_verified_total", Help: "Reset codes exchanged for a reset token."},
	{ID: goIdentity.MetricPasswordResetFailure, Name: "identity_password_reset_failure_total", Help: "Rejected reset codes or reset tokens."},
	{ID: goIdentity.MetricPasswordChanged, Name: "identity_password_changed_total", Help: "Passwords replaced through reset."},
	{ID: goIdentity.MetricPasswordUpgraded, Name: "identity_password_upgraded_total", Help: "Password hashes re-hashed at login."},
	{ID: goIdentity.MetricTwoFactorEnabled, Name: "identity_two_factor_enabled_total", Help: "Second-factor methods enabled."},
	{ID: goIdentity.MetricTwoFactorDisabled, Name: "identity_two_factor_disabled_total", Help: "Second factor turned off."},
	{ID: goIdentity.MetricAuthenticatorEnrollmentStarted, Name: "identity_authenticator_enrollment_started_total", Help: "Authenticator secrets handed out for confirmation."},
	{ID: goIdentity.MetricBackupCodesGenerated, Name: "identity_backup_codes_generated_total", Help: "Backup code batches generated."},
	{ID: goIdentity.MetricFederatedLogin, Name: "identity_federated_login_total", Help: "Successful federated logins."},
	{ID: goIdentity.MetricFederatedFailure, Name: "identity_federated_failure_total", Help: "Rejected federated id tokens."},
	{ID: goIdentity.MetricFederatedAccountCreated, Name: "identity_federated_account_created_total", Help: "Accounts created on first federated login."},
	{ID: goIdentity.MetricFederatedAccountLinked, Name: "identity_federated_account_linked_total", Help: "Existing accounts linked to a provider subject."},
	{ID: goIdentity.MetricFederatedSubjectMismatch, Name: "identity_federated_subject_mismatch_total", Help: "Federated logins whose subject differed from the linked one."},
	{ID: goIdentity.MetricCredentialIssued, Name: "identity_credential_issued_total", Help: "Session credentials minted."},
	{ID: goIdentity.MetricCredentialRejected, Name: "identity_credential_rejected_total", Help: "Session credentials that failed validation."},
	{ID: goIdentity.MetricMailDropped, Name: "identity_mail_dropped_total", Help: "Messages the engine could not queue."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricLoginLatency, Name: "identity_login_latency_seconds", Help: "Login latency histogram."},
	{ID: goIdentity.MetricValidateLatency, Name: "identity_validate_latency_seconds", Help: "Credential validation latency histogram."},
}

// HistogramBounds are the Prometheus le labels of the eight engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
