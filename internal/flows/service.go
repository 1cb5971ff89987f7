package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.ready()
}

func (s Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	return RunLogin(ctx, email, password, s.deps)
}

func (s Service) VerifyTwoFactor(ctx context.Context, bridgeToken, code string, useBackupCode bool) (*LoginResult, error) {
	return RunVerifyTwoFactor(ctx, bridgeToken, code, useBackupCode, s.deps)
}

func (s Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	return RunRegister(ctx, req, s.deps)
}

func (s Service) VerifyEmailOTP(ctx context.Context, email, code string) (*CodeResult, error) {
	return RunVerifyEmailOTP(ctx, email, code, s.deps)
}

func (s Service) ResendEmailOTP(ctx context.Context, email string) (*MessageResult, error) {
	return RunResendEmailOTP(ctx, email, s.deps)
}

func (s Service) ForgotPassword(ctx context.Context, email string) (*MessageResult, error) {
	return RunForgotPassword(ctx, email, s.deps)
}

func (s Service) VerifyResetOTP(ctx context.Context, email, code string) (*ResetResult, error) {
	return RunVerifyResetOTP(ctx, email, code, s.deps)
}

func (s Service) SetNewPassword(ctx context.Context, email, resetToken, newPassword string) (*MessageResult, error) {
	return RunSetNewPassword(ctx, email, resetToken, newPassword, s.deps)
}

func (s Service) FederatedLogin(ctx context.Context, idToken string) (*LoginResult, error) {
	return RunFederatedLogin(ctx, idToken, s.deps)
}

func (s Service) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatusResult, error) {
	return RunTwoFactorStatus(ctx, accountID, s.deps)
}

func (s Service) EnableEmailMethod(ctx context.Context, accountID string) (*MessageResult, error) {
	return RunEnableEmailMethod(ctx, accountID, s.deps)
}

func (s Service) BeginAuthenticatorEnrollment(ctx context.Context, accountID string) (*EnrollmentResult, error) {
	return RunBeginAuthenticatorEnrollment(ctx, accountID, s.deps)
}

func (s Service) ConfirmAuthenticatorEnrollment(ctx context.Context, accountID, code string) (*MessageResult, error) {
	return RunConfirmAuthenticatorEnrollment(ctx, accountID, code, s.deps)
}

func (s Service) DisableTwoFactor(ctx context.Context, accountID, confirmation string) (*MessageResult, error) {
	return RunDisableTwoFactor(ctx, accountID, confirmation, s.deps)
}

func (s Service) GenerateBackupCodes(ctx context.Context, accountID, confirmation string) (*BackupCodesResult, error) {
	return RunGenerateBackupCodes(ctx, accountID, confirmation, s.deps)
}
