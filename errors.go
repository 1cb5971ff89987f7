package goIdentity

import "errors"

// Expected outcomes (wrong code, unknown email, locked account) are reported
// through result Status values. The sentinels below cover faults and misuse.
var (
	// ErrEngineNotReady is returned when a use case runs on an engine that
	// was not produced by Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnavailable wraps account store, Redis, and credential backend failures.
	ErrUnavailable = errors.New("identity backend unavailable")
	// ErrMisconfigured is returned when a required collaborator is missing.
	ErrMisconfigured = errors.New("identity engine misconfigured")
	// ErrInternal wraps unexpected failures such as a broken random source.
	ErrInternal = errors.New("identity internal error")
	// ErrInvalidInput is returned for malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccountNotFound is returned by operations addressed by account id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenInvalid is returned by ValidateCredential for any rejected credential.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrFederationDisabled is returned by FederatedLogin when no verifier is configured.
	ErrFederationDisabled = errors.New("federated login not configured")
	// ErrBuilderUsed is returned when Build runs twice on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
)
