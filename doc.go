// Package goIdentity is the identity and multi-factor authentication core of
// an e-learning backend: password login, emailed and authenticator second
// factors, backup codes, registration with email verification, password
// reset, and federated id token login.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Results and errors
//
// Every use case returns a result struct whose Status field is drawn from a
// closed set ([StatusSuccess], [StatusInvalidCode], [StatusAccountLocked], ...)
// together with a user-safe Message. Expected outcomes such as a wrong code
// are never errors. A non-nil error means a fault: the account store or
// Redis is down ([ErrUnavailable]), a collaborator is missing
// ([ErrMisconfigured]), or the engine was not built ([ErrEngineNotReady]).
//
// # Architecture boundaries
//
// goIdentity is the public surface. Flow orchestration, code hashing,
// one-time codes, TOTP, backup codes, bridge tokens, and rate limiting live
// under internal/ and are never exported. Persistence goes through
// [account.Repository]; mail goes through [mail.Sender] behind an
// asynchronous dispatcher, so a slow mail server never blocks a login.
//
// # Concurrency
//
// Every code, token, and backup code check-and-consume happens inside one
// [account.Repository.Update] call. Two requests racing on the same code
// cannot both succeed.
package goIdentity
