// Package limiters holds the Redis counters that guard code delivery and
// second-factor verification.
//
// CodeSendLimiter throttles mailed codes per email and, optionally, per IP.
// SecondFactorLimiter caps authenticator and backup code failures per account.
// Both only count; the calling flow decides what a limit means. Methods on a
// nil receiver return nil.
package limiters
