// Package internal holds the pieces of goIdentity that are not public API.
//
//   - flows: the identity use cases as functions over an explicit Deps
//   - otp, totp, backup, bridge: code and token engines
//   - codehash: peppered HMAC used by the engines above
//   - rate, limiters: Redis-backed throttles
package internal
