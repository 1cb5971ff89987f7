// Package middleware adapts goIdentity.Engine credential validation to
// net/http.
//
// [Guard] reads the Authorization header, calls Engine.ValidateCredential, and
// stores the claims in the request context for [ClaimsFromContext].
// [RequireRole] layers a role check on top. Neither touches the account store.
package middleware
