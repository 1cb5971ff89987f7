// Package flows contains the use-case orchestrators behind every Engine
// operation.
//
// Each Run* function takes the shared Deps and returns a typed result.
// Expected outcomes such as a wrong code or an unverified email are reported
// through Status; only faults come back as errors.
//
// Flows hold no state between calls and never import goIdentity. Account
// slots are changed only through account.Repository.Update.
package flows
