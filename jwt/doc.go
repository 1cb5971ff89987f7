// Package jwt signs and verifies the session credential returned after a
// completed login. Ed25519 is the default; HS256 is available for single-node
// deployments. Each credential carries a fresh jti.
package jwt
