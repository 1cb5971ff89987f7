// Package password hashes account passwords with argon2id.
//
// Hashes use the PHC string format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// [Hasher] also verifies bcrypt hashes left by older deployments and reports
// them, along with argon2id hashes made with weaker costs, through
// [Hasher.NeedsUpgrade] so the login flow can re-hash them. Only byte-length
// bounds are enforced here; the rest of the password policy lives in the
// flows.
package password
