// Package password hashes and verifies account passwords.
//
// # Output format
//
// New digests are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts migrated from an earlier bcrypt deployment keep verifying through
// the [Bcrypt] scheme. [Hasher.Verify] reports needsRehash for those and for
// Argon2id digests with weaker parameters, so the caller can replace the
// stored digest on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length, entropy) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goSession package.
//   - Log plaintext passwords or hash parameters.
package password
