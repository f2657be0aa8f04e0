// Package password hashes and verifies user passwords.
//
// New hashes are Argon2id in the PHC-style encoding
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash> unless the config
// selects bcrypt. Verify accepts both encodings, so accounts imported with
// bcrypt hashes keep working.
//
// Hash strings are untrusted input during Verify: encodings with cost
// parameters far above the configured ones are refused.
package password
