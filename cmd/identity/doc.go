// Package identity is the credential store: user records with their
// password hash and the fingerprints of currently valid refresh tokens.
//
// Two implementations share the Store contract: PostgresStore for
// deployments and MemoryStore for dev mode and tests. Writes to the refresh
// token list are compare-and-swap on the record version, so callers can
// run read-modify-write cycles without holding a database lock.
package identity
