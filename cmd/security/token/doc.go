// Package token signs and verifies the service's bearer tokens and derives
// the fingerprints under which refresh tokens are stored.
//
// Tokens are HS256 JWTs carrying sub, iat, exp and a ULID jti. Access and
// refresh tokens use independent secrets, so a token of one kind never
// verifies as the other. Callers only see Claims{Subject, ExpiresAt}.
//
// Fingerprints are HMAC-SHA256(token, key) when a key is configured and
// SHA-256(token) otherwise, always as 64 hex characters.
package token
