package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidSignature covers tampered, malformed, wrongly signed or
	// incomplete tokens.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrExpired is returned for well-formed tokens past their expiry.
	ErrExpired = errors.New("token expired")

	ErrSecretMissing = errors.New("token secret missing")
)
