package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// FingerprintKeyEnv names the optional HMAC key for refresh-token fingerprints.
// #nosec G101 -- environment variable name, not a credential.
const FingerprintKeyEnv = "POSTLINE_TOKEN_HMAC_KEY"

// ErrFingerprintKeyTooShort is returned when the configured key is below the minimum size.
var ErrFingerprintKeyTooShort = errors.New("token fingerprint key too short")

// Fingerprinter derives the stored form of a refresh token.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a Fingerprinter. An empty key selects plain SHA-256.
func NewFingerprinter(key []byte) Fingerprinter {
	return Fingerprinter{key: key}
}

// FingerprinterFromEnv reads FingerprintKeyEnv. A set key must be at least minBytes long.
func FingerprinterFromEnv(minBytes int) (Fingerprinter, error) {
	raw := strings.TrimSpace(os.Getenv(FingerprintKeyEnv))
	if raw == "" {
		return Fingerprinter{}, nil
	}
	if len(raw) < minBytes {
		return Fingerprinter{}, ErrFingerprintKeyTooShort
	}
	return Fingerprinter{key: []byte(raw)}, nil
}

// Keyed reports whether fingerprints are HMAC-based.
func (f Fingerprinter) Keyed() bool { return len(f.key) > 0 }

// Of returns the 64-char hex fingerprint of tok.
func (f Fingerprinter) Of(tok string) string {
	if len(f.key) == 0 {
		sum := sha256.Sum256([]byte(tok))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, f.key)
	_, _ = m.Write([]byte(tok))
	return hex.EncodeToString(m.Sum(nil))
}
