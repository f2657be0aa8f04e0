package app

import (
	"errors"
	"fmt"

	"postline/cmd/security/token"
)

// minFingerprintKeyBytes is the smallest accepted HMAC-SHA256 key.
const minFingerprintKeyBytes = 32

// fingerprinterFor picks how refresh tokens are stored and enforces the
// keyed-fingerprint policy. A configured key that is too short always fails.
func fingerprinterFor(cfg Config) (token.Fingerprinter, error) {
	fp, err := token.FingerprinterFromEnv(minFingerprintKeyBytes)
	if err != nil {
		if errors.Is(err, token.ErrFingerprintKeyTooShort) {
			return token.Fingerprinter{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.FingerprintKeyEnv, minFingerprintKeyBytes)
		}
		return token.Fingerprinter{}, err
	}
	if cfg.RequireTokenHMAC && !fp.Keyed() {
		return token.Fingerprinter{}, fmt.Errorf("security policy: %s=true but %s is missing", EnvRequireTokenHMAC, token.FingerprintKeyEnv)
	}
	return fp, nil
}
