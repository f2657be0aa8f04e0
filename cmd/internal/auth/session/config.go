package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// AccessSecret and RefreshSecret are independent HS256 keys.
	AccessSecret  string
	RefreshSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// CASRetries bounds re-reads after a lost compare-and-swap.
	CASRetries int
}

// DefaultConfig returns lifetimes and retry bounds. Secrets are left empty
// on purpose and must come from the environment.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		CASRetries:      5,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - JWT_SECRET
//   - JWT_REFRESH_SECRET (must differ from JWT_SECRET)
//
// Optional (Go durations, or a whole number of days such as "7d"):
//   - JWT_EXPIRATION
//   - JWT_REFRESH_EXPIRATION
//   - POSTLINE_AUTH_CAS_RETRIES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.AccessSecret = os.Getenv("JWT_SECRET")
	cfg.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return Config{}, ErrConfig
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return Config{}, ErrConfig
	}

	if v := os.Getenv("JWT_EXPIRATION"); v != "" {
		d, err := parseTTL(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("JWT_REFRESH_EXPIRATION"); v != "" {
		d, err := parseTTL(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("POSTLINE_AUTH_CAS_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.CASRetries = n
	}

	if cfg.RefreshTokenTTL < cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// parseTTL accepts Go durations plus an "<n>d" day form. Result must be > 0.
func parseTTL(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, ErrConfig
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
