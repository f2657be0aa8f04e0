package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"

	"postline/cmd/internal/httpjson"
)

// Config controls auth API request limits.
type Config struct {
	MaxBodyBytes int64

	// Failed-login throttling. Zero LoginIPMax and no tiers disable it.
	LoginIPMax      int
	LoginIPWindow   time.Duration
	LoginUserWindow time.Duration
	LockoutTiers    []LockoutTier
}

// LockoutTier locks an account for Duration after Threshold failures.
type LockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// LoadConfigFromEnv reads POSTLINE_MAX_BODY_BYTES and the POSTLINE_LOGIN_*
// throttle settings.
func LoadConfigFromEnv() Config {
	return Config{
		MaxBodyBytes:    envInt64("POSTLINE_MAX_BODY_BYTES", httpjson.DefaultMaxBodyBytes),
		LoginIPMax:      int(envInt64("POSTLINE_LOGIN_IP_MAX", 30)),
		LoginIPWindow:   envDuration("POSTLINE_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserWindow: envDuration("POSTLINE_LOGIN_USER_WINDOW", time.Hour),
		LockoutTiers: []LockoutTier{
			{Threshold: int(envInt64("POSTLINE_LOCKOUT_SEVERE_THRESHOLD", 50)), Duration: envDuration("POSTLINE_LOCKOUT_SEVERE_DURATION", 2*time.Hour)},
			{Threshold: int(envInt64("POSTLINE_LOCKOUT_LONG_THRESHOLD", 20)), Duration: envDuration("POSTLINE_LOCKOUT_LONG_DURATION", 30*time.Minute)},
			{Threshold: int(envInt64("POSTLINE_LOCKOUT_SHORT_THRESHOLD", 10)), Duration: envDuration("POSTLINE_LOCKOUT_SHORT_DURATION", 5*time.Minute)},
		},
	}
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
