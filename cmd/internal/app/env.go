package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env lookups fall back to def when the variable is unset, blank or does not
// parse. Numeric helpers also reject values outside their accepted range.

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// EnvBool reads a bool env var with a default.
func EnvBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool)
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	n := envParse(key, int64(def), func(s string) (int64, error) { return strconv.ParseInt(s, 10, 0) })
	if n <= 0 {
		return def
	}
	return int(n)
}

// EnvInt64 reads a positive int64 env var with a default.
func EnvInt64(key string, def int64) int64 {
	n := envParse(key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	if n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 env var with a default.
func EnvInt32(key string, def int32) int32 {
	n := envParse(key, int64(def), func(s string) (int64, error) { return strconv.ParseInt(s, 10, 32) })
	if n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads a positive duration env var with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	d := envParse(key, def, time.ParseDuration)
	if d <= 0 {
		return def
	}
	return d
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}
