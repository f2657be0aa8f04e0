package app

import (
	"time"

	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/pgschema"
)

// Config contains the runtime configuration of the server process.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// AutoMigrate applies the embedded schema on start when a database is configured.
	AutoMigrate bool

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// RequireTokenHMAC refuses to start unless refresh-token fingerprints are keyed.
	RequireTokenHMAC bool
}

// Environment variable names. The CLI binds the same names to its flags.
const (
	EnvHTTPAddr           = "POSTLINE_HTTP_ADDR"
	EnvLogLevel           = "POSTLINE_LOG_LEVEL"
	EnvLogFormat          = "POSTLINE_LOG_FORMAT"
	EnvReadHeaderTimeout  = "POSTLINE_HTTP_READ_HEADER_TIMEOUT"
	EnvReadTimeout        = "POSTLINE_HTTP_READ_TIMEOUT"
	EnvWriteTimeout       = "POSTLINE_HTTP_WRITE_TIMEOUT"
	EnvIdleTimeout        = "POSTLINE_HTTP_IDLE_TIMEOUT"
	EnvShutdownTimeout    = "POSTLINE_HTTP_SHUTDOWN_TIMEOUT"
	EnvMaxHeaderBytes     = "POSTLINE_HTTP_MAX_HEADER_BYTES"
	EnvMaxBodyBytes       = "POSTLINE_MAX_BODY_BYTES"
	EnvDatabaseURL        = "POSTLINE_DATABASE_URL"
	EnvDBSchema           = "POSTLINE_DB_SCHEMA"
	EnvDBMaxConns         = "POSTLINE_DB_MAX_CONNS"
	EnvDBMinConns         = "POSTLINE_DB_MIN_CONNS"
	EnvAutoMigrate        = "POSTLINE_AUTO_MIGRATE"
	EnvReadinessRequireDB = "POSTLINE_READINESS_REQUIRE_DB"
	EnvRequireTokenHMAC   = "POSTLINE_REQUIRE_TOKEN_HMAC"
)

// DefaultConfig returns the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		MaxBodyBytes:      httpjson.DefaultMaxBodyBytes,

		DBSchema:   pgschema.DefaultSchema,
		DBMaxConns: 10,
	}
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	def := DefaultConfig()
	return Config{
		HTTPAddr:  EnvString(EnvHTTPAddr, def.HTTPAddr),
		LogLevel:  EnvString(EnvLogLevel, def.LogLevel),
		LogFormat: EnvString(EnvLogFormat, def.LogFormat),

		ReadHeaderTimeout: EnvDuration(EnvReadHeaderTimeout, def.ReadHeaderTimeout),
		ReadTimeout:       EnvDuration(EnvReadTimeout, def.ReadTimeout),
		WriteTimeout:      EnvDuration(EnvWriteTimeout, def.WriteTimeout),
		IdleTimeout:       EnvDuration(EnvIdleTimeout, def.IdleTimeout),
		ShutdownTimeout:   EnvDuration(EnvShutdownTimeout, def.ShutdownTimeout),
		MaxHeaderBytes:    EnvInt(EnvMaxHeaderBytes, def.MaxHeaderBytes),
		MaxBodyBytes:      EnvInt64(EnvMaxBodyBytes, def.MaxBodyBytes),

		DatabaseURL: EnvString(EnvDatabaseURL, ""),
		DBSchema:    EnvString(EnvDBSchema, def.DBSchema),
		DBMaxConns:  EnvInt32(EnvDBMaxConns, def.DBMaxConns),
		DBMinConns:  EnvInt32(EnvDBMinConns, def.DBMinConns),

		AutoMigrate:        EnvBool(EnvAutoMigrate, false),
		ReadinessRequireDB: EnvBool(EnvReadinessRequireDB, false),
		RequireTokenHMAC:   EnvBool(EnvRequireTokenHMAC, false),
	}
}
