// Command postline runs the postline API server and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postline/cmd/internal/app"
	"postline/cmd/internal/logutil"
	"postline/cmd/internal/realtime"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("postline failed")
		cancel()
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "postline",
		Usage:   "Posts and comments API with rotating JWT sessions",
		Version: version,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			watchCmd(),
			versionCmd(),
		},
	}
}

func serveCmd() *cli.Command {
	cfg := app.LoadConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API and the realtime session feed",
		Flags: append(commonFlags(&cfg),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Address to bind the HTTP server",
				EnvVars:     []string{app.EnvHTTPAddr},
				Value:       cfg.HTTPAddr,
				Destination: &cfg.HTTPAddr,
			},
			&cli.DurationFlag{
				Name:        "read-header-timeout",
				EnvVars:     []string{app.EnvReadHeaderTimeout},
				Value:       cfg.ReadHeaderTimeout,
				Destination: &cfg.ReadHeaderTimeout,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				EnvVars:     []string{app.EnvReadTimeout},
				Value:       cfg.ReadTimeout,
				Destination: &cfg.ReadTimeout,
			},
			&cli.DurationFlag{
				Name:        "write-timeout",
				EnvVars:     []string{app.EnvWriteTimeout},
				Value:       cfg.WriteTimeout,
				Destination: &cfg.WriteTimeout,
			},
			&cli.DurationFlag{
				Name:        "idle-timeout",
				EnvVars:     []string{app.EnvIdleTimeout},
				Value:       cfg.IdleTimeout,
				Destination: &cfg.IdleTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-body-bytes",
				Usage:       "Largest accepted JSON request body",
				EnvVars:     []string{app.EnvMaxBodyBytes},
				Value:       cfg.MaxBodyBytes,
				Destination: &cfg.MaxBodyBytes,
			},
			&cli.BoolFlag{
				Name:        "auto-migrate",
				Usage:       "Apply the schema before serving",
				EnvVars:     []string{app.EnvAutoMigrate},
				Value:       cfg.AutoMigrate,
				Destination: &cfg.AutoMigrate,
			},
			&cli.BoolFlag{
				Name:        "readiness-require-db",
				Usage:       "Report not ready unless Postgres is configured and reachable",
				EnvVars:     []string{app.EnvReadinessRequireDB},
				Value:       cfg.ReadinessRequireDB,
				Destination: &cfg.ReadinessRequireDB,
			},
			&cli.BoolFlag{
				Name:        "require-token-hmac",
				Usage:       "Refuse to start unless refresh-token fingerprints are HMAC keyed",
				EnvVars:     []string{app.EnvRequireTokenHMAC},
				Value:       cfg.RequireTokenHMAC,
				Destination: &cfg.RequireTokenHMAC,
			},
		),
		Action: func(c *cli.Context) error {
			if err := applyIntFlags(c, &cfg); err != nil {
				return err
			}
			logger := app.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			log.Logger = logger
			ctx := logutil.WithLogger(c.Context, logger)

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func migrateCmd() *cli.Command {
	cfg := app.LoadConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the postline schema and tables (idempotent)",
		Flags: commonFlags(&cfg),
		Action: func(c *cli.Context) error {
			if err := applyIntFlags(c, &cfg); err != nil {
				return err
			}
			logger := app.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			return app.Migrate(c.Context, cfg, logger)
		},
	}
}

func watchCmd() *cli.Command {
	opts := realtime.WatchOptions{URL: "ws://127.0.0.1:8080/ws/sessions"}
	logLevel, logFormat := "info", "pretty"
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the session feed of one user and print every event",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "WebSocket address of the session feed",
				Value:       opts.URL,
				Destination: &opts.URL,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "Access token of the user to follow",
				EnvVars:     []string{"POSTLINE_ACCESS_TOKEN"},
				Required:    true,
				Destination: &opts.AccessToken,
			},
			&cli.StringFlag{
				Name:        "origin",
				Usage:       "Origin header to send, as a browser would",
				Destination: &opts.Origin,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Handshake timeout",
				Value:       10 * time.Second,
				Destination: &opts.HandshakeTimeout,
			},
			&cli.StringFlag{Name: "log-level", Value: logLevel, Destination: &logLevel},
			&cli.StringFlag{Name: "log-format", Value: logFormat, Destination: &logFormat},
		},
		Action: func(c *cli.Context) error {
			logger := app.NewLogger(os.Stderr, logLevel, logFormat)
			return realtime.Watch(c.Context, opts, func(env realtime.Envelope) error {
				logger.Info().
					Str("type", env.Type).
					Str("id", env.ID).
					Time("ts", env.TS).
					RawJSON("payload", env.Payload).
					Msg("feed.event")
				return nil
			})
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the build version",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintln(c.App.Writer, version)
			return err
		},
	}
}

// commonFlags binds the logging and database settings shared by every
// command that touches Postgres.
func commonFlags(cfg *app.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			EnvVars:     []string{app.EnvLogLevel},
			Value:       cfg.LogLevel,
			Destination: &cfg.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "json or pretty",
			EnvVars:     []string{app.EnvLogFormat},
			Value:       cfg.LogFormat,
			Destination: &cfg.LogFormat,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Aliases:     []string{"db"},
			Usage:       "Postgres connection string; empty runs on in-memory stores",
			EnvVars:     []string{app.EnvDatabaseURL},
			Value:       cfg.DatabaseURL,
			Destination: &cfg.DatabaseURL,
		},
		&cli.StringFlag{
			Name:        "db-schema",
			EnvVars:     []string{app.EnvDBSchema},
			Value:       cfg.DBSchema,
			Destination: &cfg.DBSchema,
		},
		&cli.IntFlag{
			Name:    "db-max-conns",
			EnvVars: []string{app.EnvDBMaxConns},
			Value:   int(cfg.DBMaxConns),
		},
	}
}

// applyIntFlags copies flags whose config field is narrower than int.
func applyIntFlags(c *cli.Context, cfg *app.Config) error {
	n := c.Int("db-max-conns")
	if n < 0 || n > 1<<15 {
		return fmt.Errorf("db-max-conns out of range: %d", n)
	}
	cfg.DBMaxConns = int32(n) // #nosec G115 -- bounded above.
	return nil
}
