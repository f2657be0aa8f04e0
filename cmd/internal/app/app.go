// Package app wires the postline server runtime: config, logging, metrics,
// storage, HTTP routes and the realtime session feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"postline/cmd/identity"
	authapi "postline/cmd/internal/auth/api"
	"postline/cmd/internal/auth/session"
	"postline/cmd/internal/content"
	"postline/cmd/internal/logutil"
	"postline/cmd/internal/pgschema"
	"postline/cmd/internal/realtime"
	"postline/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// App owns every long-lived dependency of the server process.
type App struct {
	cfg Config
	log zerolog.Logger

	pool *pgxpool.Pool // nil in in-memory mode

	metrics  *Metrics
	sessions *session.Service
	gate     *authapi.Gate
	auth     *authapi.Handler
	content  *content.Handler
	hub      *realtime.Hub
	ws       *realtime.Gateway

	handlerOnce sync.Once
	handler     http.Handler
}

// New constructs a fully wired App. Without a database URL it runs on
// in-memory stores.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("app: password config: %w", err)
	}
	fp, err := fingerprinterFor(cfg)
	if err != nil {
		return nil, err
	}
	wsCfg := realtime.GatewayConfigFromEnv()

	a := &App{cfg: cfg, log: log, metrics: NewMetrics()}

	users, posts, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(log, a.metrics.WSClients())
	a.sessions, err = session.NewService(sessCfg, users, hasher,
		session.WithNotifier(a.hub),
		session.WithObserver(a.metrics),
		session.WithFingerprinter(fp),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gate = authapi.NewGate(a.sessions.Codec())

	authCfg := authapi.LoadConfigFromEnv()
	authCfg.MaxBodyBytes = cfg.MaxBodyBytes
	if a.auth, err = authapi.NewHandler(authCfg, a.sessions); err != nil {
		a.Close()
		return nil, err
	}
	if a.content, err = content.NewHandler(posts, cfg.MaxBodyBytes); err != nil {
		a.Close()
		return nil, err
	}
	if a.ws, err = realtime.NewGateway(a.hub, wsCfg); err != nil {
		a.Close()
		return nil, err
	}

	log.Info().
		Bool("db_enabled", a.pool != nil).
		Bool("token_hmac", fp.Keyed()).
		Dur("access_ttl", sessCfg.AccessTokenTTL).
		Dur("refresh_ttl", sessCfg.RefreshTokenTTL).
		Msg("app.ready")
	return a, nil
}

func (a *App) openStores(ctx context.Context) (identity.Store, content.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info().Msg("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), content.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.AutoMigrate {
		if err := pgschema.Apply(ctx, pool, a.cfg.DBSchema); err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.log.Info().Str("schema", a.cfg.DBSchema).Msg("db.migrate.ok")
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	posts, err := content.NewPostgresStore(pool, a.cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	a.pool = pool
	a.log.Info().Str("schema", a.cfg.DBSchema).Msg("db.enabled.postgres_store")
	return users, posts, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	a.handlerOnce.Do(func() {
		router := a.routes()
		a.handler = WithRequestLogging(WithSecurityHeaders(router), a.log, a.metrics, router)
	})
	return a.handler
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	// Hijacked streams outlive Shutdown; cancelling their base context ends them.
	baseCtx, cancelBase := context.WithCancel(logutil.WithLogger(context.Background(), a.log))
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZero(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZero(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZero(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZero(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZero(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	a.log.Info().Str("addr", a.cfg.HTTPAddr).Bool("db_enabled", a.pool != nil).Msg("server.start")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Str("reason", "context_done").Msg("server.stop")
	case err := <-errCh:
		a.log.Error().Err(err).Msg("server.fail")
		a.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZero(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error().Err(err).Msg("server.shutdown.fail")
	}
	a.Close()
	a.log.Info().Msg("server.stopped")
	return err
}

// Close releases the database pool, if any. It is safe to call twice.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZero[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
