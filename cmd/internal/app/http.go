package app

import (
	"net/http"
	"runtime/debug"
	"time"

	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/logutil"

	"github.com/julienschmidt/httprouter"
)

// routes builds the router with every operational, API and realtime route.
func (a *App) routes() *httprouter.Router {
	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		logutil.FromContext(r.Context()).Error().
			Interface("panic", v).
			Bytes("stack", debug.Stack()).
			Msg("http.panic")
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeServerError, "Internal Server Error")
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, "Not Found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.WriteError(w, http.StatusMethodNotAllowed, httpjson.CodeInvalidRequest, "Method Not Allowed")
	})

	router.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	router.HandlerFunc(http.MethodGet, "/readyz", a.handleReady)
	router.Handler(http.MethodGet, "/metrics", a.metrics.Handler())

	a.auth.Routes(router, a.gate)
	a.content.Routes(router, a.gate)
	router.Handler(http.MethodGet, "/ws/sessions", clearDeadlines(a.gate.ProtectStream(a.ws)))

	return router
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			logutil.FromContext(r.Context()).Warn().Err(err).Msg("readyz.db.not_ready")
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// clearDeadlines lifts the server read/write timeouts for long-lived
// streams; the gateway runs its own heartbeat and write deadlines.
func clearDeadlines(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}
