package app

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"postline/cmd/internal/logutil"

	"github.com/julienschmidt/httprouter"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the per-request id back to the client.
const RequestIDHeader = "X-Request-ID"

// WithRequestLogging logs and measures every request, and puts a
// request-scoped logger into the request context. Metric route labels come
// from the patterns registered on router.
//
// The wrapped ResponseWriter keeps http.Hijacker and http.Flusher working,
// otherwise WebSocket upgrades fail.
func WithRequestLogging(next http.Handler, log zerolog.Logger, metrics *Metrics, router *httprouter.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := ulid.Make().String()
		w.Header().Set(RequestIDHeader, reqID)
		reqLog := log.With().Str("request_id", reqID).Logger()

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r.WithContext(logutil.WithLogger(r.Context(), reqLog)))

		elapsed := time.Since(start)
		route := routeLabel(router, r.Method, r.URL.Path)
		if metrics != nil {
			metrics.ObserveRequest(r.Method, route, lrw.status, elapsed)
		}

		level, result := requestLogMeta(lrw.status)
		reqLog.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", lrw.status).
			Str("result", result).
			Int64("bytes", lrw.bytes).
			Dur("duration", elapsed).
			Str("remote", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("http.request")
	})
}

// WithSecurityHeaders sets the response headers every API reply carries.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func requestLogMeta(status int) (zerolog.Level, string) {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel, "server_error"
	case status >= 400:
		return zerolog.WarnLevel, "client_error"
	case status >= 300:
		return zerolog.InfoLevel, "redirect"
	default:
		return zerolog.InfoLevel, "success"
	}
}

// unmatchedRoute labels every request no registered route serves.
const unmatchedRoute = "unmatched"

// routeLabel turns a request path back into the pattern it matched, e.g.
// /post/01HZ.../comments -> /post/:id/comments, so metric labels stay
// bounded by the route table.
func routeLabel(router *httprouter.Router, method, path string) string {
	if router == nil {
		return unmatchedRoute
	}
	handle, params, _ := router.Lookup(method, path)
	if handle == nil {
		return unmatchedRoute
	}
	if len(params) == 0 {
		return path
	}

	parts := strings.Split(path, "/")
	for i, seg := range parts {
		if !hasParamValue(params, seg) {
			continue
		}
		// A static segment may equal a parameter value; swap in a marker and
		// see which parameter picks it up.
		swapped := slices.Clone(parts)
		swapped[i] = paramMarker
		_, got, _ := router.Lookup(method, strings.Join(swapped, "/"))
		for _, p := range got {
			if p.Value == paramMarker {
				parts[i] = ":" + p.Key
				break
			}
		}
	}
	return strings.Join(parts, "/")
}

const paramMarker = "\x00param"

func hasParamValue(params httprouter.Params, v string) bool {
	for _, p := range params {
		if p.Value == v {
			return true
		}
	}
	return false
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		// An upgraded connection reports 101 once the handler returns.
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	n, err := io.Copy(w.ResponseWriter, r)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
