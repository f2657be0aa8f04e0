package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"postline/cmd/internal/auth/session"
	"postline/cmd/internal/realtime"
)

var (
	_ session.Observer = (*Metrics)(nil)
	_ realtime.Gauge   = NewMetrics().WSClients()
)

func TestMetrics_AuthEvents(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.AuthEvent("login", "success")
	m.AuthEvent("login", "success")
	m.AuthEvent("refresh", "reuse")

	require.Equal(t, 2.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authEvents.WithLabelValues("refresh", "reuse")))
}

func TestMetrics_ObserveRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveRequest("GET", "/post/:id", 404, 20*time.Millisecond)
	m.ObserveRequest("GET", "/post/:id", 200, 5*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/post/:id", "4xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/post/:id", "2xx")))
	require.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	t.Parallel()

	a, b := NewMetrics(), NewMetrics()
	a.WSClients().Set(3)

	require.Equal(t, 3.0, testutil.ToFloat64(a.wsClients))
	require.Equal(t, 0.0, testutil.ToFloat64(b.wsClients))
}

func TestMetrics_RouteLabelsStayBounded(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/post/:id", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := WithRequestLogging(router, zerolog.Nop(), m, router)

	for i := 0; i < 50; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/scan/%d", i), nil))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/post/bad%d", i), nil))
	}

	require.Equal(t, 2, testutil.CollectAndCount(m.httpRequests))
	require.Equal(t, 50.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, unmatchedRoute, "4xx")))
	require.Equal(t, 50.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/post/:id", "4xx")))
	require.Equal(t, 2, testutil.CollectAndCount(m.httpDuration))
}
