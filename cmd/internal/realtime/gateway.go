package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"postline/cmd/internal/auth/api"
	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/logutil"
)

const (
	defaultSendQueueSize     = 16
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultAllowedOrigins    = "http://localhost,http://127.0.0.1"

	// The feed is server-push; clients only send control frames.
	maxFrameBytes = 4 << 10

	maxPingFailures = 3
)

// GatewayConfig tunes the session feed.
type GatewayConfig struct {
	AllowedOrigins    []string
	SendQueueSize     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
}

// GatewayConfigFromEnv reads POSTLINE_WS_* variables.
func GatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    envCSV("POSTLINE_WS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		SendQueueSize:     envInt("POSTLINE_WS_SEND_QUEUE", defaultSendQueueSize),
		HeartbeatInterval: envDuration("POSTLINE_WS_HEARTBEAT_INTERVAL", defaultHeartbeatInterval),
		HeartbeatTimeout:  envDuration("POSTLINE_WS_HEARTBEAT_TIMEOUT", defaultHeartbeatTimeout),
		WriteTimeout:      envDuration("POSTLINE_WS_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Gateway upgrades authenticated requests to the session feed. It must be
// mounted behind the auth Gate.
type Gateway struct {
	hub            *Hub
	cfg            GatewayConfig
	originPatterns []string
}

// NewGateway constructs a Gateway publishing from hub.
func NewGateway(hub *Hub, cfg GatewayConfig) (*Gateway, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Gateway{
		hub:            hub,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())

	userID, ok := authapi.SubjectFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, http.StatusUnauthorized, httpjson.CodeUnauthenticated, "Access Denied")
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		log.Info().Err(err).Str("origin", r.Header.Get("Origin")).Msg("ws.reject.origin")
		httpjson.WriteError(w, http.StatusForbidden, httpjson.CodeForbidden, "origin not allowed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		log.Info().Err(err).Msg("ws.accept.fail")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		log.Info().Str("got", sp).Msg("ws.reject.subprotocol")
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol "+Subprotocol+" required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	client := NewClient(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(), userID, g.cfg.SendQueueSize)

	ready, err := newEnvelope(TypeReady, ReadyPayload{UserID: userID}, now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encode failed")
		return
	}
	// Queue the ready frame before joining so it is always first.
	client.Send <- ready

	g.hub.Join(client)
	defer g.hub.Leave(client)

	// Reads are only needed to process control frames and notice the peer
	// going away.
	ctx := conn.CloseRead(r.Context())

	log.Info().Str("user_id", userID).Str("client_id", client.ID).Msg("ws.connect")
	code, reason := g.pump(ctx, conn, client)
	_ = conn.Close(code, reason)
	log.Info().Str("user_id", userID).Str("client_id", client.ID).Str("reason", reason).Msg("ws.disconnect")
}

// pump writes queued envelopes and heartbeats until the connection ends.
func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn, client *Client) (websocket.StatusCode, string) {
	log := logutil.FromContext(ctx)

	heartbeat := time.NewTicker(g.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "peer closed"
		case <-client.Done():
			return websocket.StatusPolicyViolation, "too slow"
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				log.Info().Err(err).Str("client_id", client.ID).Msg("ws.write.fail")
				return websocket.StatusAbnormalClosure, "write failed"
			}
		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				log.Info().Err(err).Str("client_id", client.ID).Int("failures", failures).Msg("ws.ping.fail")
				if failures >= maxPingFailures {
					return websocket.StatusGoingAway, "heartbeat failed"
				}
				continue
			}
			failures = 0
		}
	}
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

// enforceOrigin admits requests without an Origin (non-browser clients) and
// browser requests whose origin is allowlisted.
func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns turns the allowlist into websocket.Accept host patterns so
// both origin checks agree. Accept matches against host[:port], so every host
// also gets a port wildcard.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			seen["*"] = struct{}{}
			continue
		}
		if h := originHostOnly(a); h != "" {
			seen[h] = struct{}{}
			seen[h+":*"] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
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

func envCSV(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	out := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
