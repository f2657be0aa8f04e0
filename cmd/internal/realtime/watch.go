package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrRejected is returned by Watch when the server refuses the handshake.
var ErrRejected = errors.New("realtime: feed handshake rejected")

// WatchOptions configures a client subscription to the session feed.
type WatchOptions struct {
	URL              string // ws:// or wss:// address of /ws/sessions
	AccessToken      string
	Origin           string // optional, sent like a browser would
	HandshakeTimeout time.Duration
}

// Watch subscribes to the session feed and calls fn for every envelope until
// ctx ends, the server closes the stream or fn returns an error. A clean
// close or a cancelled ctx returns nil.
func Watch(ctx context.Context, opts WatchOptions, fn func(Envelope) error) error {
	if err := validateFeedURL(opts.URL); err != nil {
		return fmt.Errorf("realtime: feed url: %w", err)
	}
	if err := validateOrigin(opts.Origin); err != nil {
		return fmt.Errorf("realtime: origin: %w", err)
	}
	if strings.TrimSpace(opts.AccessToken) == "" {
		return errors.New("realtime: access token required")
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+opts.AccessToken)
	if opts.Origin != "" {
		h.Set("Origin", opts.Origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, resp, err := websocket.Dial(dialCtx, opts.URL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   h,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return fmt.Errorf("%w: http %d", ErrRejected, resp.StatusCode)
		}
		return err
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "unexpected subprotocol")
		return fmt.Errorf("%w: subprotocol %q", ErrRejected, sp)
	}
	conn.SetReadLimit(maxFrameBytes)

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}
