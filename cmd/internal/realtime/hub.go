package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"postline/cmd/internal/auth/session"
)

// Gauge receives the number of connected clients. prometheus.Gauge
// satisfies it.
type Gauge interface {
	Set(float64)
}

// Hub tracks connected clients per user and fans session events out to
// them. It implements session.Notifier.
type Hub struct {
	log   zerolog.Logger
	gauge Gauge

	mu      sync.RWMutex
	byUser  map[string]map[string]*Client
	clients int
}

// NewHub constructs a Hub. gauge may be nil.
func NewHub(log zerolog.Logger, gauge Gauge) *Hub {
	return &Hub{
		log:    log,
		gauge:  gauge,
		byUser: make(map[string]map[string]*Client),
	}
}

var _ session.Notifier = (*Hub)(nil)

// Join subscribes c to events for c.UserID.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.byUser[c.UserID] = set
	}
	if _, dup := set[c.ID]; !dup {
		set[c.ID] = c
		h.clients++
	}
	n := h.clients
	h.mu.Unlock()

	h.report(n)
	h.log.Debug().Str("user_id", c.UserID).Str("client_id", c.ID).Msg("ws.client.join")
}

// Leave removes c and signals it to shut down. Removal happens before Close
// so a publisher never enqueues to a client that is being torn down.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	removed := false
	if set, ok := h.byUser[c.UserID]; ok {
		if _, ok := set[c.ID]; ok {
			delete(set, c.ID)
			h.clients--
			removed = true
		}
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	n := h.clients
	h.mu.Unlock()

	c.Close()
	if removed {
		h.report(n)
		h.log.Debug().Str("user_id", c.UserID).Str("client_id", c.ID).Msg("ws.client.leave")
	}
}

// Publish delivers ev to every client of ev.UserID without blocking. A
// client whose queue is full is dropped.
func (h *Hub) Publish(_ context.Context, ev session.Event) {
	env, err := newEnvelope(ev.Kind, RevokedPayload{UserID: ev.UserID, Reason: ev.Reason}, time.Now().UTC())
	if err != nil {
		h.log.Error().Err(err).Msg("ws.publish.encode.fail")
		return
	}

	var slow []*Client

	h.mu.RLock()
	for _, c := range h.byUser[ev.UserID] {
		select {
		case <-c.Done():
			continue
		default:
		}
		select {
		case c.Send <- env:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("user_id", c.UserID).Str("client_id", c.ID).Msg("ws.client.drop.backpressure")
		h.Leave(c)
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients
}

func (h *Hub) report(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}
