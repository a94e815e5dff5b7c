// Package hub manages the WebSocket connection lifecycle for parley: the
// authenticated handshake, the registry of open connections, message
// broadcast, presence, and per-connection rate limiting.
package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/telemetry"
)

var errDraining = errors.New("hub is draining")

// Options configures the Hub.
type Options struct {
	AllowedOrigins       []string      // exact-match origin allow-list; closed policy
	RateLimitWindow      time.Duration // fixed window length (default 10s)
	RateLimitMaxMessages int           // frames per window before policy close (default 20)
	MaxMessageBytes      int64         // transport read limit (default 1024)
	MaxMessageChars      int           // chat text rune cap (default 250)
	PresenceDelay        time.Duration // disconnect presence coalescing delay (default 1s)
}

// Hub owns the registry of open connections and fans events out to them.
// The registry is mutated only by the handshake path (insert) and the close
// path (remove); broadcast iterates a snapshot taken under the read lock.
type Hub struct {
	verifier auth.Verifier
	metrics  *telemetry.Sink
	logger   *slog.Logger
	upgrader websocket.Upgrader

	originSet map[string]bool

	rateWindow    time.Duration
	rateMax       int
	maxMsgBytes   int64
	maxMsgChars   int
	presenceDelay time.Duration

	mu            sync.RWMutex
	clients       map[string]*Client
	draining      bool
	presenceTimer *time.Timer // pending delayed presence rebroadcast, nil if none
}

// New creates a Hub.
func New(v auth.Verifier, metrics *telemetry.Sink, logger *slog.Logger, opts Options) *Hub {
	originSet := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		originSet[o] = true
	}

	if opts.RateLimitWindow == 0 {
		opts.RateLimitWindow = 10 * time.Second
	}
	if opts.RateLimitMaxMessages == 0 {
		opts.RateLimitMaxMessages = 20
	}
	if opts.MaxMessageBytes == 0 {
		opts.MaxMessageBytes = 1024
	}
	if opts.MaxMessageChars == 0 {
		opts.MaxMessageChars = 250
	}
	if opts.PresenceDelay == 0 {
		opts.PresenceDelay = time.Second
	}

	h := &Hub{
		verifier:      v,
		metrics:       metrics,
		logger:        logger.With("component", "hub"),
		originSet:     originSet,
		rateWindow:    opts.RateLimitWindow,
		rateMax:       opts.RateLimitMaxMessages,
		maxMsgBytes:   opts.MaxMessageBytes,
		maxMsgChars:   opts.MaxMessageChars,
		presenceDelay: opts.PresenceDelay,
		clients:       make(map[string]*Client),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The real origin decision happens before Upgrade is called, with a
		// distinct logged reason; this only has to agree with it.
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r.Header.Get("Origin"))
		},
	}

	return h
}

func (h *Hub) originAllowed(origin string) bool {
	return origin != "" && h.originSet[origin]
}

// add inserts an admitted connection, announces it to the others, and sends a
// fresh presence snapshot to everyone including the newcomer. The immediate
// snapshot supersedes any pending disconnect rebroadcast, so a pending timer
// is canceled here; otherwise a drop and reconnect within the delay would
// emit the same userList twice.
func (h *Hub) add(c *Client) error {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return errDraining
	}
	h.clients[c.id] = c
	count := len(h.clients)
	if h.presenceTimer != nil {
		h.presenceTimer.Stop()
		h.presenceTimer = nil
	}
	h.mu.Unlock()

	h.logger.Info("client connected", "user", c.username, "conn_id", c.id, "total", count)
	h.metrics.Incr("connections_admitted")

	if payload, err := encodeAnnouncement(c.username + " has joined the chat room"); err == nil {
		h.Broadcast(payload, c)
	}
	if payload, err := encodeUserList(h.Identities()); err == nil {
		h.Broadcast(payload, nil)
	}
	return nil
}

// remove deletes a closed connection and schedules a delayed presence
// rebroadcast. Rapid connect/disconnect churn within the delay coalesces
// into at most one rebroadcast reflecting the final state: a single pending
// timer is kept, never stacked.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	count := len(h.clients)
	if h.presenceTimer == nil && !h.draining {
		h.presenceTimer = time.AfterFunc(h.presenceDelay, h.presenceRebroadcast)
	}
	h.mu.Unlock()

	h.logger.Info("client disconnected", "user", c.username, "conn_id", c.id, "total", count)
}

func (h *Hub) presenceRebroadcast() {
	h.mu.Lock()
	h.presenceTimer = nil
	draining := h.draining
	h.mu.Unlock()
	if draining {
		return
	}

	if payload, err := encodeUserList(h.Identities()); err == nil {
		h.Broadcast(payload, nil)
	}
}

// Identities returns the deduplicated, sorted set of identities with at
// least one open connection. An identity may hold several connections but
// appears once.
func (h *Hub) Identities() []string {
	h.mu.RLock()
	seen := make(map[string]bool, len(h.clients))
	for _, c := range h.clients {
		seen[c.username] = true
	}
	h.mu.RUnlock()

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers one pre-serialized payload to every open connection
// except exclude. The same bytes go to every recipient. A send failure is
// logged and counted but never aborts delivery to the rest; the failing
// connection's own close handling fires independently.
func (h *Hub) Broadcast(payload []byte, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			h.logger.Warn("broadcast send failed", "user", c.username, "conn_id", c.id, "error", err)
			h.metrics.Incr("broadcast_send_errors")
		}
	}
	h.metrics.Incr("broadcasts")
}

// Close marks the hub as draining and closes every open connection. Each
// connection runs its ordinary close path (registry removal, governor
// teardown) as its read loop unwinds. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return
	}
	h.draining = true
	if h.presenceTimer != nil {
		h.presenceTimer.Stop()
		h.presenceTimer = nil
	}
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing all connections", "count", len(targets))
	for _, c := range targets {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
