package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is how often the hub sends WebSocket ping frames.
	wsPingInterval = 30 * time.Second
	// wsPongWait is the maximum time to wait for a pong from the peer.
	wsPongWait = 60 * time.Second
)

// Client is one live, authenticated connection. The identity is bound at
// handshake and never changes for the life of the connection.
type Client struct {
	id       string
	username string
	conn     *websocket.Conn

	// writeMu serializes every write to the connection, including control
	// frames from the keepalive goroutine.
	writeMu sync.Mutex

	// Fixed-window message counter, owned exclusively by this connection.
	countMu  sync.Mutex
	msgCount int

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id, username string, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		username: username,
		conn:     conn,
		done:     make(chan struct{}),
	}
}

// Username returns the identity bound to the connection.
func (c *Client) Username() string { return c.username }

// send writes one pre-serialized payload to the connection.
func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// allowMessage counts one inbound frame against the current window and
// reports whether it is still within the threshold.
func (c *Client) allowMessage(max int) bool {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	c.msgCount++
	return c.msgCount <= max
}

// startGovernor launches the recurring window reset for the rate counter.
// The goroutine stops when the client closes; every close path releases it.
func (c *Client) startGovernor(window time.Duration) {
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.countMu.Lock()
				c.msgCount = 0
				c.countMu.Unlock()
			case <-c.done:
				return
			}
		}
	}()
}

// startKeepalive sets up ping/pong on the connection: a read deadline, a pong
// handler that extends it, and a goroutine sending periodic pings. It shares
// the client's write mutex and stops with the client.
func (c *Client) startKeepalive() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-c.done:
				return
			}
		}
	}()
}

// close tears the connection down: best-effort close frame with the given
// code and reason, transport close, and release of the governor and
// keepalive goroutines. Safe to call from any close path; only the first
// call takes effect.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
		close(c.done)
	})
}
