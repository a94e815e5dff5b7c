package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/pkg/protocol"
)

// HandleWS is the handshake gate. It runs every admission check before any
// duplex communication begins and creates no state on a rejection: origin
// allow-list, credential presence, then verification (the only step that may
// block). Only a fully verified request is upgraded and registered.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.originAllowed(origin) {
		h.logger.Warn("handshake rejected", "reason", "bad_origin", "origin", origin)
		h.metrics.Incr("handshakes_rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Browsers cannot set headers on a WebSocket handshake, so the credential
	// travels as a query parameter. Its value is never logged.
	credential := r.URL.Query().Get("token")
	if credential == "" {
		h.logger.Warn("handshake rejected", "reason", "missing_credential")
		h.metrics.Incr("handshakes_rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		reason := string(auth.Reason(err))
		if reason == "" {
			reason = "internal"
		}
		h.logger.Warn("handshake rejected", "reason", reason)
		h.metrics.Incr("handshakes_rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(h.maxMsgBytes)

	client := newClient(uuid.New().String(), identity.Username, conn)
	if err := h.add(client); err != nil {
		client.close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	client.startGovernor(h.rateWindow)
	client.startKeepalive()

	defer func() {
		client.close(websocket.CloseNormalClosure, "")
		h.remove(client)
	}()

	h.readLoop(client)
}

// readLoop processes frames from one connection to completion, in arrival
// order. It returns when the transport reports an error, which includes the
// peer closing, a read-limit breach, and any server-initiated close.
func (h *Hub) readLoop(c *Client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				// Oversized frames die at the transport layer, before parsing.
				h.logger.Debug("frame exceeded read limit", "conn_id", c.id, "limit", h.maxMsgBytes)
				h.metrics.Incr("frames_dropped")
			} else {
				h.logger.Debug("read loop ended", "conn_id", c.id, "error", err)
			}
			return
		}

		if !c.allowMessage(h.rateMax) {
			h.logger.Warn("rate limit exceeded, closing connection",
				"user", c.username, "conn_id", c.id, "max", h.rateMax, "window", h.rateWindow)
			h.metrics.Incr("policy_closes")
			c.close(websocket.ClosePolicyViolation, "message rate limit exceeded")
			return
		}

		var frame protocol.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.logger.Debug("malformed frame dropped", "conn_id", c.id)
			h.metrics.Incr("frames_dropped")
			continue
		}
		if frame.Type != protocol.TypeChat {
			h.logger.Debug("unrecognized frame type dropped", "conn_id", c.id, "type", frame.Type)
			h.metrics.Incr("frames_dropped")
			continue
		}
		if n := utf8.RuneCountInString(frame.Message); n == 0 || n > h.maxMsgChars {
			h.logger.Debug("chat message out of bounds dropped", "conn_id", c.id, "chars", n)
			h.metrics.Incr("frames_dropped")
			continue
		}

		payload, err := encodeChat(c.username, sanitizeText(frame.Message), time.Now())
		if err != nil {
			h.logger.Warn("encode chat event failed", "error", err)
			continue
		}
		h.Broadcast(payload, c)
	}
}
