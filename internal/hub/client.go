package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tipcast/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096
	sendBuffer = 64
)

// inboundFrame is a client request. The id is echoed back in the ack.
type inboundFrame struct {
	ID    int64           `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is a server-initiated broadcast.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ack is the response to a single inbound frame.
type ack map[string]any

func errAck(msg string) ack {
	return ack{"error": msg}
}

// client is one websocket connection. sessionID is guarded by hub.mu.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	closeOnce sync.Once
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump dispatches inbound frames until the connection drops. Each
// request is handled to completion before the next frame is read.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.closeSend()
		_ = c.conn.Close()
		metrics.Connections.Dec()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply(0, errAck("Invalid frame"))
			continue
		}

		var resp ack
		switch frame.Event {
		case EventJoinSession:
			resp = c.hub.handleJoin(c, frame.Data)
		case EventTipSubmit:
			resp = c.hub.handleSubmit(frame.Data)
		default:
			resp = errAck("Unknown event")
		}
		c.reply(frame.ID, resp)
	}
}

// reply queues an ack on the connection's send channel. A connection too
// slow to take its own ack is dropped, the same as on the broadcast path;
// a silently lost ack would leave the request unanswered forever.
func (c *client) reply(id int64, resp ack) {
	payload := make(map[string]any, len(resp)+1)
	for k, v := range resp {
		payload[k] = v
	}
	payload["id"] = id

	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.log.Error().Err(err).Msg("encode ack")
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.detach(c)
		_ = c.conn.Close()
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings. It exits when the send channel closes or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
