// Package hub fans tip lifecycle events out to the websocket subscribers of
// each live session and accepts inbound join/submit requests from them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tipcast/internal/metrics"
	"tipcast/internal/session"
	"tipcast/internal/tips"
	"tipcast/pkg/bus"
)

// Event names on the wire.
const (
	EventJoinSession    = "join_session"
	EventTipSubmit      = "tip_submit"
	EventTipPending     = "TIP_PENDING"
	EventTipConfirmed   = "TIP_CONFIRMED"
	EventSessionUpdated = "SESSION_UPDATED"
)

// Watcher hands accepted pending tips to the confirmation engine.
type Watcher interface {
	Watch(ctx context.Context, tip tips.Tip)
}

// Options bounds tip amounts and restricts websocket origins.
type Options struct {
	MinTip         float64
	MaxTip         float64
	AllowedOrigins []string
}

// Hub owns the per-session subscriber groups. All submission checks run
// synchronously in the reader goroutine of the submitting connection; only
// the confirmation engine works asynchronously.
type Hub struct {
	opts     Options
	sessions *session.Store
	ledger   *tips.Ledger
	guard    *tips.Guard
	watcher  Watcher
	events   *bus.Bus
	log      zerolog.Logger

	ctx      context.Context
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
}

// New wires the hub to its collaborators. ctx bounds the lifetime of
// confirmation watches started on behalf of submissions. The watcher is
// attached separately via Bind because the confirmation engine's sink is the
// hub itself.
func New(ctx context.Context, opts Options, sessions *session.Store, ledger *tips.Ledger, guard *tips.Guard, events *bus.Bus, log zerolog.Logger) *Hub {
	h := &Hub{
		opts:     opts,
		sessions: sessions,
		ledger:   ledger,
		guard:    guard,
		events:   events,
		log:      log.With().Str("component", "hub").Logger(),
		ctx:      ctx,
		groups:   make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// Bind attaches the confirmation watcher. Called exactly once at startup,
// before the hub serves any connection.
func (h *Hub) Bind(w Watcher) {
	h.watcher = w
}

// ServeHTTP upgrades the connection and runs its read/write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	metrics.Connections.Inc()

	go c.writePump()
	go c.readPump()
}

// handleJoin validates the session and moves the connection into its group.
// The snapshot is returned to the caller only, never broadcast.
func (h *Hub) handleJoin(c *client, data json.RawMessage) ack {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	// a bare string session id is accepted as well
	if err := json.Unmarshal(data, &req); err != nil {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return errAck("sessionId required")
		}
		req.SessionID = id
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return errAck("sessionId required")
	}

	sess, ok := h.sessions.Get(id)
	if !ok {
		return errAck("Session not found")
	}

	h.mu.Lock()
	h.detachLocked(c)
	group, ok := h.groups[sess.ID]
	if !ok {
		group = make(map[*client]struct{})
		h.groups[sess.ID] = group
	}
	group[c] = struct{}{}
	c.sessionID = sess.ID
	h.mu.Unlock()

	return ack{"session": sess}
}

// tipSubmitRequest is the inbound tip_submit payload.
type tipSubmitRequest struct {
	TipID     string  `json:"tipId"`
	SessionID string  `json:"sessionId"`
	TxHash    string  `json:"txHash"`
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
}

// handleSubmit runs the four validation gates in order, short-circuiting on
// the first failure, then records and announces the pending tip.
func (h *Hub) handleSubmit(data json.RawMessage) ack {
	var req tipSubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.TipsRejected.WithLabelValues("payload").Inc()
		return errAck("Invalid payload")
	}

	if err := h.validateShape(req); err != nil {
		metrics.TipsRejected.WithLabelValues("payload").Inc()
		return errAck(err.Error())
	}

	sessionID := strings.TrimSpace(req.SessionID)
	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		metrics.TipsRejected.WithLabelValues("not_found").Inc()
		return errAck("Session not found")
	}
	if !sess.Live() {
		metrics.TipsRejected.WithLabelValues("not_live").Inc()
		return errAck("Session is not live")
	}
	if !h.guard.CheckAndReserve(sessionID, req.TxHash) {
		metrics.TipsRejected.WithLabelValues("duplicate").Inc()
		return errAck("Duplicate transaction")
	}

	tipID := strings.TrimSpace(req.TipID)
	if tipID == "" {
		tipID = uuid.NewString()
	}
	from := strings.TrimSpace(req.From)
	if from == "" {
		from = tips.DefaultFrom
	}

	pending := tips.Tip{
		TipID:     tipID,
		SessionID: sessionID,
		Amount:    req.Amount,
		From:      from,
		TxHash:    tips.NormalizeTxID(req.TxHash),
		Status:    tips.StatusPending,
		Timestamp: time.Now().UTC(),
	}

	h.broadcast(sessionID, EventTipPending, pending)
	h.ledger.Record(sessionID, pending)
	h.publishEvent(bus.SubjectTipPending, pending)
	h.watcher.Watch(h.ctx, pending)

	metrics.TipsSubmitted.Inc()
	h.log.Info().
		Str("tip_id", pending.TipID).
		Str("session_id", sessionID).
		Float64("amount", pending.Amount).
		Msg("tip pending")

	return ack{"ok": true, "tipId": tipID}
}

func (h *Hub) validateShape(req tipSubmitRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return errors.New("sessionId is required")
	}
	if strings.TrimSpace(req.TxHash) == "" {
		return errors.New("txHash is required")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) ||
		req.Amount < h.opts.MinTip || req.Amount > h.opts.MaxTip {
		return fmt.Errorf("amount must be between %g and %g", h.opts.MinTip, h.opts.MaxTip)
	}
	return nil
}

// ApplyConfirmedTip satisfies the confirmation engine's sink by delegating to
// the session store.
func (h *Hub) ApplyConfirmedTip(sessionID string, amount float64) {
	h.sessions.ApplyConfirmedTip(sessionID, amount)
}

// BroadcastConfirmed announces a confirmed tip to its session group, persists
// the upgrade, and follows up with a fresh ledger-derived aggregate.
func (h *Hub) BroadcastConfirmed(tip tips.Tip) {
	h.broadcast(tip.SessionID, EventTipConfirmed, tip)
	h.ledger.Record(tip.SessionID, tip)
	h.publishEvent(bus.SubjectTipConfirmed, tip)
	metrics.TipsConfirmed.Inc()

	total, count := h.ledger.Totals(tip.SessionID)
	update := sessionUpdate{SessionID: tip.SessionID, TotalTips: total, TipsCount: count}
	h.broadcast(tip.SessionID, EventSessionUpdated, update)
	h.publishEvent(bus.SubjectSessionUpdated, update)

	h.log.Info().
		Str("tip_id", tip.TipID).
		Str("session_id", tip.SessionID).
		Float64("total", total).
		Int("count", count).
		Msg("tip confirmed")
}

type sessionUpdate struct {
	SessionID string  `json:"sessionId"`
	TotalTips float64 `json:"totalTips"`
	TipsCount int     `json:"tipsCount"`
}

// broadcast fans one event out to every subscriber of the session group,
// submitter included. Subscribers that cannot keep up are dropped.
func (h *Hub) broadcast(sessionID, event string, data any) {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}

	h.mu.Lock()
	for c := range h.groups[sessionID] {
		select {
		case c.send <- frame:
		default:
			// the read pump's teardown closes the send channel
			h.detachLocked(c)
			_ = c.conn.Close()
		}
	}
	h.mu.Unlock()

	metrics.Broadcasts.WithLabelValues(event).Inc()
}

func (h *Hub) publishEvent(subject string, v any) {
	if err := h.events.Publish(subject, v); err != nil {
		h.log.Warn().Err(err).Str("subject", subject).Msg("mirror event to bus")
	}
}

// detach removes the client from its group, if any.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	h.detachLocked(c)
	h.mu.Unlock()
}

func (h *Hub) detachLocked(c *client) {
	if c.sessionID == "" {
		return
	}
	if group, ok := h.groups[c.sessionID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, c.sessionID)
		}
	}
	c.sessionID = ""
}

func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
