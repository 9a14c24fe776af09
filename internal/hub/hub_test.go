package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tipcast/internal/monitor"
	"tipcast/internal/session"
	"tipcast/internal/tips"
	"tipcast/pkg/storage"
)

const testAddr = "kaspa:qqkqkzjvr7zwxxmjxjkmxxdwju9kjs6e9u82uh59z07vgaks6gg62v8707g73"

type stack struct {
	hub      *Hub
	sessions *session.Store
	ledger   *tips.Ledger
	srv      *httptest.Server
}

func newStack(t *testing.T, confirmDelay time.Duration) *stack {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	sessions, err := session.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("session.NewStore() error = %v", err)
	}
	ledger, err := tips.NewLedger(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("tips.NewLedger() error = %v", err)
	}

	h := New(testContext(t), Options{MinTip: 0.0001, MaxTip: 1e6}, sessions, ledger, tips.NewGuard(), nil, zerolog.Nop())
	engine := monitor.New(monitor.Config{ConfirmDelay: confirmDelay}, nil, sessions, h, zerolog.Nop())
	h.Bind(engine)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &stack{hub: h, sessions: sessions, ledger: ledger, srv: srv}
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id int64, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal request data: %v", err)
	}
	frame := map[string]any{"id": id, "event": event, "data": json.RawMessage(raw)}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

// read returns the next frame within the deadline.
func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// readEvent skips acks and returns the next broadcast with the given name.
func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := read(t, conn)
		if msg["event"] == event {
			return msg["data"].(map[string]any)
		}
	}
	t.Fatalf("no %s event within 10 frames", event)
	return nil
}

func join(t *testing.T, conn *websocket.Conn, sessionID string) map[string]any {
	t.Helper()
	send(t, conn, 1, EventJoinSession, map[string]any{"sessionId": sessionID})
	return read(t, conn)
}

func TestJoinUnknownSession(t *testing.T) {
	s := newStack(t, time.Minute)
	conn := s.dial(t)

	ack := join(t, conn, "sess_doesnotexist")
	if ack["error"] != "Session not found" {
		t.Fatalf("join ack = %v, want Session not found", ack)
	}
}

func TestHappyPathTimerConfirmation(t *testing.T) {
	s := newStack(t, 20*time.Millisecond)
	sess, err := s.sessions.Create("Friday Set", "https://stream.example/live", testAddr)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	conn := s.dial(t)
	ack := join(t, conn, sess.ID)
	snapshot, ok := ack["session"].(map[string]any)
	if !ok || snapshot["id"] != sess.ID {
		t.Fatalf("join ack = %v, want session snapshot", ack)
	}

	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 5, "from": "Alice",
	})

	// the pending broadcast reaches the submitter before the ack
	pending := read(t, conn)
	if pending["event"] != EventTipPending {
		t.Fatalf("first frame = %v, want TIP_PENDING", pending)
	}
	pendingData := pending["data"].(map[string]any)
	if pendingData["status"] != tips.StatusPending || pendingData["amount"].(float64) != 5 {
		t.Fatalf("TIP_PENDING data = %v", pendingData)
	}

	submitAck := read(t, conn)
	if submitAck["ok"] != true {
		t.Fatalf("submit ack = %v, want ok", submitAck)
	}
	tipID, _ := submitAck["tipId"].(string)
	if tipID == "" {
		t.Fatal("submit ack missing tipId")
	}
	if pendingData["tipId"] != tipID {
		t.Fatalf("TIP_PENDING tipId = %v, ack tipId = %v", pendingData["tipId"], tipID)
	}

	confirmed := readEvent(t, conn, EventTipConfirmed)
	if confirmed["tipId"] != tipID || confirmed["status"] != tips.StatusConfirmed {
		t.Fatalf("TIP_CONFIRMED data = %v", confirmed)
	}

	update := readEvent(t, conn, EventSessionUpdated)
	if update["totalTips"].(float64) != 5 || update["tipsCount"].(float64) != 1 {
		t.Fatalf("SESSION_UPDATED data = %v, want totalTips 5 tipsCount 1", update)
	}

	// ledger and store agree after confirmation
	total, count := s.ledger.Totals(sess.ID)
	if total != 5 || count != 1 {
		t.Fatalf("ledger totals = (%v, %d), want (5, 1)", total, count)
	}
	got, _ := s.sessions.Get(sess.ID)
	if got.TotalTips != 5 || got.TipsCount != 1 {
		t.Fatalf("session aggregate = (%v, %d), want (5, 1)", got.TotalTips, got.TipsCount)
	}
}

func TestDuplicateTransactionRejected(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	conn := s.dial(t)
	join(t, conn, sess.ID)

	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 5,
	})
	read(t, conn) // TIP_PENDING
	first := read(t, conn)
	if first["ok"] != true {
		t.Fatalf("first submit ack = %v", first)
	}

	// identical txHash, different amount and sender: still a duplicate
	send(t, conn, 3, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "0xABC123", "amount": 1, "from": "Bob",
	})
	second := read(t, conn)
	if second["error"] != "Duplicate transaction" {
		t.Fatalf("second submit ack = %v, want Duplicate transaction", second)
	}

	if got := s.ledger.Tips(sess.ID); len(got) != 1 {
		t.Fatalf("ledger has %d tips after duplicate, want 1", len(got))
	}
}

func TestAmountOutOfRange(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	conn := s.dial(t)
	join(t, conn, sess.ID)

	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 0.00001,
	})
	ack := read(t, conn)
	errMsg, _ := ack["error"].(string)
	if !strings.Contains(errMsg, "0.0001") {
		t.Fatalf("ack = %v, want error naming the bound", ack)
	}

	if got := s.ledger.Tips(sess.ID); len(got) != 0 {
		t.Fatal("rejected tip reached the ledger")
	}
}

func TestSubmitValidationOrder(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "missing session id",
			payload: map[string]any{"txHash": "x", "amount": 1},
			want:    "sessionId is required",
		},
		{
			name:    "missing tx hash",
			payload: map[string]any{"sessionId": sess.ID, "amount": 1},
			want:    "txHash is required",
		},
		{
			name:    "unknown session checked after shape",
			payload: map[string]any{"sessionId": "sess_nope", "txHash": "x", "amount": 1},
			want:    "Session not found",
		},
	}

	conn := s.dial(t)
	join(t, conn, sess.ID)

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, int64(10+i), EventTipSubmit, tt.payload)
			ack := read(t, conn)
			if ack["error"] != tt.want {
				t.Fatalf("ack = %v, want error %q", ack, tt.want)
			}
		})
	}
}

func TestEndedSessionFreeze(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	conn := s.dial(t)
	join(t, conn, sess.ID)

	if _, err := s.sessions.End(sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 5,
	})
	ack := read(t, conn)
	if ack["error"] != "Session is not live" {
		t.Fatalf("ack = %v, want Session is not live", ack)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	submitter := s.dial(t)
	watcher := s.dial(t)
	join(t, submitter, sess.ID)
	join(t, watcher, sess.ID)

	send(t, submitter, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 2, "from": "Alice",
	})

	got := readEvent(t, watcher, EventTipPending)
	if got["from"] != "Alice" || got["amount"].(float64) != 2 {
		t.Fatalf("watcher TIP_PENDING = %v", got)
	}
}

func TestRejoinMovesGroupMembership(t *testing.T) {
	s := newStack(t, time.Minute)
	a, _ := s.sessions.Create("a", "https://x.example", testAddr)
	b, _ := s.sessions.Create("b", "https://x.example", testAddr)

	mover := s.dial(t)
	join(t, mover, a.ID)
	join(t, mover, b.ID)

	submitter := s.dial(t)
	join(t, submitter, a.ID)
	send(t, submitter, 2, EventTipSubmit, map[string]any{
		"sessionId": a.ID, "txHash": "abc123", "amount": 1,
	})
	read(t, submitter) // TIP_PENDING
	read(t, submitter) // ack

	// mover left session a, so nothing should arrive
	_ = mover.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var msg map[string]any
	if err := mover.ReadJSON(&msg); err == nil {
		t.Fatalf("mover received %v after re-joining another session", msg)
	}
}

func TestJoinWithBareStringPayload(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	conn := s.dial(t)
	send(t, conn, 1, EventJoinSession, sess.ID)
	ack := read(t, conn)
	if _, ok := ack["session"]; !ok {
		t.Fatalf("ack = %v, want session snapshot for string payload", ack)
	}

	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 1,
	})
	read(t, conn)
	if ack := read(t, conn); ack["ok"] != true {
		t.Fatalf("submit after string join failed: %v", ack)
	}

	send(t, conn, 3, "bogus_event", map[string]any{})
	if ack := read(t, conn); ack["error"] != "Unknown event" {
		t.Fatalf("ack = %v, want Unknown event", ack)
	}
}

func TestReplyDropsStalledConnection(t *testing.T) {
	s := newStack(t, time.Minute)

	serverConns := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(backend.Close)

	url := "ws" + strings.TrimPrefix(backend.URL, "http")
	dialed, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = dialed.Close() })
	conn := <-serverConns

	// no write pump draining the channel, so the first ack already stalls
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte)}
	s.hub.mu.Lock()
	s.hub.groups["sess_stall"] = map[*client]struct{}{c: {}}
	c.sessionID = "sess_stall"
	s.hub.mu.Unlock()

	c.reply(1, ack{"ok": true})

	s.hub.mu.RLock()
	_, member := s.hub.groups["sess_stall"]
	s.hub.mu.RUnlock()
	if member {
		t.Fatal("stalled connection still in its session group after dropped ack")
	}

	_ = dialed.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := dialed.ReadMessage(); err == nil {
		t.Fatal("connection still open after dropped ack")
	}
}

func TestDefaultSenderLabel(t *testing.T) {
	s := newStack(t, time.Minute)
	sess, _ := s.sessions.Create("t", "https://x.example", testAddr)

	conn := s.dial(t)
	join(t, conn, sess.ID)
	send(t, conn, 2, EventTipSubmit, map[string]any{
		"sessionId": sess.ID, "txHash": "abc123", "amount": 1,
	})
	pending := readEvent(t, conn, EventTipPending)
	if pending["from"] != tips.DefaultFrom {
		t.Fatalf("from = %v, want %q", pending["from"], tips.DefaultFrom)
	}
	// claimed tx identifiers are normalized on the way in
	if pending["txHash"] != "abc123" {
		t.Fatalf("txHash = %v", pending["txHash"])
	}
}
