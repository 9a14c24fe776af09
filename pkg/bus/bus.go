// Package bus mirrors tip lifecycle events onto NATS subjects so external
// consumers (overlays, analytics) can follow sessions without holding a
// websocket connection to the service.
package bus

import (
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
)

// Subjects published by the service.
const (
	SubjectTipPending     = "tipcast.tips.pending"
	SubjectTipConfirmed   = "tipcast.tips.confirmed"
	SubjectSessionUpdated = "tipcast.sessions.updated"
)

// Bus wraps a NATS connection. A nil *Bus is valid and drops all publishes,
// so callers need no branching when the mirror is not configured.
type Bus struct {
	conn *nats.Conn
}

// Connect dials the NATS endpoint. An empty URL yields a nil Bus and no error.
func Connect(url string, opts ...nats.Option) (*Bus, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains the underlying connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(subj string, v any) error {
	if b == nil || b.conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

// Subscribe invokes fn for each message on the given subject. The returned
// unsubscribe function stops delivery.
func (b *Bus) Subscribe(subj string, fn func(subject string, data []byte)) (func() error, error) {
	if b == nil || b.conn == nil {
		return nil, errors.New("bus is not connected")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}
