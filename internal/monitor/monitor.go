// Package monitor drives pending tips to their confirmed state without ever
// blocking the submission path. A tip is confirmed either after a fixed delay
// (no lookup API configured) or once an external transaction-lookup API
// reports the claimed transaction as accepted.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"tipcast/internal/ledger"
	"tipcast/internal/metrics"
	"tipcast/internal/session"
	"tipcast/internal/tips"
)

// Sink is the narrow surface the engine needs from the rest of the system:
// updating the session aggregate and fanning the confirmation out. It keeps
// the engine fully decoupled from the transport layer.
type Sink interface {
	ApplyConfirmedTip(sessionID string, amount float64)
	BroadcastConfirmed(tip tips.Tip)
}

// SessionGetter provides the liveness re-check performed before every
// confirmation attempt.
type SessionGetter interface {
	Get(id string) (session.Session, bool)
}

// Config carries the engine's timing knobs.
type Config struct {
	ConfirmDelay time.Duration
	PollInterval time.Duration
	PollMaxTries int
}

// Engine watches pending tips until they confirm or are abandoned. The
// strategy is fixed at construction: polling when a lookup client is
// provided, a fixed timer otherwise.
type Engine struct {
	cfg      Config
	client   *ledger.Client
	sessions SessionGetter
	sink     Sink
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// errAbandoned terminates a watch early without being surfaced anywhere.
var errAbandoned = errors.New("confirmation abandoned")

// New constructs an Engine. client may be nil, selecting the timer strategy.
func New(cfg Config, client *ledger.Client, sessions SessionGetter, sink Sink, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		client:   client,
		sessions: sessions,
		sink:     sink,
		log:      log.With().Str("component", "monitor").Logger(),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Strategy names the active confirmation strategy, for startup logging.
func (e *Engine) Strategy() string {
	if e.client != nil {
		return "polling"
	}
	return "timer"
}

// Watch starts confirmation tracking for a pending tip and returns
// immediately. Tips whose session is no longer live are ignored.
func (e *Engine) Watch(ctx context.Context, tip tips.Tip) {
	sess, ok := e.sessions.Get(tip.SessionID)
	if !ok || !sess.Live() {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight[tip.TipID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.inflight, tip.TipID)
			e.mu.Unlock()
		}()

		var err error
		if e.client != nil {
			err = e.poll(watchCtx, tip)
		} else {
			err = e.confirmAfterDelay(watchCtx, tip)
		}
		if err != nil {
			e.log.Debug().Err(err).
				Str("tip_id", tip.TipID).
				Str("session_id", tip.SessionID).
				Msg("confirmation not reached")
		}
	}()
}

// Watching reports whether a confirmation task is outstanding for the tip.
func (e *Engine) Watching(tipID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[tipID]
	return ok
}

// CancelAll stops every outstanding confirmation task. Used at shutdown.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.inflight {
		cancel()
	}
}

func (e *Engine) confirmAfterDelay(ctx context.Context, tip tips.Tip) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.ConfirmDelay):
	}

	if !e.sessionLive(tip.SessionID) {
		metrics.TipsAbandoned.WithLabelValues("session_ended").Inc()
		return errAbandoned
	}

	e.confirm(tip)
	return nil
}

func (e *Engine) poll(ctx context.Context, tip tips.Tip) error {
	txID := tips.NormalizeTxID(tip.TxHash)

	// First attempt only after one full interval; a just-broadcast
	// transaction is never indexed instantly.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.PollInterval):
	}

	backoff := retry.WithMaxRetries(uint64(e.cfg.PollMaxTries-1), retry.NewConstant(e.cfg.PollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !e.sessionLive(tip.SessionID) {
			return errAbandoned
		}
		if err := e.client.CheckAccepted(ctx, txID); err != nil {
			// transient failures and not-yet-indexed are the same outcome:
			// try again on the next tick
			return retry.RetryableError(err)
		}
		return nil
	})

	switch {
	case err == nil:
		e.confirm(tip)
		return nil
	case errors.Is(err, errAbandoned):
		metrics.TipsAbandoned.WithLabelValues("session_ended").Inc()
		return errAbandoned
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// attempt budget exhausted: the tip stays pending forever
		metrics.TipsAbandoned.WithLabelValues("budget_exhausted").Inc()
		e.log.Warn().
			Str("tip_id", tip.TipID).
			Str("tx_id", txID).
			Int("attempts", e.cfg.PollMaxTries).
			Msg("giving up on confirmation")
		return errAbandoned
	}
}

func (e *Engine) confirm(tip tips.Tip) {
	confirmed := tip
	confirmed.Status = tips.StatusConfirmed
	confirmed.Timestamp = time.Now().UTC()

	e.sink.ApplyConfirmedTip(confirmed.SessionID, confirmed.Amount)
	e.sink.BroadcastConfirmed(confirmed)
}

func (e *Engine) sessionLive(sessionID string) bool {
	sess, ok := e.sessions.Get(sessionID)
	return ok && sess.Live()
}
