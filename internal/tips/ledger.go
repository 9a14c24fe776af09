// Package tips holds the per-session tip ledger and the duplicate guard that
// protects it from replayed transaction identifiers.
package tips

import (
	"sync"

	"github.com/rs/zerolog"

	"tipcast/pkg/storage"
)

const table = "tips"

// Ledger is the source of truth for tips, keyed by session. Records are
// appended in submission order and upgraded in place on confirmation.
type Ledger struct {
	mu     sync.RWMutex
	bySess map[string][]Tip

	db  *storage.Store
	log zerolog.Logger
}

// NewLedger loads previously persisted tips from the storage layer.
func NewLedger(db *storage.Store, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		bySess: make(map[string][]Tip),
		db:     db,
		log:    log.With().Str("component", "tips").Logger(),
	}
	if err := db.Load(table, &l.bySess); err != nil {
		return nil, err
	}
	if l.bySess == nil {
		l.bySess = make(map[string][]Tip)
	}
	l.log.Info().Int("sessions", len(l.bySess)).Msg("loaded tip ledger from storage")
	return l, nil
}

// Record stores a tip. An existing record with the same tip id is replaced
// (the pending-to-confirmed upgrade); otherwise the tip is appended. The full
// per-session collection is persisted after every call.
func (l *Ledger) Record(sessionID string, tip Tip) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.bySess[sessionID]
	replaced := false
	for i := range list {
		if list[i].TipID == tip.TipID {
			list[i] = tip
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, tip)
	}
	l.bySess[sessionID] = list

	if err := l.db.Save(table, l.bySess); err != nil {
		l.log.Error().Err(err).Str("session_id", sessionID).Msg("persist tips")
	}
}

// Tips returns the session's tips in insertion order.
func (l *Ledger) Tips(sessionID string) []Tip {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.bySess[sessionID]
	out := make([]Tip, len(list))
	copy(out, list)
	return out
}

// Totals folds the session's confirmed tips into a total amount and count.
// Read APIs use this instead of the cached session aggregate so that listings
// are always consistent with the ledger.
func (l *Ledger) Totals(sessionID string) (total float64, count int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, tip := range l.bySess[sessionID] {
		if tip.Status == StatusConfirmed {
			total += tip.Amount
			count++
		}
	}
	return total, count
}
