package tips

import "sync"

// Guard is the per-session set of transaction identifiers already accepted
// for submission. It is deliberately not persisted; after a restart the set
// starts empty and a replayed identifier would be accepted again.
type Guard struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewGuard returns an empty duplicate guard.
func NewGuard() *Guard {
	return &Guard{seen: make(map[string]map[string]struct{})}
}

// CheckAndReserve reserves the (session, txID) pair. The first call for a
// pair returns true; every later call returns false. Check and reservation
// are a single step under the lock so concurrent submissions of the same
// identifier cannot both pass.
func (g *Guard) CheckAndReserve(sessionID, txID string) bool {
	key := NormalizeTxID(txID)

	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.seen[sessionID]
	if !ok {
		set = make(map[string]struct{})
		g.seen[sessionID] = set
	}
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = struct{}{}
	return true
}
