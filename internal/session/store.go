// Package session holds the authoritative record of tipping sessions and
// their lifetime aggregates.
package session

import (
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tipcast/pkg/storage"
)

const table = "sessions"

const idPrefix = "sess_"

// ErrNotFound is returned when a session does not exist or was already ended.
var ErrNotFound = errors.New("session not found")

var (
	errTitleRequired     = errors.New("session title is required")
	errStreamURLRequired = errors.New("stream URL is required")
	errStreamURLInvalid  = errors.New("stream URL must be a valid URL")
	errAddressRequired   = errors.New("receiving address is required")
	errAddressTooShort   = errors.New("receiving address appears invalid (too short)")
)

// Store owns the in-memory session map and persists it on every mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session

	db  *storage.Store
	log zerolog.Logger
}

// NewStore loads previously persisted sessions from the storage layer.
func NewStore(db *storage.Store, log zerolog.Logger) (*Store, error) {
	s := &Store{
		sessions: make(map[string]Session),
		db:       db,
		log:      log.With().Str("component", "sessions").Logger(),
	}
	if err := db.Load(table, &s.sessions); err != nil {
		return nil, err
	}
	if s.sessions == nil {
		s.sessions = make(map[string]Session)
	}
	s.log.Info().Int("count", len(s.sessions)).Msg("loaded sessions from storage")
	return s, nil
}

// Create validates the input and registers a new live session.
func (s *Store) Create(title, streamURL, creatorAddress string) (Session, error) {
	if err := ValidateCreate(title, streamURL, creatorAddress); err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:             newID(),
		Title:          strings.TrimSpace(title),
		StreamURL:      strings.TrimSpace(streamURL),
		CreatorAddress: strings.TrimSpace(creatorAddress),
		Status:         StatusLive,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.persistLocked()
	s.mu.Unlock()

	return sess, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	return sess, ok
}

// List returns sessions newest-first, optionally filtered by status.
func (s *Store) List(status string, limit int) []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if status != "" && sess.Status != status {
			continue
		}
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// End freezes a live session. Ending an unknown or already-ended session
// returns ErrNotFound.
func (s *Store) End(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status == StatusEnded {
		return Session{}, ErrNotFound
	}

	now := time.Now().UTC()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	s.sessions[id] = sess
	s.persistLocked()

	return sess, nil
}

// ApplyConfirmedTip adds a confirmed amount to the session aggregate. It never
// fails: a vanished session is logged and skipped so confirmation callbacks
// cannot error out.
func (s *Store) ApplyConfirmedTip(sessionID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		s.log.Warn().Str("session_id", sessionID).Msg("confirmed tip for unknown session")
		return
	}

	sess.TotalTips += amount
	sess.TipsCount++
	s.sessions[sessionID] = sess
	s.persistLocked()

	s.log.Info().
		Str("session_id", sessionID).
		Float64("amount", amount).
		Float64("total", sess.TotalTips).
		Int("count", sess.TipsCount).
		Msg("recorded confirmed tip")
}

// persistLocked writes the full session table; callers hold s.mu. Write
// failures are logged, the in-memory state stays authoritative.
func (s *Store) persistLocked() {
	if err := s.db.Save(table, s.sessions); err != nil {
		s.log.Error().Err(err).Msg("persist sessions")
	}
}

func newID() string {
	return idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
