package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tipcast/internal/session"
	"tipcast/internal/version"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"service":   version.Name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createSessionRequest struct {
	Title          string `json:"title"`
	StreamURL      string `json:"streamUrl"`
	CreatorAddress string `json:"creatorAddress"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid body"))
		return
	}

	sess, err := a.sessions.Create(req.Title, req.StreamURL, req.CreatorAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	a.log.Info().Str("session_id", sess.ID).Str("title", sess.Title).Msg("session created")

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":             sess.ID,
		"title":          sess.Title,
		"streamUrl":      sess.StreamURL,
		"creatorAddress": sess.CreatorAddress,
		"status":         sess.Status,
		"createdAt":      sess.CreatedAt,
		"shareableUrl":   a.frontendOrigin + "/session/" + sess.ID,
	})
}

// sessionView is a session with its totals reconciled against the tip ledger
// rather than the cached aggregate.
type sessionView struct {
	session.Session
	TotalTips float64 `json:"totalTips"`
	TipsCount int     `json:"tipsCount"`
}

func (a *API) view(sess session.Session) sessionView {
	total, count := a.ledger.Totals(sess.ID)
	return sessionView{Session: sess, TotalTips: total, TipsCount: count}
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sessions := a.sessions.List(status, limit)
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, a.view(sess))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, a.view(sess))
}

func (a *API) handleListTips(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.sessions.Get(id); !ok {
		respondError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tips": a.ledger.Tips(id)})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, errors.New("session not found or already ended"))
		return
	}
	a.log.Info().Str("session_id", sess.ID).Msg("session ended")
	respondJSON(w, http.StatusOK, a.view(sess))
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
