package session

import (
	"strings"
	"time"
)

// Status values for a session lifecycle.
const (
	StatusLive  = "live"
	StatusEnded = "ended"
)

// Session is a creator-owned tipping context bound to one livestream. The
// TotalTips/TipsCount pair is a cached aggregate maintained on confirmation;
// read APIs reconcile against the tip ledger instead of trusting it.
type Session struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	StreamURL      string     `json:"streamUrl"`
	CreatorAddress string     `json:"creatorAddress"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	EndedAt        *time.Time `json:"endedAt"`
	TotalTips      float64    `json:"totalTips"`
	TipsCount      int        `json:"tipsCount"`
}

// Live reports whether the session still accepts tips.
func (s Session) Live() bool {
	return s.Status == StatusLive
}

// minimum length of a plausible receiving address; format is otherwise opaque
const minAddressLen = 50

// ValidateCreate checks the fields of a create-session request and returns a
// human-readable reason when invalid.
func ValidateCreate(title, streamURL, creatorAddress string) error {
	if strings.TrimSpace(title) == "" {
		return errTitleRequired
	}
	if strings.TrimSpace(streamURL) == "" {
		return errStreamURLRequired
	}
	if !validURL(strings.TrimSpace(streamURL)) {
		return errStreamURLInvalid
	}
	addr := strings.TrimSpace(creatorAddress)
	if addr == "" {
		return errAddressRequired
	}
	if len(addr) < minAddressLen {
		return errAddressTooShort
	}
	return nil
}
