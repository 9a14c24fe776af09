package tips

import (
	"strings"
	"time"
)

// Status values for a tip. The only transition is pending to confirmed.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// DefaultFrom is used when the submitter provides no sender label.
const DefaultFrom = "Anonymous"

// Tip is one claimed payment from a viewer to a session's receiving address.
// Timestamp is set at submission and restamped when the tip confirms.
type Tip struct {
	TipID     string    `json:"tipId"`
	SessionID string    `json:"sessionId"`
	Amount    float64   `json:"amount"`
	From      string    `json:"from"`
	TxHash    string    `json:"txHash"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeTxID canonicalizes a claimed transaction identifier: trimmed,
// lowercased, optional 0x prefix stripped.
func NormalizeTxID(txHash string) string {
	s := strings.ToLower(strings.TrimSpace(txHash))
	return strings.TrimPrefix(s, "0x")
}
