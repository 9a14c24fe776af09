// Package ledger queries an external transaction-lookup API to decide whether
// a claimed payment has been accepted on chain.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotAccepted signals that the transaction is not (yet) accepted. Callers
// treat it as a retryable outcome, never as a failure of the tip itself.
var ErrNotAccepted = errors.New("transaction not accepted yet")

const requestTimeout = 10 * time.Second

// Client looks up transactions by id against one of two API conventions.
//
// With an API key configured the keyed convention is used: the path is
// /v1/transactions/{id}, the key travels in an x-api-key header, and
// acceptance is the isAccepted flag nested under "transaction". Without a key
// the bare convention applies: the path is /transactions/{id} and any 200
// response carrying a non-empty JSON object counts as accepted.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a Client for the given base URL, or nil when no URL is
// configured (the caller then falls back to timer-based confirmation).
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Keyed reports whether the client uses the keyed API convention.
func (c *Client) Keyed() bool {
	return c.apiKey != ""
}

// CheckAccepted returns nil when the transaction with the given normalized id
// is accepted, ErrNotAccepted when it is not yet visible or not yet accepted,
// and a wrapped error for anything unexpected. All non-nil outcomes are
// retryable from the caller's point of view.
func (c *Client) CheckAccepted(ctx context.Context, txID string) error {
	path := "/transactions/" + txID
	if c.Keyed() {
		path = "/v1/transactions/" + txID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Keyed() {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lookup transaction %s: %w", txID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotAccepted
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lookup transaction %s: unexpected status %d", txID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read lookup response: %w", err)
	}

	if c.Keyed() {
		var out struct {
			Transaction *struct {
				IsAccepted bool `json:"isAccepted"`
			} `json:"transaction"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("decode lookup response: %w", err)
		}
		if out.Transaction != nil && out.Transaction.IsAccepted {
			return nil
		}
		return ErrNotAccepted
	}

	// Bare convention: the indexer only returns accepted transactions, so a
	// found, non-empty object is taken as proof of acceptance.
	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode lookup response: %w", err)
	}
	if len(out) == 0 {
		return ErrNotAccepted
	}
	return nil
}
