package config

import (
	"context"
	"testing"
)

// testContext stands in for t.Context(), which requires Go 1.24+: it
// returns a context canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
