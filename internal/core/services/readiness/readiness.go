// Package readiness blocks worker startup until the Static Importer has
// completed at least one full cycle.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/ports"
)

const readyKey = "gtfs:ready"

// WaitUntilReady polls the Ready flag until it appears or timeout elapses,
// returning an error in the latter case so callers can os.Exit(1).
func WaitUntilReady(ctx context.Context, cache ports.CacheStore, pollInterval, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ready, err := cache.Exists(ctx, readyKey)
		if err != nil {
			logger.Warn("readiness check failed, retrying", "error", err)
		} else if ready {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("static data not ready after %s", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
