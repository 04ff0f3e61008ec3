package ports

import (
	"context"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// StopEventStore persists StopEvents, write-once per (agency, trip_id,
// service_date, stop_sequence).
type StopEventStore interface {
	// InsertBatch writes many events in one round trip, ignoring conflicts
	// on the unique key rather than erroring.
	InsertBatch(ctx context.Context, events []domain.StopEvent) error
}
