package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// StopEventStore implements ports.StopEventStore, batching writes through
// pgx.Batch with ON CONFLICT DO NOTHING on the write-once unique key.
type StopEventStore struct {
	db *DB
}

func NewStopEventStore(db *DB) *StopEventStore {
	return &StopEventStore{db: db}
}

func (s *StopEventStore) InsertBatch(ctx context.Context, events []domain.StopEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO stop_events (
				agency, trip_id, service_date, stop_sequence, stop_id, line_number,
				stop_name, stop_desc, direction, headsign, planned_time, event_time,
				delay_seconds, vehicle_id, license_plate, detection_method, is_estimated,
				static_hash, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
			)
			ON CONFLICT (agency, trip_id, service_date, stop_sequence) DO NOTHING
		`, e.Agency, e.TripID, e.ServiceDate, e.StopSequence, e.StopID, e.LineNumber,
			e.StopName, nilEmpty(e.StopDesc), e.Direction, nilEmpty(e.Headsign),
			e.PlannedTime, e.EventTime, e.DelaySeconds, e.VehicleID, e.LicensePlate,
			e.DetectionMethod.String(), e.IsEstimated, e.StaticHash, e.CreatedAt)
	}

	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}
