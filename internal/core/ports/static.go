package ports

import (
	"context"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// StaticStore persists and serves the GTFS static timetable.
type StaticStore interface {
	// ReplaceAgencyData atomically replaces all static rows for one agency.
	ReplaceAgencyData(ctx context.Context, agencyID string, data StaticAgencyData) error

	GetMeta(ctx context.Context, agencyID string) (*domain.AgencyMeta, error)
	SetMeta(ctx context.Context, meta domain.AgencyMeta) error

	GetAgencyBySlug(ctx context.Context, slug string) (*domain.Agency, error)
	UpsertAgency(ctx context.Context, agency domain.Agency) (string, error)

	// GetTripStopSequences returns the stop_id -> stop_sequence mapping for
	// a trip (Publisher's LRU-backed lookup).
	GetTripStopSequences(ctx context.Context, agencyID, tripID string) (map[string]int, error)

	GetTrip(ctx context.Context, agencyID, tripID string) (*domain.Trip, error)
	GetStopTime(ctx context.Context, agencyID, tripID string, stopSequence int) (*domain.StopTime, error)
	GetMaxStopSequence(ctx context.Context, agencyID, tripID string) (int, error)
	GetStop(ctx context.Context, agencyID, stopID string) (*domain.Stop, error)
	GetRoute(ctx context.Context, agencyID, routeID string) (*domain.Route, error)
}

// StaticAgencyData is the full replacement payload for one agency's static
// tables, loaded from a GTFS zip.
type StaticAgencyData struct {
	Routes    []domain.Route
	Stops     []domain.Stop
	Trips     []domain.Trip
	StopTimes []domain.StopTime
	Shapes    []domain.ShapePoint
}
