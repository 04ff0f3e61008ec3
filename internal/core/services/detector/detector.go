// Package detector consumes VehiclePosition samples in publication order
// and turns them into
// write-once StopEvents via three detection strategies (direct STOPPED_AT,
// sequence-jump backfill, and trip-completion timeout), joined against
// static schedule data and gated by the SavedSequences dedup set.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
	"github.com/samirrijal/bilbopass/internal/core/servicedate"
	"github.com/samirrijal/bilbopass/internal/core/services/statecache"
	"github.com/samirrijal/bilbopass/internal/core/services/writer"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

const dateLayout = "2006-01-02"

// Detector turns VehiclePosition samples into StopEvents.
type Detector struct {
	static *staticCache
	cache  *statecache.Store
	writer *writer.Writer
	tz     *time.Location
	logger *slog.Logger
}

// Config configures a Detector.
type Config struct {
	Static        ports.StaticStore
	Cache         *statecache.Store
	Writer        *writer.Writer
	Location      *time.Location
	StaticCacheSize int
	Logger        *slog.Logger
}

func New(cfg Config) (*Detector, error) {
	sc, err := newStaticCache(cfg.Static, cfg.StaticCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new static cache: %w", err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		static: sc,
		cache:  cfg.Cache,
		writer: cfg.Writer,
		tz:     loc,
		logger: logger,
	}, nil
}

// Process consumes one VehiclePosition sample, updates vehicle state, and
// emits any StopEvents it produces to the Writer.
func (d *Detector) Process(ctx context.Context, vp domain.VehiclePosition) error {
	if vp.LicensePlate == "" || vp.StopSequence == nil {
		// Nothing to key state on, or no positional information to detect
		// against; the sample is dropped.
		return nil
	}

	var events []domain.StopEvent

	prevState, hasPrev, err := d.cache.GetVehicleState(ctx, vp.Agency, vp.LicensePlate)
	if err != nil {
		d.logger.Warn("vehicle state lookup failed, treating as absent", "agency", vp.Agency, "license_plate", vp.LicensePlate, "error", err)
		hasPrev = false
	}

	if hasPrev && prevState.TripID != "" && prevState.TripID != vp.TripID {
		completed, err := d.completeTrip(ctx, vp.Agency, vp.LicensePlate, prevState)
		if err != nil {
			d.logger.Warn("trip completion failed", "agency", vp.Agency, "trip_id", prevState.TripID, "error", err)
		}
		events = append(events, completed...)
		hasPrev = false
	}

	direct, seqJump := d.detectCurrent(ctx, vp, prevState, hasPrev)
	events = append(events, direct...)
	events = append(events, seqJump...)

	newState := domain.VehicleState{
		TripID:              vp.TripID,
		CurrentStopSequence: *vp.StopSequence,
		LastTimestamp:        vp.Timestamp,
	}
	if err := d.cache.SetVehicleState(ctx, vp.Agency, vp.LicensePlate, newState); err != nil {
		d.logger.Error("failed to persist vehicle state", "agency", vp.Agency, "license_plate", vp.LicensePlate, "error", err)
	}

	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		metrics.StopEventsDetected.WithLabelValues(ev.Agency, ev.DetectionMethod.String()).Inc()
	}
	return d.writer.Add(ctx, events...)
}

// detectCurrent runs the direct STOPPED_AT and sequence-jump-backfill
// strategies against the current sample, in that order.
func (d *Detector) detectCurrent(ctx context.Context, vp domain.VehiclePosition, prevState domain.VehicleState, hasPrev bool) (direct, seqJump []domain.StopEvent) {
	join, ok := d.join(ctx, vp.Agency, vp.TripID, *vp.StopSequence, vp.Timestamp)
	if !ok {
		return nil, nil
	}

	if vp.Status == domain.StatusStoppedAt {
		saved, err := d.cache.IsSaved(ctx, vp.Agency, vp.TripID, join.serviceDateISO, *vp.StopSequence)
		if err != nil {
			d.logger.Warn("saved-set lookup failed", "error", err)
		} else if !saved {
			ev := d.buildEvent(vp.Agency, vp.TripID, *vp.StopSequence, join, vp.Timestamp, vp.VehicleID, vp.LicensePlate, domain.DetectionStoppedAt, false)
			direct = append(direct, ev)
			if err := d.cache.MarkSaved(ctx, vp.Agency, vp.TripID, join.serviceDateISO, *vp.StopSequence); err != nil {
				d.logger.Warn("mark-saved failed", "error", err)
			}
		}
	}

	if hasPrev && prevState.TripID == vp.TripID && *vp.StopSequence > prevState.CurrentStopSequence {
		events, err := d.seqJumpBackfill(ctx, vp.Agency, vp.TripID, prevState.CurrentStopSequence, *vp.StopSequence, vp.VehicleID, vp.LicensePlate)
		if err != nil {
			d.logger.Warn("sequence-jump backfill failed", "agency", vp.Agency, "trip_id", vp.TripID, "error", err)
		}
		seqJump = append(seqJump, events...)
	}

	return direct, seqJump
}

// seqJumpBackfill emits estimated StopEvents for stop sequences skipped
// between the vehicle's previous and current positions on the same trip
//, in ascending sequence order.
func (d *Detector) seqJumpBackfill(ctx context.Context, agency, tripID string, fromSeq, toSeq int, vehicleID, licensePlate string) ([]domain.StopEvent, error) {
	tuc, hasTUC, err := d.cache.GetTripUpdateCache(ctx, agency, tripID)
	if err != nil {
		return nil, err
	}
	if !hasTUC {
		return nil, nil
	}

	var events []domain.StopEvent
	for seq := fromSeq; seq < toSeq; seq++ {
		entry, ok := tuc[seq]
		if !ok {
			continue
		}
		join, ok := d.join(ctx, agency, tripID, seq, entry.LastSeenArrival)
		if !ok {
			continue
		}
		saved, err := d.cache.IsSaved(ctx, agency, tripID, join.serviceDateISO, seq)
		if err != nil {
			d.logger.Warn("saved-set lookup failed", "error", err)
			continue
		}
		if saved {
			continue
		}
		ev := d.buildEvent(agency, tripID, seq, join, entry.LastSeenArrival, vehicleID, licensePlate, domain.DetectionSeqJump, true)
		events = append(events, ev)
		if err := d.cache.MarkSaved(ctx, agency, tripID, join.serviceDateISO, seq); err != nil {
			d.logger.Warn("mark-saved failed", "error", err)
		}
	}
	return events, nil
}

// completeTrip runs the trip-completion timeout strategy: for every stop
// sequence between the vehicle's last known position on the finished trip
// and its final stop, emit a StopEvent from the cached TripUpdate
// predictions, since no further realtime position will ever confirm them
//. The terminal stop uses first_seen_arrival (no later
// correction can arrive); every other stop uses last_seen_arrival (the most
// refined prediction received before the trip moved on).
func (d *Detector) completeTrip(ctx context.Context, agency, licensePlate string, prevState domain.VehicleState) ([]domain.StopEvent, error) {
	tripID := prevState.TripID

	tuc, hasTUC, err := d.cache.GetTripUpdateCache(ctx, agency, tripID)
	if err != nil {
		return nil, err
	}
	if !hasTUC {
		return nil, nil
	}

	maxSeq, err := d.static.maxSequence(ctx, agency, tripID)
	if err != nil {
		return nil, nil
	}

	var events []domain.StopEvent
	for seq := prevState.CurrentStopSequence + 1; seq <= maxSeq; seq++ {
		entry, ok := tuc[seq]
		if !ok {
			continue
		}

		method := domain.DetectionSeqJump
		eventTime := entry.LastSeenArrival
		if seq == maxSeq {
			method = domain.DetectionTimeout
			eventTime = entry.FirstSeenArrival
		}

		join, ok := d.join(ctx, agency, tripID, seq, eventTime)
		if !ok {
			continue
		}

		saved, err := d.cache.IsSaved(ctx, agency, tripID, join.serviceDateISO, seq)
		if err != nil {
			d.logger.Warn("saved-set lookup failed", "error", err)
			continue
		}
		if saved {
			continue
		}

		ev := d.buildEvent(agency, tripID, seq, join, eventTime, "", licensePlate, method, true)
		events = append(events, ev)
		if err := d.cache.MarkSaved(ctx, agency, tripID, join.serviceDateISO, seq); err != nil {
			d.logger.Warn("mark-saved failed", "error", err)
		}
	}

	if err := d.cache.DeleteTripUpdateCache(ctx, agency, tripID); err != nil {
		d.logger.Warn("failed to delete trip update cache", "agency", agency, "trip_id", tripID, "error", err)
	}

	return events, nil
}

// staticJoin bundles the static rows and derived time fields needed to emit
// a StopEvent for one (trip, stop_sequence).
type staticJoin struct {
	trip           *domain.Trip
	route          *domain.Route
	stop           *domain.Stop
	staticHash     string
	serviceDate    time.Time
	serviceDateISO string
	plannedTime    time.Time
}

// join resolves the static rows and service-date arithmetic for one
// (trip, stopSequence) observed at eventTime, or reports false if any
// required static row or the agency's current hash is unavailable:
// missing data suppresses the event entirely rather than emitting with
// partial fields.
func (d *Detector) join(ctx context.Context, agency, tripID string, stopSequence int, eventTime time.Time) (staticJoin, bool) {
	trip, err := d.static.trip(ctx, agency, tripID)
	if err != nil {
		metrics.StaticJoinMisses.WithLabelValues(agency, "trip").Inc()
		return staticJoin{}, false
	}

	stopTime, err := d.static.stopTime(ctx, agency, tripID, stopSequence)
	if err != nil {
		metrics.StaticJoinMisses.WithLabelValues(agency, "stop_time").Inc()
		return staticJoin{}, false
	}

	stop, err := d.static.stop(ctx, agency, stopTime.StopID)
	if err != nil {
		metrics.StaticJoinMisses.WithLabelValues(agency, "stop").Inc()
		return staticJoin{}, false
	}

	var route *domain.Route
	if trip.RouteID != "" {
		route, err = d.static.static.GetRoute(ctx, agency, trip.RouteID)
		if err != nil {
			metrics.StaticJoinMisses.WithLabelValues(agency, "route").Inc()
			return staticJoin{}, false
		}
	}

	meta, err := d.static.static.GetMeta(ctx, agency)
	if err != nil || meta == nil {
		metrics.StaticJoinMisses.WithLabelValues(agency, "meta").Inc()
		return staticJoin{}, false
	}

	serviceDate := servicedate.ServiceDate(eventTime, stopTime.ArrivalSeconds, d.tz)
	planned := servicedate.PlannedTime(serviceDate, stopTime.ArrivalSeconds, d.tz)

	return staticJoin{
		trip:           trip,
		route:          route,
		stop:           stop,
		staticHash:     meta.CurrentHash,
		serviceDate:    serviceDate,
		serviceDateISO: serviceDate.Format(dateLayout),
		plannedTime:    planned,
	}, true
}

func (d *Detector) buildEvent(agency, tripID string, stopSequence int, join staticJoin, eventTime time.Time, vehicleID, licensePlate string, method domain.DetectionMethod, estimated bool) domain.StopEvent {
	lineNumber := ""
	if join.route != nil {
		lineNumber = join.route.LineNumber
	}
	return domain.StopEvent{
		Agency:          agency,
		TripID:          tripID,
		ServiceDate:     join.serviceDate,
		StopSequence:    stopSequence,
		StopID:          join.stop.StopID,
		LineNumber:      lineNumber,
		StopName:        join.stop.Name,
		StopDesc:        join.stop.Desc,
		Direction:       join.trip.Direction,
		Headsign:        join.trip.Headsign,
		PlannedTime:     join.plannedTime,
		EventTime:       eventTime,
		DelaySeconds:    servicedate.DelaySeconds(eventTime, join.plannedTime),
		VehicleID:       vehicleID,
		LicensePlate:    licensePlate,
		DetectionMethod: method,
		IsEstimated:     estimated,
		StaticHash:      join.staticHash,
		CreatedAt:       time.Now(),
	}
}
