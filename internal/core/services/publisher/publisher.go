// Package publisher decodes GTFS-Realtime payloads handed off by the
// Poller, broadcasts vehicle positions on the pub/sub channel, and merges
// trip-time predictions into the TripUpdateCache with first-seen/last-seen
// semantics.
package publisher

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samirrijal/bilbopass/internal/adapters/gtfsrt"
	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
	"github.com/samirrijal/bilbopass/internal/core/services/statecache"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

// tripSeqLRUSize bounds the trip -> stop_id->stop_sequence lookup cache.
const tripSeqLRUSize = 5000

// previewBytes bounds the hex preview logged for a malformed payload.
const previewBytes = 16

type Publisher struct {
	publish ports.VehiclePositionPublisher
	cache   *statecache.Store
	static  ports.StaticStore
	tripSeq *lru.Cache[string, map[string]int]
	logger  *slog.Logger
}

func New(publish ports.VehiclePositionPublisher, cache *statecache.Store, static ports.StaticStore, logger *slog.Logger) (*Publisher, error) {
	seqCache, err := lru.New[string, map[string]int](tripSeqLRUSize)
	if err != nil {
		return nil, fmt.Errorf("trip sequence cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		publish: publish,
		cache:   cache,
		static:  static,
		tripSeq: seqCache,
		logger:  logger,
	}, nil
}

// ProcessVehiclePositions decodes a VehiclePositions feed payload and
// publishes each qualifying sample, returning the count published.
func (p *Publisher) ProcessVehiclePositions(ctx context.Context, agency string, raw []byte) (int, error) {
	vps, err := gtfsrt.DecodeVehiclePositions(agency, raw)
	if err != nil {
		p.logMalformed(agency, "vehicle_positions", raw, err)
		return 0, nil
	}

	published := 0
	for _, vp := range vps {
		if vp.TripID == "" || vp.LicensePlate == "" || !vp.Timestamp.After(time.Unix(0, 0)) {
			continue
		}
		if err := p.publish.Publish(ctx, vp); err != nil {
			p.logger.Warn("publish vehicle position failed", "agency", agency, "trip_id", vp.TripID, "error", err)
			continue
		}
		published++
	}
	metrics.VehiclePositionsIngested.WithLabelValues(agency).Add(float64(published))
	return published, nil
}

// ProcessTripUpdates decodes a TripUpdates feed payload and merges each
// qualifying prediction into the TripUpdateCache, returning the count of
// trip_update entities processed.
func (p *Publisher) ProcessTripUpdates(ctx context.Context, agency string, raw []byte) (int, error) {
	tus, err := gtfsrt.DecodeTripUpdates(agency, raw)
	if err != nil {
		p.logMalformed(agency, "trip_updates", raw, err)
		return 0, nil
	}

	processed := 0
	for _, tu := range tus {
		if len(tu.StopTimeUpdates) == 0 {
			continue
		}
		if err := p.mergeTripUpdate(ctx, agency, tu); err != nil {
			p.logger.Warn("merge trip update failed", "agency", agency, "trip_id", tu.TripID, "error", err)
			continue
		}
		processed++
	}
	metrics.TripUpdatesIngested.WithLabelValues(agency).Add(float64(processed))
	return processed, nil
}

func (p *Publisher) mergeTripUpdate(ctx context.Context, agency string, tu domain.TripUpdate) error {
	seqByStop, err := p.tripStopSequences(ctx, agency, tu.TripID)
	if err != nil {
		// Updates carrying their own stop_sequence still resolve; only the
		// stop_id fallback is unavailable for this trip.
		p.logger.Debug("trip stop sequence lookup failed", "agency", agency, "trip_id", tu.TripID, "error", err)
		seqByStop = nil
	}

	tuc, hasTUC, err := p.cache.GetTripUpdateCache(ctx, agency, tu.TripID)
	if err != nil {
		return err
	}
	if !hasTUC {
		tuc = domain.TripUpdateCache{}
	}

	changed := false
	for _, stu := range tu.StopTimeUpdates {
		seq, ok := resolveSequence(stu, seqByStop)
		if !ok {
			continue
		}
		when, ok := pickTime(stu)
		if !ok {
			continue
		}

		existing, ok := tuc[seq]
		if !ok {
			tuc[seq] = domain.TripUpdateEntry{
				StopID:           stu.StopID,
				FirstSeenArrival: when,
				LastSeenArrival:  when,
			}
		} else {
			existing.LastSeenArrival = when
			if existing.StopID == "" {
				existing.StopID = stu.StopID
			}
			tuc[seq] = existing
		}
		changed = true
	}

	if !changed {
		return nil
	}
	return p.cache.SetTripUpdateCache(ctx, agency, tu.TripID, tuc)
}

// resolveSequence prefers the StopTimeUpdate's own stop_sequence field,
// falling back to a stop_id lookup against the trip's static sequence map.
func resolveSequence(stu domain.StopTimeUpdate, seqByStop map[string]int) (int, bool) {
	if stu.StopSequence != nil {
		return *stu.StopSequence, true
	}
	if stu.StopID == "" {
		return 0, false
	}
	seq, ok := seqByStop[stu.StopID]
	return seq, ok
}

// pickTime prefers arrival over departure.
func pickTime(stu domain.StopTimeUpdate) (time.Time, bool) {
	if stu.Arrival != nil {
		return *stu.Arrival, true
	}
	if stu.Departure != nil {
		return *stu.Departure, true
	}
	return time.Time{}, false
}

func (p *Publisher) tripStopSequences(ctx context.Context, agency, tripID string) (map[string]int, error) {
	key := agency + "|" + tripID
	if m, ok := p.tripSeq.Get(key); ok {
		metrics.CacheHits.WithLabelValues("publisher_trip_seq").Inc()
		return m, nil
	}
	metrics.CacheMisses.WithLabelValues("publisher_trip_seq").Inc()

	m, err := p.static.GetTripStopSequences(ctx, agency, tripID)
	if err != nil {
		return nil, err
	}
	p.tripSeq.Add(key, m)
	return m, nil
}

func (p *Publisher) logMalformed(agency, feed string, raw []byte, err error) {
	n := len(raw)
	if n > previewBytes {
		n = previewBytes
	}
	p.logger.Warn("malformed realtime payload",
		"agency", agency, "feed", feed, "error", err,
		"preview_hex", hex.EncodeToString(raw[:n]))
}
