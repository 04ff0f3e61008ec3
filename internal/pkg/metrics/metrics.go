// Package metrics exposes the Prometheus collectors for the ingestion
// pipeline (Poller, Publisher, Detector, Writer, Importer). The collectors
// register with the default Prometheus registry; no command in this module
// exposes them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller/Publisher

	VehiclePositionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "transit",
		Name:      "vehicle_positions_ingested_total",
		Help:      "Total vehicle positions published to the vehicle_positions channel",
	}, []string{"agency"})

	TripUpdatesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "transit",
		Name:      "trip_updates_ingested_total",
		Help:      "Total TripUpdate entities merged into the TripUpdateCache",
	}, []string{"agency"})

	FeedPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bilbopass",
		Subsystem: "transit",
		Name:      "feed_poll_duration_seconds",
		Help:      "Duration of processing one fetched GTFS-RT payload, per feed kind",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"agency", "feed"})

	FeedPollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "transit",
		Name:      "feed_poll_errors_total",
		Help:      "Total GTFS-RT feed poll errors",
	}, []string{"agency", "feed"})

	FeedPayloadBelowFloor = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "transit",
		Name:      "feed_payload_below_floor_total",
		Help:      "Total polls whose response body was below the minimum-size floor and treated as empty",
	}, []string{"agency", "feed"})

	// Detector

	StopEventsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "detector",
		Name:      "stop_events_detected_total",
		Help:      "Total StopEvents produced, by detection method",
	}, []string{"agency", "method"})

	StaticJoinMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "detector",
		Name:      "static_join_misses_total",
		Help:      "Total times a position/prediction could not be joined against static data and detection was skipped",
	}, []string{"agency", "reason"})

	// Writer

	StopEventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "writer",
		Name:      "stop_events_written_total",
		Help:      "Total StopEvents successfully flushed to storage",
	})

	WriterFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "writer",
		Name:      "flushes_total",
		Help:      "Total flush attempts, by trigger and outcome",
	}, []string{"trigger", "outcome"})

	// Importer

	ImporterRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "importer",
		Name:      "runs_total",
		Help:      "Total per-agency import cycles, by outcome",
	}, []string{"agency", "outcome"})

	ImporterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bilbopass",
		Subsystem: "importer",
		Name:      "duration_seconds",
		Help:      "Duration of a full import cycle across all agencies (agency label \"all\")",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"agency"})

	// Cache

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bilbopass",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool

	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bilbopass",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bilbopass",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bilbopass",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// Accepts an interface rather than *pgxpool.Stat directly so this package
// does not need to import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
