package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricFeedPollLatency    = "poller.feed_latency"
	MetricDetectionLatency   = "detector.detection_latency"
	MetricWriterFlushLatency = "writer.flush_latency"

	// Throughput
	MetricVehiclePositionsPerSec = "poller.vehicle_positions_per_second"
	MetricStopEventsPerSec       = "detector.stop_events_per_second"

	// Data freshness
	MetricGTFSFreshness   = "importer.data_age_seconds"
	MetricPositionLatency = "realtime.position_latency"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricDelayEvents = "detector.delays_detected"
)
