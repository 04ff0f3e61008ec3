package domain

import "time"

// VehicleState is the Detector's last-known state for one vehicle,
// keyed by (agency, license_plate). Written by the Detector only.
type VehicleState struct {
	TripID             string    `msgpack:"trip_id"`
	CurrentStopSequence int      `msgpack:"current_stop_sequence"`
	LastTimestamp      time.Time `msgpack:"last_timestamp"`
}

// TripUpdateEntry holds the first- and last-seen predicted arrival for one
// stop_sequence of a trip. first_seen_arrival is immutable after creation;
// last_seen_arrival is overwritten on every Publisher merge.
type TripUpdateEntry struct {
	StopID           string    `msgpack:"stop_id"`
	FirstSeenArrival time.Time `msgpack:"first_seen_arrival"`
	LastSeenArrival  time.Time `msgpack:"last_seen_arrival"`
}

// TripUpdateCache is the per-trip map of stop_sequence -> TripUpdateEntry,
// written by the Publisher and consumed by the Detector.
type TripUpdateCache map[int]TripUpdateEntry
