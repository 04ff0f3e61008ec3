package domain

import "time"

// VehicleStatus mirrors GTFS-Realtime's VehiclePosition.VehicleStopStatus.
type VehicleStatus int

const (
	StatusIncomingAt VehicleStatus = iota
	StatusStoppedAt
	StatusInTransitTo
)

func (s VehicleStatus) String() string {
	switch s {
	case StatusIncomingAt:
		return "INCOMING_AT"
	case StatusStoppedAt:
		return "STOPPED_AT"
	case StatusInTransitTo:
		return "IN_TRANSIT_TO"
	default:
		return "UNKNOWN"
	}
}

// VehiclePosition is a single realtime vehicle-position sample, trimmed to
// the fields the pub/sub channel carries.
type VehiclePosition struct {
	Agency        string        `json:"agency"`
	TripID        string        `json:"trip_id"`
	VehicleID     string        `json:"vehicle_id"`
	LicensePlate  string        `json:"license_plate"`
	StopID        string        `json:"stop_id,omitempty"`
	StopSequence  *int          `json:"stop_sequence,omitempty"`
	Status        VehicleStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
}

// StopTimeUpdate is a single predicted stop time from a GTFS-RT TripUpdate.
type StopTimeUpdate struct {
	StopID       string
	StopSequence *int
	Arrival      *time.Time
	Departure    *time.Time
}

// TripUpdate is a parsed GTFS-RT TripUpdate entity.
type TripUpdate struct {
	Agency          string
	TripID          string
	VehicleID       string
	Timestamp       time.Time
	StopTimeUpdates []StopTimeUpdate
}
