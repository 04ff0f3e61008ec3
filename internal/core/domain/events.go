package domain

import "time"

// DetectionMethod records which of the Detector's strategies
// produced a StopEvent. INCOMING_AT is reserved: the Detector never emits
// it, but the constant exists so downstream
// consumers can switch exhaustively without a default case.
type DetectionMethod int

const (
	DetectionStoppedAt DetectionMethod = iota
	DetectionSeqJump
	DetectionTimeout
	DetectionIncomingAt
)

func (m DetectionMethod) String() string {
	switch m {
	case DetectionStoppedAt:
		return "STOPPED_AT"
	case DetectionSeqJump:
		return "SEQ_JUMP"
	case DetectionTimeout:
		return "TIMEOUT"
	case DetectionIncomingAt:
		return "INCOMING_AT"
	default:
		return "UNKNOWN"
	}
}

// StopEvent is the durable, write-once record of an observed arrival at a
// stop. Unique on (Agency, TripID, ServiceDate, StopSequence): the same
// trip_id, service date and sequence under two different agencies are two
// separate events.
type StopEvent struct {
	Agency          string
	TripID          string
	ServiceDate     time.Time // date-only, local to the agency's timezone
	StopSequence    int
	StopID          string
	LineNumber      string
	StopName        string
	StopDesc        string
	Direction       *int
	Headsign        string
	PlannedTime     time.Time
	EventTime       time.Time
	DelaySeconds    int
	VehicleID       string
	LicensePlate    string
	DetectionMethod DetectionMethod
	IsEstimated     bool
	StaticHash      string
	CreatedAt       time.Time
}
