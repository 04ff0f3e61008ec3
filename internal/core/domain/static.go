package domain

import "time"

// Agency is a transit operator whose static and realtime feeds are
// ingested independently of every other agency.
type Agency struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}

// Route is a GTFS route: a published line of service.
type Route struct {
	ID         string `json:"id"`
	RouteID    string `json:"route_id"`
	AgencyID   string `json:"agency_id"`
	LineNumber string `json:"line_number"`
}

// Stop is a physical place vehicles serve.
type Stop struct {
	ID       string   `json:"id"`
	StopID   string   `json:"stop_id"`
	AgencyID string   `json:"agency_id"`
	Name     string   `json:"name"`
	Code     string   `json:"code,omitempty"`
	Desc     string   `json:"desc,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

// Trip is a single scheduled run of a vehicle along a route.
type Trip struct {
	ID        string `json:"id"`
	TripID    string `json:"trip_id"`
	RouteID   string `json:"route_id"`
	AgencyID  string `json:"agency_id"`
	ServiceID string `json:"service_id"`
	Direction *int   `json:"direction,omitempty"`
	Headsign  string `json:"headsign,omitempty"`
	ShapeID   string `json:"shape_id,omitempty"`
}

// StopTime is one scheduled stop on a trip. ArrivalSeconds/DepartureSeconds
// are seconds since the service day's midnight and may exceed 86400 for
// trips that run past midnight.
type StopTime struct {
	TripID           string `json:"trip_id"`
	StopSequence     int    `json:"stop_sequence"`
	StopID           string `json:"stop_id"`
	ArrivalSeconds   int    `json:"arrival_seconds"`
	DepartureSeconds int    `json:"departure_seconds"`
}

// ShapePoint is a single vertex of a route's polyline.
type ShapePoint struct {
	ShapeID  string  `json:"shape_id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

// AgencyMeta tracks the content hash of the static feed currently loaded
// for an agency, gating change detection and stamping every
// emitted StopEvent.
type AgencyMeta struct {
	AgencyID    string    `json:"agency_id"`
	CurrentHash string    `json:"current_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}
