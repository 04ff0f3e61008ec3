// Package gtfsrt decodes GTFS-Realtime protobuf FeedMessage payloads into
// domain types, isolating the Publisher from the wire format.
package gtfsrt

import (
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// MinPayloadBytes is the minimum-size floor below which a feed response is
// treated as empty rather than parsed.
const MinPayloadBytes = 10

// statusFromProto maps GTFS-RT's VehicleStopStatus onto domain.VehicleStatus.
// The enum orderings coincide (INCOMING_AT=0, STOPPED_AT=1, IN_TRANSIT_TO=2)
// but the mapping is spelled out explicitly rather than relying on that.
func statusFromProto(s gtfsproto.VehiclePosition_VehicleStopStatus) domain.VehicleStatus {
	switch s {
	case gtfsproto.VehiclePosition_STOPPED_AT:
		return domain.StatusStoppedAt
	case gtfsproto.VehiclePosition_IN_TRANSIT_TO:
		return domain.StatusInTransitTo
	default:
		return domain.StatusIncomingAt
	}
}

// DecodeVehiclePositions parses a VehiclePositions FeedMessage into domain
// VehiclePositions. A payload under MinPayloadBytes yields an empty slice
// and no error; one that fails to parse as protobuf yields an error. An
// entity missing a positive timestamp is dropped rather than stamped with
// the current time, since a fabricated timestamp would always pass the
// Publisher's positive-timestamp check.
func DecodeVehiclePositions(agency string, data []byte) ([]domain.VehiclePosition, error) {
	if len(data) < MinPayloadBytes {
		return nil, nil
	}

	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, fmt.Errorf("unmarshal vehicle positions feed: %w", err)
	}

	var out []domain.VehiclePosition
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}

		trip := vp.GetTrip()
		vehicle := vp.GetVehicle()
		if trip == nil || vehicle == nil {
			continue
		}

		if vp.GetTimestamp() == 0 {
			continue
		}
		ts := time.Unix(int64(vp.GetTimestamp()), 0).UTC()

		var seq *int
		if vp.CurrentStopSequence != nil {
			n := int(vp.GetCurrentStopSequence())
			seq = &n
		}

		out = append(out, domain.VehiclePosition{
			Agency:       agency,
			TripID:       trip.GetTripId(),
			VehicleID:    vehicle.GetId(),
			LicensePlate: vehicle.GetLicensePlate(),
			StopID:       vp.GetStopId(),
			StopSequence: seq,
			Status:       statusFromProto(vp.GetCurrentStatus()),
			Timestamp:    ts,
		})
	}
	return out, nil
}

// DecodeTripUpdates parses a TripUpdates FeedMessage into domain
// TripUpdates, subject to the same size floor as vehicle positions.
func DecodeTripUpdates(agency string, data []byte) ([]domain.TripUpdate, error) {
	if len(data) < MinPayloadBytes {
		return nil, nil
	}

	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, fmt.Errorf("unmarshal trip updates feed: %w", err)
	}

	var out []domain.TripUpdate
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		trip := tu.GetTrip()
		if trip == nil || trip.GetTripId() == "" {
			continue
		}

		ts := time.Now().UTC()
		if tu.Timestamp != nil {
			ts = time.Unix(int64(tu.GetTimestamp()), 0).UTC()
		}

		vehicleID := ""
		if v := tu.GetVehicle(); v != nil {
			vehicleID = v.GetId()
		}

		var updates []domain.StopTimeUpdate
		for _, stu := range tu.GetStopTimeUpdate() {
			var seq *int
			if stu.StopSequence != nil {
				n := int(stu.GetStopSequence())
				seq = &n
			}

			var arrival, departure *time.Time
			if a := stu.GetArrival(); a != nil && a.Time != nil {
				t := time.Unix(a.GetTime(), 0).UTC()
				arrival = &t
			}
			if d := stu.GetDeparture(); d != nil && d.Time != nil {
				t := time.Unix(d.GetTime(), 0).UTC()
				departure = &t
			}
			if arrival == nil && departure == nil {
				continue
			}

			updates = append(updates, domain.StopTimeUpdate{
				StopID:       stu.GetStopId(),
				StopSequence: seq,
				Arrival:      arrival,
				Departure:    departure,
			})
		}

		out = append(out, domain.TripUpdate{
			Agency:          agency,
			TripID:          trip.GetTripId(),
			VehicleID:       vehicleID,
			Timestamp:       ts,
			StopTimeUpdates: updates,
		})
	}
	return out, nil
}
