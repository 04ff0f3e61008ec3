// Package statecache layers the typed cache entities (VehicleState,
// TripUpdateCache, SavedSequences, the Ready flag) on top of the raw
// ports.CacheStore.
package statecache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
)

const (
	VehicleStateTTL  = 3 * time.Hour
	TripUpdateTTL    = 3 * time.Hour
	SavedSequenceTTL = 24 * time.Hour

	readyKey = "gtfs:ready"
)

// Store provides typed access to the shared KV cache entities.
type Store struct {
	cache ports.CacheStore
}

func New(cache ports.CacheStore) *Store {
	return &Store{cache: cache}
}

func vehicleStateKey(agency, licensePlate string) string {
	return fmt.Sprintf("vs:%s:%s", agency, licensePlate)
}

func tripUpdateKey(agency, tripID string) string {
	return fmt.Sprintf("tu:%s:%s", agency, tripID)
}

func savedKey(agency, tripID, serviceDateISO string) string {
	return fmt.Sprintf("saved:%s:%s:%s", agency, tripID, serviceDateISO)
}

// GetVehicleState returns the last known state for a vehicle. The second
// return value is false if no entry exists (expired or never written).
func (s *Store) GetVehicleState(ctx context.Context, agency, licensePlate string) (domain.VehicleState, bool, error) {
	raw, err := s.cache.Get(ctx, vehicleStateKey(agency, licensePlate))
	if err != nil {
		return domain.VehicleState{}, false, err
	}
	if raw == nil {
		return domain.VehicleState{}, false, nil
	}
	var vs domain.VehicleState
	if err := msgpack.Unmarshal(raw, &vs); err != nil {
		return domain.VehicleState{}, false, fmt.Errorf("decode vehicle state: %w", err)
	}
	return vs, true, nil
}

// SetVehicleState writes back the vehicle state with a fresh TTL. Written
// only by the Detector.
func (s *Store) SetVehicleState(ctx context.Context, agency, licensePlate string, vs domain.VehicleState) error {
	raw, err := msgpack.Marshal(vs)
	if err != nil {
		return fmt.Errorf("encode vehicle state: %w", err)
	}
	return s.cache.Set(ctx, vehicleStateKey(agency, licensePlate), raw, VehicleStateTTL)
}

// DeleteVehicleState removes a vehicle's state on trip completion.
func (s *Store) DeleteVehicleState(ctx context.Context, agency, licensePlate string) error {
	return s.cache.Delete(ctx, vehicleStateKey(agency, licensePlate))
}

// GetTripUpdateCache returns the per-sequence prediction cache for a trip.
func (s *Store) GetTripUpdateCache(ctx context.Context, agency, tripID string) (domain.TripUpdateCache, bool, error) {
	raw, err := s.cache.Get(ctx, tripUpdateKey(agency, tripID))
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var tuc domain.TripUpdateCache
	if err := msgpack.Unmarshal(raw, &tuc); err != nil {
		return nil, false, fmt.Errorf("decode trip update cache: %w", err)
	}
	return tuc, true, nil
}

// SetTripUpdateCache writes the cache back with a fresh TTL; every write
// resets TTL. Written only by the Publisher.
func (s *Store) SetTripUpdateCache(ctx context.Context, agency, tripID string, tuc domain.TripUpdateCache) error {
	raw, err := msgpack.Marshal(tuc)
	if err != nil {
		return fmt.Errorf("encode trip update cache: %w", err)
	}
	return s.cache.Set(ctx, tripUpdateKey(agency, tripID), raw, TripUpdateTTL)
}

// DeleteTripUpdateCache removes a trip's prediction cache (trip completion).
func (s *Store) DeleteTripUpdateCache(ctx context.Context, agency, tripID string) error {
	return s.cache.Delete(ctx, tripUpdateKey(agency, tripID))
}

// IsSaved reports whether (agency, tripID, serviceDate, seq) already
// produced a persisted StopEvent.
func (s *Store) IsSaved(ctx context.Context, agency, tripID, serviceDateISO string, seq int) (bool, error) {
	return s.cache.SetHas(ctx, savedKey(agency, tripID, serviceDateISO), seq)
}

// MarkSaved records that a sequence has now produced a StopEvent. The set
// is append-only within its TTL.
func (s *Store) MarkSaved(ctx context.Context, agency, tripID, serviceDateISO string, seq int) error {
	return s.cache.SetAdd(ctx, savedKey(agency, tripID, serviceDateISO), seq, SavedSequenceTTL)
}

// SetReady marks the static tables as populated at least once.
func (s *Store) SetReady(ctx context.Context) error {
	return s.cache.Set(ctx, readyKey, []byte{1}, 0)
}

// IsReady reports whether the Ready flag is set.
func (s *Store) IsReady(ctx context.Context) (bool, error) {
	return s.cache.Exists(ctx, readyKey)
}
