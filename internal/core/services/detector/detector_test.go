package detector_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
	"github.com/samirrijal/bilbopass/internal/core/services/detector"
	"github.com/samirrijal/bilbopass/internal/core/services/statecache"
	"github.com/samirrijal/bilbopass/internal/core/services/writer"
)

// fakeStaticStore is a hand-written in-memory double for ports.StaticStore
// (a struct-based fake rather than a generated or testify mock).
type fakeStaticStore struct {
	trips     map[string]*domain.Trip
	stopTimes map[string]*domain.StopTime
	stops     map[string]*domain.Stop
	routes    map[string]*domain.Route
	maxSeq    map[string]int
	meta      map[string]*domain.AgencyMeta
}

func newFakeStaticStore() *fakeStaticStore {
	return &fakeStaticStore{
		trips:     map[string]*domain.Trip{},
		stopTimes: map[string]*domain.StopTime{},
		stops:     map[string]*domain.Stop{},
		routes:    map[string]*domain.Route{},
		maxSeq:    map[string]int{},
		meta:      map[string]*domain.AgencyMeta{},
	}
}

func (f *fakeStaticStore) ReplaceAgencyData(ctx context.Context, agencyID string, data ports.StaticAgencyData) error {
	return nil
}
func (f *fakeStaticStore) GetMeta(ctx context.Context, agencyID string) (*domain.AgencyMeta, error) {
	m, ok := f.meta[agencyID]
	if !ok {
		return nil, nil
	}
	return m, nil
}
func (f *fakeStaticStore) SetMeta(ctx context.Context, meta domain.AgencyMeta) error {
	f.meta[meta.AgencyID] = &meta
	return nil
}
func (f *fakeStaticStore) GetAgencyBySlug(ctx context.Context, slug string) (*domain.Agency, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeStaticStore) UpsertAgency(ctx context.Context, agency domain.Agency) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (f *fakeStaticStore) GetTripStopSequences(ctx context.Context, agencyID, tripID string) (map[string]int, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeStaticStore) GetTrip(ctx context.Context, agencyID, tripID string) (*domain.Trip, error) {
	t, ok := f.trips[agencyID+"|"+tripID]
	if !ok {
		return nil, fmt.Errorf("trip not found: %s/%s", agencyID, tripID)
	}
	return t, nil
}
func (f *fakeStaticStore) GetStopTime(ctx context.Context, agencyID, tripID string, seq int) (*domain.StopTime, error) {
	st, ok := f.stopTimes[fmt.Sprintf("%s|%s|%d", agencyID, tripID, seq)]
	if !ok {
		return nil, fmt.Errorf("stop_time not found: %s/%s/%d", agencyID, tripID, seq)
	}
	return st, nil
}
func (f *fakeStaticStore) GetMaxStopSequence(ctx context.Context, agencyID, tripID string) (int, error) {
	n, ok := f.maxSeq[agencyID+"|"+tripID]
	if !ok {
		return 0, fmt.Errorf("max sequence not found: %s/%s", agencyID, tripID)
	}
	return n, nil
}
func (f *fakeStaticStore) GetStop(ctx context.Context, agencyID, stopID string) (*domain.Stop, error) {
	s, ok := f.stops[agencyID+"|"+stopID]
	if !ok {
		return nil, fmt.Errorf("stop not found: %s/%s", agencyID, stopID)
	}
	return s, nil
}
func (f *fakeStaticStore) GetRoute(ctx context.Context, agencyID, routeID string) (*domain.Route, error) {
	r, ok := f.routes[agencyID+"|"+routeID]
	if !ok {
		return nil, fmt.Errorf("route not found: %s/%s", agencyID, routeID)
	}
	return r, nil
}

// fakeCacheStore is an in-memory ports.CacheStore double; TTLs are accepted
// but not enforced (no test in this package depends on expiry).
type fakeCacheStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	sets  map[string]map[int]bool
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{data: map[string][]byte{}, sets: map[string]map[int]bool{}}
}

func (f *fakeCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}
func (f *fakeCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}
func (f *fakeCacheStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}
func (f *fakeCacheStore) SetAdd(ctx context.Context, key string, member int, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = map[int]bool{}
	}
	f.sets[key][member] = true
	return nil
}
func (f *fakeCacheStore) SetHas(ctx context.Context, key string, member int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[key][member], nil
}
func (f *fakeCacheStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

type fakeStopEventStore struct {
	mu     sync.Mutex
	events []domain.StopEvent
}

func (f *fakeStopEventStore) InsertBatch(ctx context.Context, events []domain.StopEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

func newTestDetector(t *testing.T, static *fakeStaticStore) (*detector.Detector, *fakeCacheStore, *fakeStopEventStore, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	cacheStore := newFakeCacheStore()
	cache := statecache.New(cacheStore)
	store := &fakeStopEventStore{}
	// Batch size 1: every Add flushes straight to store, so tests can read
	// store.events right after Process returns.
	w := writer.New(store, 1, time.Hour, nil)

	d, err := detector.New(detector.Config{
		Static:   static,
		Cache:    cache,
		Writer:   w,
		Location: loc,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	return d, cacheStore, store, loc
}

func ptr(i int) *int { return &i }

// scenario 1: clean STOPPED_AT.
func TestDetector_CleanStoppedAt(t *testing.T) {
	static := newFakeStaticStore()
	static.trips["a1|T1"] = &domain.Trip{TripID: "T1", RouteID: ""}
	static.stopTimes["a1|T1|5"] = &domain.StopTime{TripID: "T1", StopSequence: 5, StopID: "S5", ArrivalSeconds: 43200}
	static.stops["a1|S5"] = &domain.Stop{StopID: "S5", Name: "Five"}
	static.meta["a1"] = &domain.AgencyMeta{AgencyID: "a1", CurrentHash: "hash1"}

	d, _, store, loc := newTestDetector(t, static)

	vp := domain.VehiclePosition{
		Agency:       "a1",
		TripID:       "T1",
		VehicleID:    "V1",
		LicensePlate: "PLATE1",
		StopSequence: ptr(5),
		Status:       domain.StatusStoppedAt,
		Timestamp:    time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
	}

	if err := d.Process(context.Background(), vp); err != nil {
		t.Fatalf("process: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 {
		t.Fatalf("got %d events, want 1", len(store.events))
	}
	ev := store.events[0]
	if ev.DetectionMethod != domain.DetectionStoppedAt || ev.IsEstimated {
		t.Fatalf("unexpected detection: method=%v estimated=%v", ev.DetectionMethod, ev.IsEstimated)
	}
	wantPlanned := time.Date(2026, 2, 9, 12, 0, 0, 0, loc)
	if !ev.PlannedTime.Equal(wantPlanned) {
		t.Fatalf("planned time = %v, want %v", ev.PlannedTime, wantPlanned)
	}
	if ev.DelaySeconds != 3600 {
		t.Fatalf("delay = %d, want 3600", ev.DelaySeconds)
	}
	if ev.VehicleID != "V1" || ev.LicensePlate != "PLATE1" {
		t.Fatalf("vehicle_id/license_plate = %q/%q, want V1/PLATE1", ev.VehicleID, ev.LicensePlate)
	}
	if ev.CreatedAt.IsZero() {
		t.Fatalf("created_at was never stamped")
	}
}

// scenario 2: re-delivery of the same position is ignored via SavedSequences.
func TestDetector_RedeliveryIgnored(t *testing.T) {
	static := newFakeStaticStore()
	static.trips["a1|T1"] = &domain.Trip{TripID: "T1"}
	static.stopTimes["a1|T1|5"] = &domain.StopTime{TripID: "T1", StopSequence: 5, StopID: "S5", ArrivalSeconds: 43200}
	static.stops["a1|S5"] = &domain.Stop{StopID: "S5", Name: "Five"}
	static.meta["a1"] = &domain.AgencyMeta{AgencyID: "a1", CurrentHash: "hash1"}

	d, _, store, _ := newTestDetector(t, static)

	vp := domain.VehiclePosition{
		Agency: "a1", TripID: "T1", VehicleID: "V1", LicensePlate: "PLATE1",
		StopSequence: ptr(5), Status: domain.StatusStoppedAt,
		Timestamp: time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
	}

	ctx := context.Background()
	if err := d.Process(ctx, vp); err != nil {
		t.Fatalf("process 1: %v", err)
	}
	if err := d.Process(ctx, vp); err != nil {
		t.Fatalf("process 2: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 {
		t.Fatalf("got %d events after redelivery, want 1", len(store.events))
	}
}

// scenario 3: sequence jump of 2 — two SEQ_JUMP events in ascending order,
// no event for the current (non-STOPPED_AT) position itself.
func TestDetector_SequenceJump(t *testing.T) {
	static := newFakeStaticStore()
	static.trips["a1|T1"] = &domain.Trip{TripID: "T1"}
	for _, seq := range []int{3, 4, 5} {
		static.stopTimes[fmt.Sprintf("a1|T1|%d", seq)] = &domain.StopTime{
			TripID: "T1", StopSequence: seq, StopID: fmt.Sprintf("S%d", seq), ArrivalSeconds: 40000 + seq*600,
		}
		static.stops[fmt.Sprintf("a1|S%d", seq)] = &domain.Stop{StopID: fmt.Sprintf("S%d", seq), Name: fmt.Sprintf("Stop %d", seq)}
	}
	static.meta["a1"] = &domain.AgencyMeta{AgencyID: "a1", CurrentHash: "hash1"}

	d, cacheStore, store, _ := newTestDetector(t, static)
	cache := statecache.New(cacheStore)
	ctx := context.Background()

	if err := cache.SetVehicleState(ctx, "a1", "PLATE1", domain.VehicleState{
		TripID: "T1", CurrentStopSequence: 3, LastTimestamp: time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed vehicle state: %v", err)
	}
	if err := cache.SetTripUpdateCache(ctx, "a1", "T1", domain.TripUpdateCache{
		3: {StopID: "S3", FirstSeenArrival: time.Date(2026, 2, 9, 11, 10, 0, 0, time.UTC), LastSeenArrival: time.Date(2026, 2, 9, 11, 11, 0, 0, time.UTC)},
		4: {StopID: "S4", FirstSeenArrival: time.Date(2026, 2, 9, 11, 20, 0, 0, time.UTC), LastSeenArrival: time.Date(2026, 2, 9, 11, 21, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatalf("seed trip update cache: %v", err)
	}

	vp := domain.VehiclePosition{
		Agency: "a1", TripID: "T1", VehicleID: "V1", LicensePlate: "PLATE1",
		StopSequence: ptr(5), Status: domain.StatusInTransitTo,
		Timestamp: time.Date(2026, 2, 9, 11, 30, 0, 0, time.UTC),
	}
	if err := d.Process(ctx, vp); err != nil {
		t.Fatalf("process: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 2 {
		t.Fatalf("got %d events, want 2", len(store.events))
	}
	if store.events[0].StopSequence != 3 || store.events[1].StopSequence != 4 {
		t.Fatalf("got sequences %d,%d want 3,4 in order", store.events[0].StopSequence, store.events[1].StopSequence)
	}
	for _, ev := range store.events {
		if ev.DetectionMethod != domain.DetectionSeqJump || !ev.IsEstimated {
			t.Fatalf("seq %d: method=%v estimated=%v", ev.StopSequence, ev.DetectionMethod, ev.IsEstimated)
		}
	}
}

// scenario 4: trip change runs completion for the prior trip (SEQ_JUMP for
// the penultimate stop, TIMEOUT for the terminal stop) before any event for
// the new trip.
func TestDetector_TripChangeCompletion(t *testing.T) {
	static := newFakeStaticStore()
	static.trips["a1|T1"] = &domain.Trip{TripID: "T1"}
	static.trips["a1|T2"] = &domain.Trip{TripID: "T2"}
	static.maxSeq["a1|T1"] = 10
	static.stopTimes["a1|T1|9"] = &domain.StopTime{TripID: "T1", StopSequence: 9, StopID: "S9", ArrivalSeconds: 43500}
	static.stopTimes["a1|T1|10"] = &domain.StopTime{TripID: "T1", StopSequence: 10, StopID: "S10", ArrivalSeconds: 43680}
	static.stopTimes["a1|T2|1"] = &domain.StopTime{TripID: "T2", StopSequence: 1, StopID: "S1", ArrivalSeconds: 1000}
	static.stops["a1|S9"] = &domain.Stop{StopID: "S9", Name: "Nine"}
	static.stops["a1|S10"] = &domain.Stop{StopID: "S10", Name: "Ten"}
	static.stops["a1|S1"] = &domain.Stop{StopID: "S1", Name: "One"}
	static.meta["a1"] = &domain.AgencyMeta{AgencyID: "a1", CurrentHash: "hash1"}

	d, cacheStore, store, _ := newTestDetector(t, static)
	cache := statecache.New(cacheStore)
	ctx := context.Background()

	if err := cache.SetVehicleState(ctx, "a1", "PLATE1", domain.VehicleState{
		TripID: "T1", CurrentStopSequence: 8, LastTimestamp: time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed vehicle state: %v", err)
	}
	if err := cache.SetTripUpdateCache(ctx, "a1", "T1", domain.TripUpdateCache{
		9:  {StopID: "S9", FirstSeenArrival: time.Date(2026, 2, 9, 12, 5, 0, 0, time.UTC), LastSeenArrival: time.Date(2026, 2, 9, 12, 5, 0, 0, time.UTC)},
		10: {StopID: "S10", FirstSeenArrival: time.Date(2026, 2, 9, 12, 8, 0, 0, time.UTC), LastSeenArrival: time.Date(2026, 2, 9, 12, 10, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatalf("seed trip update cache: %v", err)
	}

	vp := domain.VehiclePosition{
		Agency: "a1", TripID: "T2", VehicleID: "V1", LicensePlate: "PLATE1",
		StopSequence: ptr(1), Status: domain.StatusStoppedAt,
		Timestamp: time.Date(2026, 2, 9, 12, 20, 0, 0, time.UTC),
	}
	if err := d.Process(ctx, vp); err != nil {
		t.Fatalf("process: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 3 {
		t.Fatalf("got %d events, want 3", len(store.events))
	}

	ev9, ev10, evT2 := store.events[0], store.events[1], store.events[2]
	if ev9.TripID != "T1" || ev9.StopSequence != 9 || ev9.DetectionMethod != domain.DetectionSeqJump {
		t.Fatalf("event 0 = %+v, want T1/seq9/SEQ_JUMP", ev9)
	}
	if !ev9.EventTime.Equal(time.Date(2026, 2, 9, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("event 0 event_time = %v, want last_seen_arrival 12:05", ev9.EventTime)
	}
	if ev10.TripID != "T1" || ev10.StopSequence != 10 || ev10.DetectionMethod != domain.DetectionTimeout {
		t.Fatalf("event 1 = %+v, want T1/seq10/TIMEOUT", ev10)
	}
	if !ev10.EventTime.Equal(time.Date(2026, 2, 9, 12, 8, 0, 0, time.UTC)) {
		t.Fatalf("event 1 event_time = %v, want first_seen_arrival 12:08", ev10.EventTime)
	}
	if evT2.TripID != "T2" || evT2.StopSequence != 1 || evT2.DetectionMethod != domain.DetectionStoppedAt {
		t.Fatalf("event 2 = %+v, want T2/seq1/STOPPED_AT", evT2)
	}

	// the completed trip's prediction cache is gone.
	if _, has, err := cache.GetTripUpdateCache(ctx, "a1", "T1"); err != nil || has {
		t.Fatalf("TripUpdateCache(T1) still present: has=%v err=%v", has, err)
	}

	// the vehicle's state now reflects the new trip, not T1.
	state, has, err := cache.GetVehicleState(ctx, "a1", "PLATE1")
	if err != nil || !has {
		t.Fatalf("vehicle state missing: %v", err)
	}
	if state.TripID != "T2" || state.CurrentStopSequence != 1 {
		t.Fatalf("vehicle state = %+v, want T2/seq1", state)
	}
}

// boundary: hash gating — no event is emitted when the agency's
// current_hash is unknown.
func TestDetector_HashGating_SuppressesEvent(t *testing.T) {
	static := newFakeStaticStore()
	static.trips["a1|T1"] = &domain.Trip{TripID: "T1"}
	static.stopTimes["a1|T1|5"] = &domain.StopTime{TripID: "T1", StopSequence: 5, StopID: "S5", ArrivalSeconds: 43200}
	static.stops["a1|S5"] = &domain.Stop{StopID: "S5", Name: "Five"}
	// no meta entry for "a1" — simulates an agency never successfully imported.

	d, _, store, _ := newTestDetector(t, static)
	vp := domain.VehiclePosition{
		Agency: "a1", TripID: "T1", VehicleID: "V1", LicensePlate: "PLATE1",
		StopSequence: ptr(5), Status: domain.StatusStoppedAt,
		Timestamp: time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
	}
	if err := d.Process(context.Background(), vp); err != nil {
		t.Fatalf("process: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 0 {
		t.Fatalf("got %d events, want 0 (hash unknown)", len(store.events))
	}
}

// boundary: absent stop_sequence or license_plate drops the sample entirely.
func TestDetector_DropsWithoutPreconditions(t *testing.T) {
	static := newFakeStaticStore()
	d, _, store, _ := newTestDetector(t, static)
	ctx := context.Background()

	noSeq := domain.VehiclePosition{Agency: "a1", TripID: "T1", LicensePlate: "PLATE1", Status: domain.StatusStoppedAt}
	if err := d.Process(ctx, noSeq); err != nil {
		t.Fatalf("process (no seq): %v", err)
	}
	noPlate := domain.VehiclePosition{Agency: "a1", TripID: "T1", StopSequence: ptr(1), Status: domain.StatusStoppedAt}
	if err := d.Process(ctx, noPlate); err != nil {
		t.Fatalf("process (no plate): %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 0 {
		t.Fatalf("got %d events, want 0", len(store.events))
	}
}
