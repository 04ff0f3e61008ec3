package detector

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
)

// defaultCacheSize bounds the Detector's in-process static join caches to
// the low thousands, enough to cover a busy agency's active trip set.
const defaultCacheSize = 4096

// staticCache fronts ports.StaticStore with bounded LRUs so the Detector's
// hot path doesn't hit the relational store on every position.
type staticCache struct {
	static ports.StaticStore

	trips     *lru.Cache[string, *domain.Trip]
	stops     *lru.Cache[string, *domain.Stop]
	stopTimes *lru.Cache[string, *domain.StopTime]
	maxSeqs   *lru.Cache[string, int]
}

func newStaticCache(static ports.StaticStore, size int) (*staticCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	trips, err := lru.New[string, *domain.Trip](size)
	if err != nil {
		return nil, fmt.Errorf("trip cache: %w", err)
	}
	stops, err := lru.New[string, *domain.Stop](size)
	if err != nil {
		return nil, fmt.Errorf("stop cache: %w", err)
	}
	stopTimes, err := lru.New[string, *domain.StopTime](size)
	if err != nil {
		return nil, fmt.Errorf("stop_time cache: %w", err)
	}
	maxSeqs, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("max_seq cache: %w", err)
	}
	return &staticCache{
		static:    static,
		trips:     trips,
		stops:     stops,
		stopTimes: stopTimes,
		maxSeqs:   maxSeqs,
	}, nil
}

func tripKey(agency, tripID string) string {
	return agency + "|" + tripID
}

func stopTimeKey(agency, tripID string, seq int) string {
	return fmt.Sprintf("%s|%s|%d", agency, tripID, seq)
}

func stopKey(agency, stopID string) string {
	return agency + "|" + stopID
}

func (c *staticCache) trip(ctx context.Context, agency, tripID string) (*domain.Trip, error) {
	key := tripKey(agency, tripID)
	if t, ok := c.trips.Get(key); ok {
		return t, nil
	}
	t, err := c.static.GetTrip(ctx, agency, tripID)
	if err != nil {
		return nil, err
	}
	c.trips.Add(key, t)
	return t, nil
}

func (c *staticCache) stopTime(ctx context.Context, agency, tripID string, seq int) (*domain.StopTime, error) {
	key := stopTimeKey(agency, tripID, seq)
	if st, ok := c.stopTimes.Get(key); ok {
		return st, nil
	}
	st, err := c.static.GetStopTime(ctx, agency, tripID, seq)
	if err != nil {
		return nil, err
	}
	c.stopTimes.Add(key, st)
	return st, nil
}

func (c *staticCache) stop(ctx context.Context, agency, stopID string) (*domain.Stop, error) {
	key := stopKey(agency, stopID)
	if s, ok := c.stops.Get(key); ok {
		return s, nil
	}
	s, err := c.static.GetStop(ctx, agency, stopID)
	if err != nil {
		return nil, err
	}
	c.stops.Add(key, s)
	return s, nil
}

func (c *staticCache) maxSequence(ctx context.Context, agency, tripID string) (int, error) {
	key := tripKey(agency, tripID)
	if n, ok := c.maxSeqs.Get(key); ok {
		return n, nil
	}
	n, err := c.static.GetMaxStopSequence(ctx, agency, tripID)
	if err != nil {
		return 0, err
	}
	c.maxSeqs.Add(key, n)
	return n, nil
}
