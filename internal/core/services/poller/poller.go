// Package poller implements the Realtime Poller: it fetches each agency's
// GTFS-Realtime feeds on a fixed interval and hands the raw protobuf bytes
// to the Publisher.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/services/publisher"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

const maxConcurrentFetches = 8

// AgencyFeed names one agency's realtime feed URLs. Either URL may be
// empty when an agency does not publish that feed.
type AgencyFeed struct {
	Slug                string
	VehiclePositionsURL string
	TripUpdatesURL      string
}

// Poller fetches realtime feeds for a fixed set of agencies and forwards
// the raw payloads to a Publisher, which decodes them.
type Poller struct {
	feeds           []AgencyFeed
	publisher       *publisher.Publisher
	client          *http.Client
	minPayloadBytes int
	logger          *slog.Logger
}

func New(feeds []AgencyFeed, pub *publisher.Publisher, httpTimeout time.Duration, minPayloadBytes int, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		feeds:           feeds,
		publisher:       pub,
		client:          &http.Client{Timeout: httpTimeout},
		minPayloadBytes: minPayloadBytes,
		logger:          logger,
	}
}

// Run polls every agency immediately, then again on every tick of
// interval, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	p.pollAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentFetches)

	for _, f := range p.feeds {
		wg.Add(1)
		go func(feed AgencyFeed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if feed.VehiclePositionsURL != "" {
				p.pollFeed(ctx, feed.Slug, "vehicle_positions", feed.VehiclePositionsURL, p.publisher.ProcessVehiclePositions)
			}
			if feed.TripUpdatesURL != "" {
				p.pollFeed(ctx, feed.Slug, "trip_updates", feed.TripUpdatesURL, p.publisher.ProcessTripUpdates)
			}
		}(f)
	}

	wg.Wait()
}

type processFunc func(ctx context.Context, agency string, raw []byte) (int, error)

func (p *Poller) pollFeed(ctx context.Context, agency, feedName, url string, process processFunc) {
	data, err := p.fetch(ctx, url)
	if err != nil {
		metrics.FeedPollErrors.WithLabelValues(agency, feedName).Inc()
		p.logger.Error("feed fetch failed", "agency", agency, "feed", feedName, "error", err)
		return
	}
	if len(data) < p.minPayloadBytes {
		metrics.FeedPayloadBelowFloor.WithLabelValues(agency, feedName).Inc()
		return
	}

	start := time.Now()
	count, err := process(ctx, agency, data)
	metrics.FeedPollDuration.WithLabelValues(agency, feedName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedPollErrors.WithLabelValues(agency, feedName).Inc()
		p.logger.Error("feed processing failed", "agency", agency, "feed", feedName, "error", err)
		return
	}
	if count > 0 {
		p.logger.Info("polled feed", "agency", agency, "feed", feedName, "count", count)
	}
}

func (p *Poller) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
