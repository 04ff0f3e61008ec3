// Package importer implements the Static Importer: it downloads each
// agency's GTFS static feed on a fixed cadence, skips agencies whose feed
// hasn't changed since the last cycle, and replaces the static tables for
// the rest inside one transaction per agency.
package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

// readyKey is the scalar presence flag the Poller and Detector block on at
// startup. It carries no TTL: once set, it stays set until
// explicitly cleared.
const readyKey = "gtfs:ready"

// AgencyFeed names one agency's static feed location. It is intentionally
// decoupled from internal/pkg/config so this package stays testable
// without a Viper-backed Config in scope.
type AgencyFeed struct {
	Slug      string
	Name      string
	StaticURL string
}

// Importer runs the hash-gated static import cycle for a fixed set of
// agencies.
type Importer struct {
	feeds  []AgencyFeed
	static ports.StaticStore
	cache  ports.CacheStore
	client *http.Client
	logger *slog.Logger
}

func New(feeds []AgencyFeed, static ports.StaticStore, cache ports.CacheStore, httpTimeout time.Duration, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		feeds:  feeds,
		static: static,
		cache:  cache,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

// RunCycle imports every configured agency. The Ready flag is set only if
// every agency either imported successfully or was already up to date.
func (imp *Importer) RunCycle(ctx context.Context) error {
	start := time.Now()
	allOK := true

	for _, f := range imp.feeds {
		imported, err := imp.ImportOne(ctx, f.Slug)
		if err != nil {
			allOK = false
			metrics.ImporterRuns.WithLabelValues(f.Slug, "error").Inc()
			imp.logger.Error("static import failed", "agency", f.Slug, "error", err)
			continue
		}
		outcome := "unchanged"
		if imported {
			outcome = "imported"
		}
		metrics.ImporterRuns.WithLabelValues(f.Slug, outcome).Inc()
	}

	metrics.ImporterDuration.WithLabelValues("all").Observe(time.Since(start).Seconds())

	if !allOK {
		return fmt.Errorf("static import cycle had failures, not marking ready")
	}
	if err := imp.cache.Set(ctx, readyKey, []byte("1"), 0); err != nil {
		return fmt.Errorf("set ready flag: %w", err)
	}
	return nil
}

// ImportOne downloads, hashes, and conditionally replaces one agency's
// static tables. imported is false when the feed's content hash is
// unchanged since the last successful import.
func (imp *Importer) ImportOne(ctx context.Context, slug string) (imported bool, err error) {
	feed, ok := imp.feedFor(slug)
	if !ok {
		return false, fmt.Errorf("no configured feed for agency %q", slug)
	}

	agency, err := imp.static.GetAgencyBySlug(ctx, slug)
	var agencyID string
	if err != nil {
		agencyID, err = imp.static.UpsertAgency(ctx, domain.Agency{
			Slug:     feed.Slug,
			Name:     feed.Name,
			Timezone: "Europe/Warsaw",
		})
		if err != nil {
			return false, fmt.Errorf("upsert agency %s: %w", slug, err)
		}
	} else {
		agencyID = agency.ID
	}

	body, err := imp.download(ctx, feed.StaticURL)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", feed.StaticURL, err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	if meta, err := imp.static.GetMeta(ctx, agencyID); err == nil && meta != nil && meta.CurrentHash == hash {
		imp.logger.Info("static feed unchanged, skipping import", "agency", slug)
		return false, nil
	}

	data, err := parseGTFSZip(body)
	if err != nil {
		return false, fmt.Errorf("parse gtfs zip: %w", err)
	}

	if err := imp.static.ReplaceAgencyData(ctx, agencyID, data); err != nil {
		return false, fmt.Errorf("replace agency data: %w", err)
	}

	if err := imp.static.SetMeta(ctx, domain.AgencyMeta{
		AgencyID:    agencyID,
		CurrentHash: hash,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return false, fmt.Errorf("set meta: %w", err)
	}

	imp.logger.Info("static import complete", "agency", slug,
		"routes", len(data.Routes), "stops", len(data.Stops),
		"trips", len(data.Trips), "stop_times", len(data.StopTimes))
	return true, nil
}

func (imp *Importer) feedFor(slug string) (AgencyFeed, bool) {
	for _, f := range imp.feeds {
		if f.Slug == slug {
			return f, true
		}
	}
	return AgencyFeed{}, false
}

func (imp *Importer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := imp.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseGTFSZip extracts the five static tables from a GTFS feed's raw zip
// bytes.
func parseGTFSZip(body []byte) (ports.StaticAgencyData, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return ports.StaticAgencyData{}, fmt.Errorf("open zip: %w", err)
	}

	stops, err := parseStops(zr)
	if err != nil {
		return ports.StaticAgencyData{}, fmt.Errorf("stops.txt: %w", err)
	}
	routes, err := parseRoutes(zr)
	if err != nil {
		return ports.StaticAgencyData{}, fmt.Errorf("routes.txt: %w", err)
	}
	trips, err := parseTrips(zr)
	if err != nil {
		return ports.StaticAgencyData{}, fmt.Errorf("trips.txt: %w", err)
	}
	stopTimes, err := parseStopTimes(zr)
	if err != nil {
		return ports.StaticAgencyData{}, fmt.Errorf("stop_times.txt: %w", err)
	}
	shapes, _ := parseShapes(zr) // optional file, ignore absence

	return ports.StaticAgencyData{
		Routes:    routes,
		Stops:     stops,
		Trips:     trips,
		StopTimes: stopTimes,
		Shapes:    shapes,
	}, nil
}

func openCSV(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("file %s not found in zip", name)
}

func indexColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimPrefix(col, "\xef\xbb\xbf")
		m[strings.TrimSpace(col)] = i
	}
	return m
}

func getField(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseStops(zr *zip.Reader) ([]domain.Stop, error) {
	f, err := openCSV(zr, "stops.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var stops []domain.Stop
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		s := domain.Stop{
			StopID: getField(record, cols, "stop_id"),
			Name:   getField(record, cols, "stop_name"),
			Code:   getField(record, cols, "stop_code"),
			Desc:   getField(record, cols, "stop_desc"),
		}
		if lat, err := strconv.ParseFloat(getField(record, cols, "stop_lat"), 64); err == nil {
			s.Lat = &lat
		}
		if lon, err := strconv.ParseFloat(getField(record, cols, "stop_lon"), 64); err == nil {
			s.Lon = &lon
		}
		if s.StopID == "" {
			continue
		}
		stops = append(stops, s)
	}
	return stops, nil
}

func parseRoutes(zr *zip.Reader) ([]domain.Route, error) {
	f, err := openCSV(zr, "routes.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var routes []domain.Route
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		routeID := getField(record, cols, "route_id")
		if routeID == "" {
			continue
		}
		lineNumber := getField(record, cols, "route_short_name")
		if lineNumber == "" {
			lineNumber = getField(record, cols, "route_long_name")
		}
		if lineNumber == "" {
			lineNumber = routeID
		}
		routes = append(routes, domain.Route{RouteID: routeID, LineNumber: lineNumber})
	}
	return routes, nil
}

func parseTrips(zr *zip.Reader) ([]domain.Trip, error) {
	f, err := openCSV(zr, "trips.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var trips []domain.Trip
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		tripID := getField(record, cols, "trip_id")
		if tripID == "" {
			continue
		}
		t := domain.Trip{
			TripID:    tripID,
			RouteID:   getField(record, cols, "route_id"),
			ServiceID: getField(record, cols, "service_id"),
			Headsign:  getField(record, cols, "trip_headsign"),
			ShapeID:   getField(record, cols, "shape_id"),
		}
		if dir, err := strconv.Atoi(getField(record, cols, "direction_id")); err == nil {
			t.Direction = &dir
		}
		trips = append(trips, t)
	}
	return trips, nil
}

func parseStopTimes(zr *zip.Reader) ([]domain.StopTime, error) {
	f, err := openCSV(zr, "stop_times.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var stopTimes []domain.StopTime
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		tripID := getField(record, cols, "trip_id")
		stopID := getField(record, cols, "stop_id")
		seq, err := strconv.Atoi(getField(record, cols, "stop_sequence"))
		if tripID == "" || stopID == "" || err != nil {
			continue
		}

		arrivalSeconds, err := parseGTFSTimeSeconds(getField(record, cols, "arrival_time"))
		if err != nil {
			return nil, fmt.Errorf("stop_times.txt: trip_id=%s seq=%d: %w", tripID, seq, err)
		}
		departureSeconds, err := parseGTFSTimeSeconds(getField(record, cols, "departure_time"))
		if err != nil {
			return nil, fmt.Errorf("stop_times.txt: trip_id=%s seq=%d: %w", tripID, seq, err)
		}

		stopTimes = append(stopTimes, domain.StopTime{
			TripID:           tripID,
			StopID:           stopID,
			StopSequence:     seq,
			ArrivalSeconds:   arrivalSeconds,
			DepartureSeconds: departureSeconds,
		})
	}
	return stopTimes, nil
}

func parseShapes(zr *zip.Reader) ([]domain.ShapePoint, error) {
	f, err := openCSV(zr, "shapes.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var points []domain.ShapePoint
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		lat, errLat := strconv.ParseFloat(getField(record, cols, "shape_pt_lat"), 64)
		lon, errLon := strconv.ParseFloat(getField(record, cols, "shape_pt_lon"), 64)
		seq, errSeq := strconv.Atoi(getField(record, cols, "shape_pt_sequence"))
		if errLat != nil || errLon != nil || errSeq != nil {
			continue
		}

		points = append(points, domain.ShapePoint{
			ShapeID:  getField(record, cols, "shape_id"),
			Lat:      lat,
			Lon:      lon,
			Sequence: seq,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].ShapeID != points[j].ShapeID {
			return points[i].ShapeID < points[j].ShapeID
		}
		return points[i].Sequence < points[j].Sequence
	})
	return points, nil
}

// parseGTFSTimeSeconds parses "HH:MM:SS" into seconds since midnight,
// allowing HH > 23 for trips that run past midnight. Any deviation from
// that format is rejected rather than defaulted, since a silently-zeroed
// arrival/departure would corrupt the rest of that trip's schedule.
func parseGTFSTimeSeconds(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("invalid gtfs time %q", s)
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return 0, fmt.Errorf("invalid gtfs time %q", s)
		}
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	sec, errSec := strconv.Atoi(parts[2])
	if errH != nil || errM != nil || errSec != nil || m < 0 || m > 59 || sec < 0 || sec > 59 || h < 0 {
		return 0, fmt.Errorf("invalid gtfs time %q", s)
	}
	return h*3600 + m*60 + sec, nil
}
