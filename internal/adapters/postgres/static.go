package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/ports"
)

// StaticStore implements ports.StaticStore with pgx, collapsed into a
// single repo since every static table is replaced together, in one
// transaction, per agency.
type StaticStore struct {
	db *DB
}

func NewStaticStore(db *DB) *StaticStore {
	return &StaticStore{db: db}
}

func (s *StaticStore) GetAgencyBySlug(ctx context.Context, slug string) (*domain.Agency, error) {
	a := &domain.Agency{}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, slug, name, timezone, created_at
		FROM agencies WHERE slug = $1
	`, slug).Scan(&a.ID, &a.Slug, &a.Name, &a.Timezone, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *StaticStore) UpsertAgency(ctx context.Context, agency domain.Agency) (string, error) {
	var id string
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO agencies (slug, name, timezone)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, agency.Slug, agency.Name, agency.Timezone).Scan(&id)
	return id, err
}

func (s *StaticStore) GetMeta(ctx context.Context, agencyID string) (*domain.AgencyMeta, error) {
	m := &domain.AgencyMeta{}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT agency_id, current_hash, updated_at FROM gtfs_meta WHERE agency_id = $1
	`, agencyID).Scan(&m.AgencyID, &m.CurrentHash, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *StaticStore) SetMeta(ctx context.Context, meta domain.AgencyMeta) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO gtfs_meta (agency_id, current_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agency_id) DO UPDATE
		SET current_hash = EXCLUDED.current_hash, updated_at = EXCLUDED.updated_at
	`, meta.AgencyID, meta.CurrentHash, meta.UpdatedAt)
	return err
}

// ReplaceAgencyData deletes and reloads every static table for one agency
// inside a single transaction. A failure rolls back the whole agency and
// leaves its gtfs_meta hash untouched, so the next cycle retries from
// scratch.
func (s *StaticStore) ReplaceAgencyData(ctx context.Context, agencyID string, data ports.StaticAgencyData) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"stop_times", "trips", "routes", "stops", "shapes"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE agency_id = $1`, table), agencyID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	if err := copyRoutes(ctx, tx, agencyID, data.Routes); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := copyStops(ctx, tx, agencyID, data.Stops); err != nil {
		return fmt.Errorf("stops: %w", err)
	}
	if err := copyTrips(ctx, tx, agencyID, data.Trips); err != nil {
		return fmt.Errorf("trips: %w", err)
	}
	if err := copyStopTimes(ctx, tx, agencyID, data.StopTimes); err != nil {
		return fmt.Errorf("stop_times: %w", err)
	}
	if err := copyShapes(ctx, tx, agencyID, data.Shapes); err != nil {
		return fmt.Errorf("shapes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func copyRoutes(ctx context.Context, tx pgx.Tx, agencyID string, routes []domain.Route) error {
	if len(routes) == 0 {
		return nil
	}
	rows := make([][]any, len(routes))
	for i, r := range routes {
		rows[i] = []any{agencyID, r.RouteID, r.LineNumber}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"routes"},
		[]string{"agency_id", "route_id", "line_number"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func copyStops(ctx context.Context, tx pgx.Tx, agencyID string, stops []domain.Stop) error {
	if len(stops) == 0 {
		return nil
	}
	rows := make([][]any, len(stops))
	for i, st := range stops {
		rows[i] = []any{agencyID, st.StopID, st.Name, nilEmpty(st.Code), nilEmpty(st.Desc), st.Lat, st.Lon}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"stops"},
		[]string{"agency_id", "stop_id", "name", "code", "desc", "lat", "lon"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func copyTrips(ctx context.Context, tx pgx.Tx, agencyID string, trips []domain.Trip) error {
	if len(trips) == 0 {
		return nil
	}
	rows := make([][]any, len(trips))
	for i, t := range trips {
		rows[i] = []any{agencyID, t.TripID, t.RouteID, t.ServiceID, t.Direction, nilEmpty(t.Headsign), nilEmpty(t.ShapeID)}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"trips"},
		[]string{"agency_id", "trip_id", "route_id", "service_id", "direction", "headsign", "shape_id"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func copyStopTimes(ctx context.Context, tx pgx.Tx, agencyID string, stopTimes []domain.StopTime) error {
	if len(stopTimes) == 0 {
		return nil
	}
	rows := make([][]any, len(stopTimes))
	for i, st := range stopTimes {
		rows[i] = []any{agencyID, st.TripID, st.StopSequence, st.StopID, st.ArrivalSeconds, st.DepartureSeconds}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"stop_times"},
		[]string{"agency_id", "trip_id", "stop_sequence", "stop_id", "arrival_seconds", "departure_seconds"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func copyShapes(ctx context.Context, tx pgx.Tx, agencyID string, shapes []domain.ShapePoint) error {
	if len(shapes) == 0 {
		return nil
	}
	rows := make([][]any, len(shapes))
	for i, sp := range shapes {
		rows[i] = []any{agencyID, sp.ShapeID, sp.Sequence, sp.Lat, sp.Lon}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"shapes"},
		[]string{"agency_id", "shape_id", "sequence", "lat", "lon"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (s *StaticStore) GetTripStopSequences(ctx context.Context, agencyID, tripID string) (map[string]int, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT stop_id, stop_sequence FROM stop_times
		WHERE agency_id = $1 AND trip_id = $2
	`, agencyID, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seqs := make(map[string]int)
	for rows.Next() {
		var stopID string
		var seq int
		if err := rows.Scan(&stopID, &seq); err != nil {
			return nil, err
		}
		seqs[stopID] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no stop_times for trip %s", tripID)
	}
	return seqs, nil
}

func (s *StaticStore) GetTrip(ctx context.Context, agencyID, tripID string) (*domain.Trip, error) {
	t := &domain.Trip{}
	var headsign, shapeID string
	err := s.db.Pool.QueryRow(ctx, `
		SELECT trip_id, route_id, service_id, direction, COALESCE(headsign, ''), COALESCE(shape_id, '')
		FROM trips WHERE agency_id = $1 AND trip_id = $2
	`, agencyID, tripID).Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.Direction, &headsign, &shapeID)
	if err != nil {
		return nil, err
	}
	t.Headsign = headsign
	t.ShapeID = shapeID
	return t, nil
}

func (s *StaticStore) GetStopTime(ctx context.Context, agencyID, tripID string, stopSequence int) (*domain.StopTime, error) {
	st := &domain.StopTime{}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT trip_id, stop_sequence, stop_id, arrival_seconds, departure_seconds
		FROM stop_times WHERE agency_id = $1 AND trip_id = $2 AND stop_sequence = $3
	`, agencyID, tripID, stopSequence).Scan(&st.TripID, &st.StopSequence, &st.StopID, &st.ArrivalSeconds, &st.DepartureSeconds)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *StaticStore) GetMaxStopSequence(ctx context.Context, agencyID, tripID string) (int, error) {
	var max int
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(stop_sequence), 0) FROM stop_times
		WHERE agency_id = $1 AND trip_id = $2
	`, agencyID, tripID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if max == 0 {
		return 0, fmt.Errorf("no stop_times for trip %s", tripID)
	}
	return max, nil
}

func (s *StaticStore) GetStop(ctx context.Context, agencyID, stopID string) (*domain.Stop, error) {
	st := &domain.Stop{}
	var code, desc string
	err := s.db.Pool.QueryRow(ctx, `
		SELECT stop_id, name, COALESCE(code, ''), COALESCE(desc, ''), lat, lon
		FROM stops WHERE agency_id = $1 AND stop_id = $2
	`, agencyID, stopID).Scan(&st.StopID, &st.Name, &code, &desc, &st.Lat, &st.Lon)
	if err != nil {
		return nil, err
	}
	st.Code = code
	st.Desc = desc
	return st, nil
}

func (s *StaticStore) GetRoute(ctx context.Context, agencyID, routeID string) (*domain.Route, error) {
	r := &domain.Route{}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT route_id, line_number FROM routes WHERE agency_id = $1 AND route_id = $2
	`, agencyID, routeID).Scan(&r.RouteID, &r.LineNumber)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func nilEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
