// Package postgres provides pgx-backed persistence for runs, users,
// connections, credentials, and the event outbox.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runstreak/streakd/internal/domain"
)

// Store implements domain.RunStore and domain.ConnectionStore over a pgx
// connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const runColumns = `run_id, user_id, connection_id, provider_run_id, start_time_local, start_date,
        distance_km, duration_seconds, cadence_avg, cadence_min, cadence_max,
        heart_rate_avg, heart_rate_min, heart_rate_max, temperature_c, weather_type, terrain,
        humidity_pct, wind_speed_kph, notes, external_id, created_at, updated_at`

// UpsertRun inserts or updates a run keyed on the natural key
// (user_id, connection_id, provider_run_id) in a single atomic statement.
// Re-ingesting an unchanged provider record is a no-op apart from
// updated_at.
func (s *Store) UpsertRun(ctx context.Context, run domain.Run) (domain.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	const stmt = `INSERT INTO runs (run_id, user_id, connection_id, provider_run_id, start_time_local, start_date,
            distance_km, duration_seconds, cadence_avg, cadence_min, cadence_max,
            heart_rate_avg, heart_rate_min, heart_rate_max, temperature_c, weather_type, terrain,
            humidity_pct, wind_speed_kph, notes, external_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
        ON CONFLICT (user_id, connection_id, provider_run_id) DO UPDATE SET
            start_time_local = EXCLUDED.start_time_local,
            start_date = EXCLUDED.start_date,
            distance_km = EXCLUDED.distance_km,
            duration_seconds = EXCLUDED.duration_seconds,
            cadence_avg = EXCLUDED.cadence_avg,
            cadence_min = EXCLUDED.cadence_min,
            cadence_max = EXCLUDED.cadence_max,
            heart_rate_avg = EXCLUDED.heart_rate_avg,
            heart_rate_min = EXCLUDED.heart_rate_min,
            heart_rate_max = EXCLUDED.heart_rate_max,
            temperature_c = EXCLUDED.temperature_c,
            weather_type = EXCLUDED.weather_type,
            terrain = EXCLUDED.terrain,
            humidity_pct = EXCLUDED.humidity_pct,
            wind_speed_kph = EXCLUDED.wind_speed_kph,
            notes = EXCLUDED.notes,
            external_id = EXCLUDED.external_id,
            updated_at = NOW()
        RETURNING ` + runColumns

	row := s.pool.QueryRow(ctx, stmt,
		run.ID,
		run.UserID,
		run.ConnectionID,
		run.ProviderRunID,
		run.StartTimeLocal,
		run.StartDate,
		run.DistanceKm,
		run.DurationSec,
		run.CadenceAvg,
		run.CadenceMin,
		run.CadenceMax,
		run.HeartRateAvg,
		run.HeartRateMin,
		run.HeartRateMax,
		run.TemperatureC,
		run.WeatherType,
		run.Terrain,
		run.HumidityPct,
		run.WindSpeedKph,
		run.Notes,
		run.ExternalID,
	)

	stored, err := scanRun(row)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: upserting run %s: %v", domain.ErrStorage, run.ProviderRunID, err)
	}
	runsUpserted.Inc()
	return stored, nil
}

// RunsByDateRange returns runs whose local start date falls within
// [start, end], most recent first.
func (s *Store) RunsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]domain.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM runs
        WHERE user_id = $1 AND start_date >= $2 AND start_date <= $3
        ORDER BY start_time_local DESC`

	rows, err := s.pool.Query(ctx, query, userID, domain.DateOf(start), domain.DateOf(end))
	if err != nil {
		return nil, fmt.Errorf("%w: querying run range: %v", domain.ErrStorage, err)
	}
	return collectRuns(rows)
}

// ListRuns returns one page of a user's full run history plus the total
// count for pagination.
func (s *Store) ListRuns(ctx context.Context, userID string, offset, limit int) ([]domain.Run, int, error) {
	const query = `SELECT ` + runColumns + ` FROM runs
        WHERE user_id = $1
        ORDER BY start_time_local DESC, run_id DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listing runs: %v", domain.ErrStorage, err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM runs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: counting runs: %v", domain.ErrStorage, err)
	}
	return runs, total, nil
}

// RecentRuns returns the most recent runs for a user.
func (s *Store) RecentRuns(ctx context.Context, userID string, limit int) ([]domain.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM runs
        WHERE user_id = $1
        ORDER BY start_time_local DESC, run_id DESC
        LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recent runs: %v", domain.ErrStorage, err)
	}
	return collectRuns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.ConnectionID,
		&run.ProviderRunID,
		&run.StartTimeLocal,
		&run.StartDate,
		&run.DistanceKm,
		&run.DurationSec,
		&run.CadenceAvg,
		&run.CadenceMin,
		&run.CadenceMax,
		&run.HeartRateAvg,
		&run.HeartRateMin,
		&run.HeartRateMax,
		&run.TemperatureC,
		&run.WeatherType,
		&run.Terrain,
		&run.HumidityPct,
		&run.WindSpeedKph,
		&run.Notes,
		&run.ExternalID,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning run: %v", domain.ErrStorage, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading runs: %v", domain.ErrStorage, err)
	}
	return runs, nil
}
