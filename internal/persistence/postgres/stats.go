package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/runstreak/streakd/internal/domain"
)

// OverallStats aggregates a user's full run history in a single query.
// A user with no runs gets the zero value rather than an error.
func (s *Store) OverallStats(ctx context.Context, userID string) (domain.OverallStats, error) {
	const query = `SELECT
            COUNT(*)::int,
            COALESCE(SUM(distance_km), 0),
            COALESCE(AVG(distance_km), 0),
            COALESCE(MAX(distance_km), 0),
            COALESCE(AVG(duration_seconds / 60.0 / distance_km), 0)
        FROM runs WHERE user_id = $1`

	var stats domain.OverallStats
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalRuns,
		&stats.TotalKm,
		&stats.AvgKm,
		&stats.LongestRunKm,
		&stats.AvgPaceMinPerKm,
	)
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("%w: aggregating overall stats: %v", domain.ErrStorage, err)
	}
	return stats, nil
}

// MonthlyStats returns per-calendar-month rollups, most recent month
// first, limited to the given number of months.
func (s *Store) MonthlyStats(ctx context.Context, userID string, limit int) ([]domain.MonthStats, error) {
	const query = `SELECT
            EXTRACT(YEAR FROM start_date)::int AS year,
            EXTRACT(MONTH FROM start_date)::int AS month,
            COUNT(*)::int,
            SUM(distance_km),
            AVG(distance_km),
            AVG(duration_seconds / 60.0 / distance_km)
        FROM runs
        WHERE user_id = $1
        GROUP BY year, month
        ORDER BY year DESC, month DESC
        LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying monthly stats: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]domain.MonthStats, 0, limit)
	for rows.Next() {
		var m domain.MonthStats
		if err := rows.Scan(&m.Year, &m.Month, &m.RunCount, &m.TotalKm, &m.AvgKm, &m.AvgPaceMinPerKm); err != nil {
			return nil, fmt.Errorf("%w: scanning month row: %v", domain.ErrStorage, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading monthly stats: %v", domain.ErrStorage, err)
	}
	return out, nil
}

// StreakGroups collapses the user's distinct run days into maximal
// consecutive-day islands using the classic gaps-and-islands grouping:
// consecutive dates share the same (day - row_number) anchor.
func (s *Store) StreakGroups(ctx context.Context, userID string) ([]domain.StreakGroup, error) {
	const query = `WITH days AS (
            SELECT DISTINCT start_date AS day
            FROM runs
            WHERE user_id = $1
        ),
        grouped AS (
            SELECT day, day - (ROW_NUMBER() OVER (ORDER BY day))::int AS grp
            FROM days
        )
        SELECT MIN(day), MAX(day), COUNT(*)::int
        FROM grouped
        GROUP BY grp
        ORDER BY MIN(day)`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying streak groups: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	groups := make([]domain.StreakGroup, 0)
	for rows.Next() {
		var g domain.StreakGroup
		if err := rows.Scan(&g.StartDate, &g.EndDate, &g.LengthDays); err != nil {
			return nil, fmt.Errorf("%w: scanning streak group: %v", domain.ErrStorage, err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading streak groups: %v", domain.ErrStorage, err)
	}
	return groups, nil
}

// LongestRun returns the user's single longest run by distance.
func (s *Store) LongestRun(ctx context.Context, userID string) (*domain.RunRecord, error) {
	const query = `SELECT start_date, distance_km, duration_seconds / 60.0 / distance_km, provider_run_id
        FROM runs
        WHERE user_id = $1
        ORDER BY distance_km DESC, start_time_local ASC
        LIMIT 1`

	return s.queryRecord(ctx, query, userID)
}

// FastestPace returns the fastest-paced run at or above the distance
// floor. Short sprints are excluded so the record reflects sustained
// pace.
func (s *Store) FastestPace(ctx context.Context, userID string, minDistanceKm float64) (*domain.RunRecord, error) {
	const query = `SELECT start_date, distance_km, duration_seconds / 60.0 / distance_km, provider_run_id
        FROM runs
        WHERE user_id = $1 AND distance_km >= $2
        ORDER BY duration_seconds / 60.0 / distance_km ASC, start_time_local ASC
        LIMIT 1`

	return s.queryRecord(ctx, query, userID, minDistanceKm)
}

// BestWeek returns the ISO week with the highest total distance.
func (s *Store) BestWeek(ctx context.Context, userID string) (*domain.PeriodRecord, error) {
	const query = `SELECT date_trunc('week', start_date)::date, COUNT(*)::int, SUM(distance_km)
        FROM runs
        WHERE user_id = $1
        GROUP BY 1
        ORDER BY SUM(distance_km) DESC
        LIMIT 1`

	var rec domain.PeriodRecord
	err := s.pool.QueryRow(ctx, query, userID).Scan(&rec.PeriodStart, &rec.RunCount, &rec.TotalKm)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying best week: %v", domain.ErrStorage, err)
	}
	return &rec, nil
}

func (s *Store) queryRecord(ctx context.Context, query string, args ...any) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	err := s.pool.QueryRow(ctx, query, args...).Scan(&rec.Date, &rec.DistanceKm, &rec.PaceMinPerKm, &rec.ProviderRunID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying run record: %v", domain.ErrStorage, err)
	}
	return &rec, nil
}
