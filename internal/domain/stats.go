package domain

import "time"

// OverallStats summarizes a user's full running history. Zero-valued for an
// empty dataset, never an error.
type OverallStats struct {
	TotalRuns       int     `json:"total_runs"`
	TotalKm         float64 `json:"total_km"`
	AvgKm           float64 `json:"avg_km"`
	LongestRunKm    float64 `json:"longest_run_km"`
	AvgPaceMinPerKm float64 `json:"avg_pace_min_per_km"`
}

// MonthStats is one (year, month) rollup.
type MonthStats struct {
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	RunCount        int     `json:"run_count"`
	TotalKm         float64 `json:"total_km"`
	AvgKm           float64 `json:"avg_km"`
	AvgPaceMinPerKm float64 `json:"avg_pace_min_per_km"`
}

// StreakGroup is one maximal run of consecutive calendar days that each
// contain at least one activity.
type StreakGroup struct {
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	LengthDays int       `json:"length_days"`
	IsCurrent  bool      `json:"is_current"`
}

// StreakInfo is the full streak report for a user.
type StreakInfo struct {
	CurrentStreak    int           `json:"current_streak"`
	CurrentStartDate *time.Time    `json:"current_start_date,omitempty"`
	LongestStreak    int           `json:"longest_streak"`
	TopStreaks       []StreakGroup `json:"top_streaks"`
}

// RunRecord points at a single best-effort run.
type RunRecord struct {
	Date          time.Time `json:"date"`
	DistanceKm    float64   `json:"distance_km"`
	PaceMinPerKm  float64   `json:"pace_min_per_km"`
	ProviderRunID string    `json:"activity_id"`
}

// PeriodRecord is the best week or month by total distance.
type PeriodRecord struct {
	PeriodStart time.Time `json:"period_start"`
	RunCount    int       `json:"run_count"`
	TotalKm     float64   `json:"total_km"`
}

// Records collects a user's personal bests. Pointer fields are nil when the
// dataset cannot produce the record (for example no run at the fastest-pace
// minimum distance).
type Records struct {
	LongestRun  *RunRecord    `json:"longest_run,omitempty"`
	FastestPace *RunRecord    `json:"fastest_pace,omitempty"`
	BestWeek    *PeriodRecord `json:"best_week,omitempty"`
	BestMonth   *PeriodRecord `json:"best_month,omitempty"`
}

// SnapshotRun is a compact run reference used by the status snapshot.
type SnapshotRun struct {
	Date        string  `json:"date"`
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min,omitempty"`
}

// StatusSnapshot is the derived per-user rollup published for public
// consumption. It is a cache: always reconstructible from stored runs and
// never a source of truth.
type StatusSnapshot struct {
	UpdatedAt     time.Time     `json:"updated_at"`
	RanToday      bool          `json:"ran_today"`
	StreakDays    int           `json:"streak_days"`
	StreakStarted string        `json:"streak_started,omitempty"`
	StreakTotalKm float64       `json:"streak_total_km"`
	LastRun       *SnapshotRun  `json:"last_run,omitempty"`
	Last7Days     []SnapshotRun `json:"last_7_days"`
	MonthTotalKm  float64       `json:"month_total_km"`
	YearTotalKm   float64       `json:"year_total_km"`
}
