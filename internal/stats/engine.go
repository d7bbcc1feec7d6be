// Package stats derives aggregate views, streaks, personal records, and
// the public status snapshot from stored runs. Everything here is a pure
// read: derived output, never a source of truth.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/runstreak/streakd/internal/domain"
)

// minimum distance for the fastest-pace record, so a 400m sprint cannot
// claim it.
const fastestPaceMinKm = 5.0

// Monthly rollup window bounds.
const (
	DefaultMonths = 12
	MaxMonths     = 60
)

// Engine computes analytics over a RunStore.
type Engine struct {
	store domain.RunStore
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an Engine.
func NewEngine(store domain.RunStore, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Overall returns lifetime aggregates for a user.
func (e *Engine) Overall(ctx context.Context, userID string) (domain.OverallStats, error) {
	return e.store.OverallStats(ctx, userID)
}

// Monthly returns per-month rollups, most recent first. A non-positive
// months value falls back to the default window; the cap bounds the
// query regardless of what the caller asks for.
func (e *Engine) Monthly(ctx context.Context, userID string, months int) ([]domain.MonthStats, error) {
	if months <= 0 {
		months = DefaultMonths
	}
	if months > MaxMonths {
		months = MaxMonths
	}
	return e.store.MonthlyStats(ctx, userID, months)
}

// Streaks computes the user's streak report. A streak is a maximal run
// of consecutive calendar days each containing at least one run. The
// current streak is the group ending today or yesterday: a runner who
// has not yet run today keeps their streak alive until midnight.
func (e *Engine) Streaks(ctx context.Context, userID string) (domain.StreakInfo, error) {
	groups, err := e.store.StreakGroups(ctx, userID)
	if err != nil {
		return domain.StreakInfo{}, err
	}
	return BuildStreakInfo(groups, e.now().UTC()), nil
}

// BuildStreakInfo derives the streak report from raw consecutive-day
// groups.
func BuildStreakInfo(groups []domain.StreakGroup, now time.Time) domain.StreakInfo {
	info := domain.StreakInfo{}
	if len(groups) == 0 {
		info.TopStreaks = []domain.StreakGroup{}
		return info
	}

	today := domain.DateOf(now)
	yesterday := today.AddDate(0, 0, -1)

	for i := range groups {
		g := &groups[i]
		if g.EndDate.Equal(today) || g.EndDate.Equal(yesterday) {
			g.IsCurrent = true
			info.CurrentStreak = g.LengthDays
			start := g.StartDate
			info.CurrentStartDate = &start
		}
		if g.LengthDays > info.LongestStreak {
			info.LongestStreak = g.LengthDays
		}
	}

	top := make([]domain.StreakGroup, len(groups))
	copy(top, groups)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].LengthDays != top[j].LengthDays {
			return top[i].LengthDays > top[j].LengthDays
		}
		return top[i].EndDate.After(top[j].EndDate)
	})
	if len(top) > 5 {
		top = top[:5]
	}
	info.TopStreaks = top
	return info
}

// Records composes the user's personal bests. Individual records are nil
// when the dataset cannot produce them.
func (e *Engine) Records(ctx context.Context, userID string) (domain.Records, error) {
	longest, err := e.store.LongestRun(ctx, userID)
	if err != nil {
		return domain.Records{}, err
	}
	fastest, err := e.store.FastestPace(ctx, userID, fastestPaceMinKm)
	if err != nil {
		return domain.Records{}, err
	}
	bestWeek, err := e.store.BestWeek(ctx, userID)
	if err != nil {
		return domain.Records{}, err
	}

	months, err := e.store.MonthlyStats(ctx, userID, MaxMonths)
	if err != nil {
		return domain.Records{}, err
	}
	var bestMonth *domain.PeriodRecord
	for _, m := range months {
		if bestMonth == nil || m.TotalKm > bestMonth.TotalKm {
			bestMonth = &domain.PeriodRecord{
				PeriodStart: time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC),
				RunCount:    m.RunCount,
				TotalKm:     m.TotalKm,
			}
		}
	}

	return domain.Records{
		LongestRun:  longest,
		FastestPace: fastest,
		BestWeek:    bestWeek,
		BestMonth:   bestMonth,
	}, nil
}

// Snapshot builds the public status rollup for a user. It reads the runs
// back to the start of the year, or to the start of the current streak
// when that is older, in one query and derives everything locally so the
// snapshot is internally consistent.
func (e *Engine) Snapshot(ctx context.Context, userID string) (domain.StatusSnapshot, error) {
	now := e.now().UTC()
	today := domain.DateOf(now)
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	info, err := e.Streaks(ctx, userID)
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("computing streaks: %w", err)
	}

	// a streak that started last year must contribute its full distance
	fetchStart := yearStart
	if info.CurrentStartDate != nil && info.CurrentStartDate.Before(fetchStart) {
		fetchStart = *info.CurrentStartDate
	}

	runs, err := e.store.RunsByDateRange(ctx, userID, fetchStart, today)
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("loading runs since %s: %w", fetchStart.Format("2006-01-02"), err)
	}

	snap := domain.StatusSnapshot{
		UpdatedAt:  now,
		StreakDays: info.CurrentStreak,
		Last7Days:  []domain.SnapshotRun{},
	}
	if info.CurrentStartDate != nil {
		snap.StreakStarted = info.CurrentStartDate.Format("2006-01-02")
	}

	weekCutoff := today.AddDate(0, 0, -6)
	var streakStart time.Time
	if info.CurrentStartDate != nil {
		streakStart = *info.CurrentStartDate
	}

	// runs arrive most recent first
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if r.StartDate.Equal(today) {
			snap.RanToday = true
		}
		if !r.StartDate.Before(monthStart) {
			snap.MonthTotalKm += r.DistanceKm
		}
		if !r.StartDate.Before(yearStart) {
			snap.YearTotalKm += r.DistanceKm
		}
		if info.CurrentStartDate != nil && !r.StartDate.Before(streakStart) {
			snap.StreakTotalKm += r.DistanceKm
		}
		if !r.StartDate.Before(weekCutoff) {
			snap.Last7Days = append(snap.Last7Days, snapshotRun(r))
		}
	}

	if len(runs) > 0 {
		last := snapshotRun(runs[0])
		snap.LastRun = &last
	}
	return snap, nil
}

func snapshotRun(r domain.Run) domain.SnapshotRun {
	return domain.SnapshotRun{
		Date:        r.StartDate.Format("2006-01-02"),
		DistanceKm:  r.DistanceKm,
		DurationMin: r.DurationSec / 60,
	}
}
