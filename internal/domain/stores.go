package domain

import (
	"context"
	"time"
)

// RunStore captures persistence operations for run records and their
// server-side aggregates. Upsert is keyed on the natural key
// (user id, connection id, provider run id): re-ingesting a provider record
// updates in place and never duplicates.
type RunStore interface {
	UpsertRun(ctx context.Context, run Run) (Run, error)
	RunsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Run, error)
	ListRuns(ctx context.Context, userID string, offset, limit int) ([]Run, int, error)
	RecentRuns(ctx context.Context, userID string, limit int) ([]Run, error)

	OverallStats(ctx context.Context, userID string) (OverallStats, error)
	MonthlyStats(ctx context.Context, userID string, limit int) ([]MonthStats, error)
	StreakGroups(ctx context.Context, userID string) ([]StreakGroup, error)
	LongestRun(ctx context.Context, userID string) (*RunRecord, error)
	FastestPace(ctx context.Context, userID string, minDistanceKm float64) (*RunRecord, error)
	BestWeek(ctx context.Context, userID string) (*PeriodRecord, error)
}

// ConnectionStore captures persistence for users and their provider
// connections. Watermarks only move forward; connections are deactivated,
// never hard-deleted.
type ConnectionStore interface {
	ActiveConnections(ctx context.Context, provider string) ([]Connection, error)
	ConnectionByID(ctx context.Context, connectionID string) (*Connection, error)
	ConnectionForUser(ctx context.Context, userID, provider string) (*Connection, error)
	// EnsureUserWithConnection finds the connection matching the provider
	// account or creates a new user plus connection. Returns the connection
	// and whether a new user was created.
	EnsureUserWithConnection(ctx context.Context, provider, providerUserID, providerUsername, displayName string) (Connection, bool, error)
	// CommitWatermark advances the connection's watermark after a successful
	// batch and records the sync outcome for downstream publication.
	CommitWatermark(ctx context.Context, connectionID string, until time.Time, runsSynced int) error
	MarkSyncFailed(ctx context.Context, connectionID string, reason string) error
	DeactivateConnection(ctx context.Context, connectionID string) error
}
