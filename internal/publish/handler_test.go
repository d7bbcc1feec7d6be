package publish

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runstreak/streakd/internal/consumer"
	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/outbox"
	"github.com/runstreak/streakd/internal/stats"
)

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

func newTestStatusHandler(store domain.RunStore, uploader Uploader) *StatusHandler {
	engine := stats.NewEngine(store, stats.WithClock(func() time.Time { return testNow }))
	return NewStatusHandler(engine, uploader, "status.json", log.New(io.Discard, "", 0))
}

func syncCompletedMessage(t *testing.T, userID string) consumer.Message {
	t.Helper()
	payload, err := json.Marshal(outbox.SyncCompleted{
		UserID:       userID,
		ConnectionID: "conn-1",
		RunsSynced:   3,
		WatermarkAt:  testNow,
		OccurredAt:   testNow,
	})
	require.NoError(t, err)
	return consumer.Message{
		Topic:     outbox.TopicSyncEvents,
		EventType: outbox.EventTypeSyncCompleted,
		UserID:    userID,
		Payload:   payload,
	}
}

func TestHandlePublishesSnapshot(t *testing.T) {
	store := &snapshotStore{
		runs: []domain.Run{
			{
				ID:          "run-2",
				StartDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
				DistanceKm:  10,
				DurationSec: 3000,
			},
			{
				ID:          "run-1",
				StartDate:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
				DistanceKm:  5,
				DurationSec: 1500,
			},
		},
		groups: []domain.StreakGroup{
			{
				StartDate:  time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
				EndDate:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
				LengthDays: 2,
			},
		},
	}
	uploader := &recordingUploader{}
	h := newTestStatusHandler(store, uploader)

	err := h.Handle(context.Background(), syncCompletedMessage(t, "user-1"))
	require.NoError(t, err)

	require.Equal(t, 1, uploader.calls)
	require.Equal(t, "users/user-1/status.json", uploader.lastPath)

	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(uploader.lastBody, &snap))
	require.True(t, snap.RanToday)
	require.Equal(t, 2, snap.StreakDays)
	require.Equal(t, "2026-08-31", snap.StreakStarted)
	require.Equal(t, 15.0, snap.YearTotalKm)
	require.Len(t, snap.Last7Days, 2)
	require.NotNil(t, snap.LastRun)
	require.Equal(t, "2026-09-01", snap.LastRun.Date)
}

func TestHandleIgnoresOtherEventTypes(t *testing.T) {
	uploader := &recordingUploader{}
	h := newTestStatusHandler(&snapshotStore{}, uploader)

	msg := syncCompletedMessage(t, "user-1")
	msg.EventType = outbox.EventTypeConnectionLinked

	require.NoError(t, h.Handle(context.Background(), msg))
	require.Equal(t, 0, uploader.calls)
}

func TestHandleRejectsMissingUserID(t *testing.T) {
	uploader := &recordingUploader{}
	h := newTestStatusHandler(&snapshotStore{}, uploader)

	err := h.Handle(context.Background(), syncCompletedMessage(t, ""))
	require.Error(t, err)
	require.Equal(t, 0, uploader.calls)
}

func TestHandlePropagatesUploadFailure(t *testing.T) {
	uploader := &recordingUploader{err: io.ErrClosedPipe}
	h := newTestStatusHandler(&snapshotStore{}, uploader)

	err := h.Handle(context.Background(), syncCompletedMessage(t, "user-1"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

type recordingUploader struct {
	err      error
	calls    int
	lastPath string
	lastBody []byte
}

func (u *recordingUploader) Upload(_ context.Context, objectPath string, body []byte) error {
	u.calls++
	u.lastPath = objectPath
	u.lastBody = append([]byte(nil), body...)
	return u.err
}

type snapshotStore struct {
	runs   []domain.Run
	groups []domain.StreakGroup
}

func (s *snapshotStore) UpsertRun(_ context.Context, run domain.Run) (domain.Run, error) {
	return run, nil
}

func (s *snapshotStore) RunsByDateRange(context.Context, string, time.Time, time.Time) ([]domain.Run, error) {
	return s.runs, nil
}

func (s *snapshotStore) ListRuns(context.Context, string, int, int) ([]domain.Run, int, error) {
	return s.runs, len(s.runs), nil
}

func (s *snapshotStore) RecentRuns(context.Context, string, int) ([]domain.Run, error) {
	return s.runs, nil
}

func (s *snapshotStore) OverallStats(context.Context, string) (domain.OverallStats, error) {
	return domain.OverallStats{}, nil
}

func (s *snapshotStore) MonthlyStats(context.Context, string, int) ([]domain.MonthStats, error) {
	return nil, nil
}

func (s *snapshotStore) StreakGroups(context.Context, string) ([]domain.StreakGroup, error) {
	return s.groups, nil
}

func (s *snapshotStore) LongestRun(context.Context, string) (*domain.RunRecord, error) {
	return nil, nil
}

func (s *snapshotStore) FastestPace(context.Context, string, float64) (*domain.RunRecord, error) {
	return nil, nil
}

func (s *snapshotStore) BestWeek(context.Context, string) (*domain.PeriodRecord, error) {
	return nil, nil
}
