package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/provider/smashrun"
)

var fixedNow = time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)

func newTestOrchestrator(conns *fakeConnStore, runs *fakeRunStore, tokens TokenSource, fetcher Fetcher) *Orchestrator {
	return NewOrchestrator(conns, runs, tokens,
		func(string) Fetcher { return fetcher },
		Config{Lookback: 30 * 24 * time.Hour, Workers: 2, MaxRetries: 3},
		WithClock(func() time.Time { return fixedNow }),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithLogger(log.New(io.Discard, "", 0)),
	)
}

func rawActivity(id int64, day string, distance float64) smashrun.RawActivity {
	return smashrun.RawActivity{
		ActivityID:         id,
		StartDateTimeLocal: day + "T06:30:00",
		Distance:           distance,
		Duration:           distance * 300,
	}
}

func TestRunFreshConnectionCommitsWatermark(t *testing.T) {
	conn := activeConnection("conn-1", nil)
	conns := newFakeConnStore(conn)
	runs := &fakeRunStore{}

	raws := make([]smashrun.RawActivity, 0, 45)
	for i := 0; i < 45; i++ {
		raws = append(raws, rawActivity(int64(i+1), "2026-08-15", 5))
	}
	fetcher := &fakeFetcher{raws: raws}

	o := newTestOrchestrator(conns, runs, staticTokens{}, fetcher)

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 45, result.RunsSynced())
	require.Zero(t, result.Failed())

	// fresh connection: window starts at the lookback, ends today
	require.Equal(t, domain.DateOf(fixedNow).AddDate(0, 0, -30), domain.DateOf(fetcher.lastSince))
	require.Equal(t, domain.DateOf(fixedNow), fetcher.lastUntil)

	commit := conns.commits["conn-1"]
	require.NotNil(t, commit)
	require.Equal(t, domain.DateOf(fixedNow), commit.until)
	require.Equal(t, 45, commit.runsSynced)
	require.Len(t, runs.upserted, 45)
	require.Equal(t, "user-conn-1", runs.upserted[0].UserID)
}

func TestRunSkipsMalformedRecordsAndStillCommits(t *testing.T) {
	conn := activeConnection("conn-1", nil)
	conns := newFakeConnStore(conn)
	runs := &fakeRunStore{}

	raws := make([]smashrun.RawActivity, 0, 10)
	for i := 0; i < 10; i++ {
		raws = append(raws, rawActivity(int64(i+1), "2026-08-20", 5))
	}
	raws[3].Distance = 0 // malformed record in the middle of the batch

	o := newTestOrchestrator(conns, runs, staticTokens{}, &fakeFetcher{raws: raws})

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 9, result.RunsSynced())
	require.Equal(t, 1, result.Connections[0].Skipped)
	require.NoError(t, result.Connections[0].Err)

	// one bad record must not hold the watermark back
	require.NotNil(t, conns.commits["conn-1"])
	require.Equal(t, 9, conns.commits["conn-1"].runsSynced)
}

func TestRunAuthFailureMarksConnectionAndContinues(t *testing.T) {
	bad := activeConnection("conn-bad", nil)
	good := activeConnection("conn-good", nil)
	conns := newFakeConnStore(bad, good)
	runs := &fakeRunStore{}

	fetcher := &fakeFetcher{raws: []smashrun.RawActivity{rawActivity(1, "2026-08-20", 5)}}
	tokens := selectiveTokens{failFor: "conn-bad"}

	o := newTestOrchestrator(conns, runs, tokens, fetcher)

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed())
	require.Equal(t, 1, result.RunsSynced())

	require.Contains(t, conns.failures, "conn-bad")
	require.Nil(t, conns.commits["conn-bad"])
	require.NotNil(t, conns.commits["conn-good"])
}

func TestRunRetriesTransientFetch(t *testing.T) {
	conn := activeConnection("conn-1", nil)
	conns := newFakeConnStore(conn)
	runs := &fakeRunStore{}

	fetcher := &fakeFetcher{
		raws:     []smashrun.RawActivity{rawActivity(1, "2026-08-20", 5)},
		failures: 2, // two transient failures, then success
	}

	o := newTestOrchestrator(conns, runs, staticTokens{}, fetcher)

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Zero(t, result.Failed())
	require.Equal(t, 1, result.RunsSynced())
	require.Equal(t, 3, fetcher.calls)
}

func TestRunExhaustedRetriesFailConnection(t *testing.T) {
	conn := activeConnection("conn-1", nil)
	conns := newFakeConnStore(conn)

	fetcher := &fakeFetcher{failures: 10}

	o := newTestOrchestrator(conns, &fakeRunStore{}, staticTokens{}, fetcher)

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed())
	require.Equal(t, 3, fetcher.calls)
	require.Nil(t, conns.commits["conn-1"])
	require.Contains(t, conns.failures, "conn-1")
}

func TestRunConsecutiveStorageErrorsAbortBatch(t *testing.T) {
	conn := activeConnection("conn-1", nil)
	conns := newFakeConnStore(conn)
	runs := &fakeRunStore{failFrom: 2} // every upsert after the second fails

	raws := make([]smashrun.RawActivity, 0, 10)
	for i := 0; i < 10; i++ {
		raws = append(raws, rawActivity(int64(i+1), "2026-08-20", 5))
	}

	o := newTestOrchestrator(conns, runs, staticTokens{}, &fakeFetcher{raws: raws})

	result, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed())
	require.ErrorIs(t, result.Connections[0].Err, domain.ErrStorage)
	require.Nil(t, conns.commits["conn-1"], "aborted batch must not advance the watermark")
}

func TestRunWatermarkWindowFromLastSync(t *testing.T) {
	last := time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC)
	conn := activeConnection("conn-1", &last)
	conns := newFakeConnStore(conn)
	fetcher := &fakeFetcher{}

	o := newTestOrchestrator(conns, &fakeRunStore{}, staticTokens{}, fetcher)

	_, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, last, fetcher.lastSince)
}

func TestRunFullHistoryOverridesWindow(t *testing.T) {
	last := time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC)
	conn := activeConnection("conn-1", &last)
	conns := newFakeConnStore(conn)
	fetcher := &fakeFetcher{}

	o := newTestOrchestrator(conns, &fakeRunStore{}, staticTokens{}, fetcher)

	_, err := o.Run(context.Background(), Options{ConnectionID: "conn-1", FullHistory: true})
	require.NoError(t, err)
	require.Equal(t, fullHistoryStart, fetcher.lastSince)
}

func activeConnection(id string, lastSync *time.Time) domain.Connection {
	return domain.Connection{
		ID:         id,
		UserID:     "user-" + id,
		Provider:   domain.ProviderSmashrun,
		SecretPath: "connections/smashrun/" + id,
		IsActive:   true,
		LastSyncAt: lastSync,
	}
}

type commitRecord struct {
	until      time.Time
	runsSynced int
}

type fakeConnStore struct {
	mu       sync.Mutex
	conns    []domain.Connection
	commits  map[string]*commitRecord
	failures map[string]string
}

func newFakeConnStore(conns ...domain.Connection) *fakeConnStore {
	return &fakeConnStore{
		conns:    conns,
		commits:  make(map[string]*commitRecord),
		failures: make(map[string]string),
	}
}

func (f *fakeConnStore) ActiveConnections(_ context.Context, provider string) ([]domain.Connection, error) {
	out := make([]domain.Connection, 0)
	for _, c := range f.conns {
		if c.Provider == provider && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConnStore) ConnectionByID(_ context.Context, id string) (*domain.Connection, error) {
	for _, c := range f.conns {
		if c.ID == id {
			conn := c
			return &conn, nil
		}
	}
	return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, id)
}

func (f *fakeConnStore) ConnectionForUser(_ context.Context, userID, provider string) (*domain.Connection, error) {
	for _, c := range f.conns {
		if c.UserID == userID && c.Provider == provider {
			conn := c
			return &conn, nil
		}
	}
	return nil, fmt.Errorf("%w: connection", domain.ErrNotFound)
}

func (f *fakeConnStore) EnsureUserWithConnection(context.Context, string, string, string, string) (domain.Connection, bool, error) {
	return domain.Connection{}, false, errors.New("not implemented")
}

func (f *fakeConnStore) CommitWatermark(_ context.Context, connectionID string, until time.Time, runsSynced int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[connectionID] = &commitRecord{until: until, runsSynced: runsSynced}
	return nil
}

func (f *fakeConnStore) MarkSyncFailed(_ context.Context, connectionID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[connectionID] = reason
	return nil
}

func (f *fakeConnStore) DeactivateConnection(_ context.Context, connectionID string) error {
	return nil
}

type fakeRunStore struct {
	mu       sync.Mutex
	upserted []domain.Run
	failFrom int // fail every upsert once this many have succeeded; 0 disables
}

func (f *fakeRunStore) UpsertRun(_ context.Context, run domain.Run) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrom > 0 && len(f.upserted) >= f.failFrom {
		return domain.Run{}, fmt.Errorf("%w: connection lost", domain.ErrStorage)
	}
	f.upserted = append(f.upserted, run)
	return run, nil
}

func (f *fakeRunStore) RunsByDateRange(context.Context, string, time.Time, time.Time) ([]domain.Run, error) {
	return nil, nil
}

func (f *fakeRunStore) ListRuns(context.Context, string, int, int) ([]domain.Run, int, error) {
	return nil, 0, nil
}

func (f *fakeRunStore) RecentRuns(context.Context, string, int) ([]domain.Run, error) {
	return nil, nil
}

func (f *fakeRunStore) OverallStats(context.Context, string) (domain.OverallStats, error) {
	return domain.OverallStats{}, nil
}

func (f *fakeRunStore) MonthlyStats(context.Context, string, int) ([]domain.MonthStats, error) {
	return nil, nil
}

func (f *fakeRunStore) StreakGroups(context.Context, string) ([]domain.StreakGroup, error) {
	return nil, nil
}

func (f *fakeRunStore) LongestRun(context.Context, string) (*domain.RunRecord, error) {
	return nil, nil
}

func (f *fakeRunStore) FastestPace(context.Context, string, float64) (*domain.RunRecord, error) {
	return nil, nil
}

func (f *fakeRunStore) BestWeek(context.Context, string) (*domain.PeriodRecord, error) {
	return nil, nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	raws      []smashrun.RawActivity
	failures  int
	calls     int
	lastSince time.Time
	lastUntil time.Time
}

func (f *fakeFetcher) ListActivitiesSince(_ context.Context, since, until time.Time) ([]smashrun.RawActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSince = since
	f.lastUntil = until
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("%w: 502 from provider", domain.ErrTransient)
	}
	return f.raws, nil
}

type staticTokens struct{}

func (staticTokens) GetValidToken(context.Context, domain.Connection) (string, error) {
	return "token", nil
}

type selectiveTokens struct {
	failFor string
}

func (s selectiveTokens) GetValidToken(_ context.Context, conn domain.Connection) (string, error) {
	if conn.ID == s.failFor {
		return "", fmt.Errorf("%w: refresh token revoked", domain.ErrAuth)
	}
	return "token", nil
}
