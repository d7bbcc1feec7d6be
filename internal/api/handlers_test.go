package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runstreak/streakd/internal/auth"
	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/stats"
	syncpkg "github.com/runstreak/streakd/internal/sync"
)

func newTestHandler(runs *stubRunStore, conns *stubConnStore, syncer Syncer) *Handler {
	engine := stats.NewEngine(runs, stats.WithClock(func() time.Time {
		return time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)
	}))
	return NewHandler(runs, conns, engine, nil, stubOAuth{}, nil, syncer, log.New(io.Discard, "", 0))
}

func authedRequest(method, target string, body io.Reader, scopes ...string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	claims := &auth.Claims{
		Subject:   "user-1",
		Scopes:    map[string]struct{}{},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestStatsOverall(t *testing.T) {
	runs := &stubRunStore{
		overall: domain.OverallStats{TotalRuns: 120, TotalKm: 840.5, AvgKm: 7.0},
	}
	h := newTestHandler(runs, &stubConnStore{}, nil)

	rr := serve(h, authedRequest(http.MethodGet, "/v1/stats/overall", nil, auth.ScopeRunsRead))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp domain.OverallStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 120, resp.TotalRuns)
	require.Equal(t, 840.5, resp.TotalKm)
}

func TestStatsOverallRequiresScope(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, nil)

	rr := serve(h, authedRequest(http.MethodGet, "/v1/stats/overall", nil, auth.ScopeSyncRun))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestStatsOverallRequiresClaims(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/overall", nil)
	rr := serve(h, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatsMonthlyRejectsBadLimit(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, nil)

	rr := serve(h, authedRequest(http.MethodGet, "/v1/stats/monthly?limit=abc", nil, auth.ScopeRunsRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListRunsPaginates(t *testing.T) {
	runs := &stubRunStore{
		page:  []domain.Run{{ID: "run-1", StartDate: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), DistanceKm: 5, DurationSec: 1500}},
		total: 37,
	}
	h := newTestHandler(runs, &stubConnStore{}, nil)

	rr := serve(h, authedRequest(http.MethodGet, "/v1/runs?offset=10&limit=5", nil, auth.ScopeRunsRead))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 37, resp.Total)
	require.Equal(t, 10, resp.Offset)
	require.Equal(t, 5, resp.Limit)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "2026-08-30", resp.Items[0].Date)
	require.Equal(t, 10, runs.lastOffset)
	require.Equal(t, 5, runs.lastLimit)
}

func TestListRunsClampsLimit(t *testing.T) {
	runs := &stubRunStore{}
	h := newTestHandler(runs, &stubConnStore{}, nil)

	rr := serve(h, authedRequest(http.MethodGet, "/v1/runs?limit=10000", nil, auth.ScopeRunsRead))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, maxPageLimit, runs.lastLimit)
}

func TestTriggerSyncRunsConnection(t *testing.T) {
	conns := &stubConnStore{
		conn: &domain.Connection{ID: "conn-1", UserID: "user-1", Provider: domain.ProviderSmashrun, IsActive: true},
	}
	syncer := &stubSyncer{
		result: syncpkg.Result{Connections: []syncpkg.ConnectionResult{
			{ConnectionID: "conn-1", RunsSynced: 12, Fetched: 14, Skipped: 2},
		}},
	}
	h := newTestHandler(&stubRunStore{}, conns, syncer)

	body := strings.NewReader(`{"full":true}`)
	rr := serve(h, authedRequest(http.MethodPost, "/v1/sync", body, auth.ScopeSyncRun))
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, "conn-1", syncer.lastOpts.ConnectionID)
	require.True(t, syncer.lastOpts.FullHistory)

	var resp TriggerSyncResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 12, resp.RunsSynced)
	require.Equal(t, 14, resp.Fetched)
	require.Equal(t, 2, resp.Skipped)
	require.False(t, resp.Failed)
}

func TestTriggerSyncWithoutConnection(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, &stubSyncer{})

	rr := serve(h, authedRequest(http.MethodPost, "/v1/sync", nil, auth.ScopeSyncRun))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoginURLIsPublic(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login-url?state=xyz", nil)
	require.True(t, SkipAuth(req))

	rr := serve(h, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp LoginURLResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp.URL, "state=xyz")
}

func TestAuthCallbackRequiresCode(t *testing.T) {
	h := newTestHandler(&stubRunStore{}, &stubConnStore{}, nil)

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/v1/auth/callback", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type stubRunStore struct {
	overall domain.OverallStats
	page    []domain.Run
	total   int

	lastOffset int
	lastLimit  int
}

func (s *stubRunStore) UpsertRun(_ context.Context, run domain.Run) (domain.Run, error) {
	return run, nil
}

func (s *stubRunStore) RunsByDateRange(context.Context, string, time.Time, time.Time) ([]domain.Run, error) {
	return nil, nil
}

func (s *stubRunStore) ListRuns(_ context.Context, _ string, offset, limit int) ([]domain.Run, int, error) {
	s.lastOffset = offset
	s.lastLimit = limit
	return s.page, s.total, nil
}

func (s *stubRunStore) RecentRuns(context.Context, string, int) ([]domain.Run, error) {
	return s.page, nil
}

func (s *stubRunStore) OverallStats(context.Context, string) (domain.OverallStats, error) {
	return s.overall, nil
}

func (s *stubRunStore) MonthlyStats(context.Context, string, int) ([]domain.MonthStats, error) {
	return nil, nil
}

func (s *stubRunStore) StreakGroups(context.Context, string) ([]domain.StreakGroup, error) {
	return nil, nil
}

func (s *stubRunStore) LongestRun(context.Context, string) (*domain.RunRecord, error) {
	return nil, nil
}

func (s *stubRunStore) FastestPace(context.Context, string, float64) (*domain.RunRecord, error) {
	return nil, nil
}

func (s *stubRunStore) BestWeek(context.Context, string) (*domain.PeriodRecord, error) {
	return nil, nil
}

type stubConnStore struct {
	conn *domain.Connection
}

func (s *stubConnStore) ActiveConnections(context.Context, string) ([]domain.Connection, error) {
	return nil, nil
}

func (s *stubConnStore) ConnectionByID(context.Context, string) (*domain.Connection, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("%w: connection", domain.ErrNotFound)
	}
	return s.conn, nil
}

func (s *stubConnStore) ConnectionForUser(context.Context, string, string) (*domain.Connection, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("%w: connection", domain.ErrNotFound)
	}
	return s.conn, nil
}

func (s *stubConnStore) EnsureUserWithConnection(context.Context, string, string, string, string) (domain.Connection, bool, error) {
	return domain.Connection{}, false, fmt.Errorf("not implemented")
}

func (s *stubConnStore) CommitWatermark(context.Context, string, time.Time, int) error {
	return nil
}

func (s *stubConnStore) MarkSyncFailed(context.Context, string, string) error {
	return nil
}

func (s *stubConnStore) DeactivateConnection(context.Context, string) error {
	return nil
}

type stubSyncer struct {
	result   syncpkg.Result
	lastOpts syncpkg.Options
}

func (s *stubSyncer) Run(_ context.Context, opts syncpkg.Options) (syncpkg.Result, error) {
	s.lastOpts = opts
	return s.result, nil
}

type stubOAuth struct{}

func (stubOAuth) AuthCodeURL(state string) string {
	return "https://secure.smashrun.com/oauth2/authenticate?state=" + state
}

func (stubOAuth) Exchange(context.Context, string) (domain.Credential, error) {
	return domain.Credential{}, fmt.Errorf("%w: exchange not wired in tests", domain.ErrAuth)
}
