// Package api exposes the HTTP surface of the runstreak service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/runstreak/streakd/internal/auth"
	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/stats"
	syncpkg "github.com/runstreak/streakd/internal/sync"
	"github.com/runstreak/streakd/internal/vault"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	defaultRecent    = 10
	maxRecent        = 50
)

// OAuthFlow covers the provider handshake used by the auth endpoints.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Credential, error)
}

// ProfileFetcher resolves the provider account behind an access token.
type ProfileFetcher func(ctx context.Context, accessToken string) (id, username, displayName string, err error)

// Syncer triggers a sync pass. The API wires it to the orchestrator.
type Syncer interface {
	Run(ctx context.Context, opts syncpkg.Options) (syncpkg.Result, error)
}

// Handler coordinates HTTP requests with the engine and stores.
type Handler struct {
	runs        domain.RunStore
	connections domain.ConnectionStore
	engine      *stats.Engine
	vault       *vault.Vault
	oauth       OAuthFlow
	profile     ProfileFetcher
	syncer      Syncer
	logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(runs domain.RunStore, connections domain.ConnectionStore, engine *stats.Engine, v *vault.Vault, oauth OAuthFlow, profile ProfileFetcher, syncer Syncer, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handler{
		runs:        runs,
		connections: connections,
		engine:      engine,
		vault:       v,
		oauth:       oauth,
		profile:     profile,
		syncer:      syncer,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/stats/overall", h.statsOverall)
	mux.HandleFunc("GET /v1/stats/monthly", h.statsMonthly)
	mux.HandleFunc("GET /v1/stats/streaks", h.statsStreaks)
	mux.HandleFunc("GET /v1/stats/records", h.statsRecords)
	mux.HandleFunc("GET /v1/runs", h.listRuns)
	mux.HandleFunc("GET /v1/runs/recent", h.recentRuns)
	mux.HandleFunc("POST /v1/sync", h.triggerSync)
	mux.HandleFunc("GET /v1/auth/login-url", h.loginURL)
	mux.HandleFunc("POST /v1/auth/callback", h.authCallback)
	mux.HandleFunc("/healthz", healthz)
}

// SkipAuth marks the routes that must work without a bearer token.
func SkipAuth(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/v1/auth/login-url", "/v1/auth/callback":
		return true
	}
	return false
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) statsOverall(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	overall, err := h.engine.Overall(r.Context(), claims.Subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overall)
}

func (h *Handler) statsMonthly(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	months := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
			return
		}
		months = parsed
	}

	rollups, err := h.engine.Monthly(r.Context(), claims.Subject, months)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MonthlyStatsResponse{Months: rollups})
}

func (h *Handler) statsStreaks(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	info, err := h.engine.Streaks(r.Context(), claims.Subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) statsRecords(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	records, err := h.engine.Records(r.Context(), claims.Subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		if parsed > maxPageLimit {
			parsed = maxPageLimit
		}
		limit = parsed
	}

	runs, total, err := h.runs.ListRuns(r.Context(), claims.Subject, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListRunsResponse{
		Items:  toRunViews(runs),
		Offset: offset,
		Limit:  limit,
		Total:  total,
	})
}

func (h *Handler) recentRuns(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRunsRead)
	if !ok {
		return
	}

	limit := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		if parsed > maxRecent {
			parsed = maxRecent
		}
		limit = parsed
	}

	runs, err := h.runs.RecentRuns(r.Context(), claims.Subject, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Items: toRunViews(runs), Limit: limit, Total: len(runs)})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeSyncRun)
	if !ok {
		return
	}

	var req TriggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	conn, err := h.connections.ConnectionForUser(r.Context(), claims.Subject, domain.ProviderSmashrun)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no provider connection for user")
			return
		}
		writeStoreError(w, err)
		return
	}

	opts := syncpkg.Options{
		ConnectionID: conn.ID,
		FullHistory:  req.Full,
	}
	if req.Since != nil {
		opts.Since = *req.Since
	}
	if req.Until != nil {
		opts.Until = *req.Until
	}

	result, err := h.syncer.Run(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := TriggerSyncResponse{RunsSynced: result.RunsSynced()}
	for _, c := range result.Connections {
		if c.Err != nil {
			resp.Failed = true
			resp.Error = c.Err.Error()
		}
		resp.Fetched += c.Fetched
		resp.Skipped += c.Skipped
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loginURL(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	writeJSON(w, http.StatusOK, LoginURLResponse{URL: h.oauth.AuthCodeURL(state)})
}

func (h *Handler) authCallback(w http.ResponseWriter, r *http.Request) {
	var req AuthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "code is required")
		return
	}

	cred, err := h.oauth.Exchange(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authorization code rejected")
			return
		}
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}

	providerID, username, displayName, err := h.profile(r.Context(), cred.AccessToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}

	conn, created, err := h.connections.EnsureUserWithConnection(r.Context(), domain.ProviderSmashrun, providerID, username, displayName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := h.vault.Store(r.Context(), conn, cred); err != nil {
		writeStoreError(w, err)
		return
	}

	h.logger.Printf("linked %s account %s to user %s (new=%t)", conn.Provider, username, conn.UserID, created)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, AuthCallbackResponse{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		NewUser:      created,
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

// TriggerSyncRequest is the optional payload for POST /v1/sync.
type TriggerSyncRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
	Full  bool       `json:"full,omitempty"`
}

// TriggerSyncResponse summarizes a sync pass for the caller.
type TriggerSyncResponse struct {
	RunsSynced int    `json:"runs_synced"`
	Fetched    int    `json:"fetched"`
	Skipped    int    `json:"skipped"`
	Failed     bool   `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// LoginURLResponse carries the provider authorization URL.
type LoginURLResponse struct {
	URL string `json:"url"`
}

// AuthCallbackRequest is the payload for POST /v1/auth/callback.
type AuthCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// AuthCallbackResponse reports the linked account.
type AuthCallbackResponse struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	Provider     string `json:"provider"`
	NewUser      bool   `json:"new_user"`
}

// RunView exposes one stored run.
type RunView struct {
	RunID        string    `json:"run_id"`
	Date         string    `json:"date"`
	StartTime    time.Time `json:"start_time"`
	DistanceKm   float64   `json:"distance_km"`
	DurationSec  float64   `json:"duration_sec"`
	PaceMinPerKm float64   `json:"pace_min_per_km"`
	HeartRateAvg *float64  `json:"heart_rate_avg,omitempty"`
	CadenceAvg   *float64  `json:"cadence_avg,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}

// ListRunsResponse packages a page of runs.
type ListRunsResponse struct {
	Items  []RunView `json:"items"`
	Offset int       `json:"offset,omitempty"`
	Limit  int       `json:"limit"`
	Total  int       `json:"total"`
}

// MonthlyStatsResponse wraps the rollup list.
type MonthlyStatsResponse struct {
	Months []domain.MonthStats `json:"months"`
}

func toRunViews(runs []domain.Run) []RunView {
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, RunView{
			RunID:        run.ID,
			Date:         run.StartDate.Format("2006-01-02"),
			StartTime:    run.StartTimeLocal,
			DistanceKm:   run.DistanceKm,
			DurationSec:  run.DurationSec,
			PaceMinPerKm: run.PaceMinPerKm(),
			HeartRateAvg: run.HeartRateAvg,
			CadenceAvg:   run.CadenceAvg,
			Notes:        run.Notes,
		})
	}
	return views
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
