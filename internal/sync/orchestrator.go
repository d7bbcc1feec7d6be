// Package sync drives provider ingestion: it walks active connections,
// fetches new activities, normalizes and upserts them, and commits the
// per-connection watermark.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/provider/smashrun"
)

// fullHistoryStart is the window origin for a full-history resync. No
// supported provider predates it.
var fullHistoryStart = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

// consecutive storage failures within one batch that abort the
// connection; a run of them means the database is unhealthy, not the
// data.
const storageErrorThreshold = 3

// Fetcher pulls raw activities from a provider for one authenticated
// connection.
type Fetcher interface {
	ListActivitiesSince(ctx context.Context, since, until time.Time) ([]smashrun.RawActivity, error)
}

// FetcherFactory builds a Fetcher bound to an access token. Tokens are
// per-connection, so clients are too.
type FetcherFactory func(accessToken string) Fetcher

// TokenSource yields a live access token for a connection.
type TokenSource interface {
	GetValidToken(ctx context.Context, conn domain.Connection) (string, error)
}

// Options shapes one orchestrator invocation.
type Options struct {
	// Since/Until override the watermark-derived window when non-zero.
	Since time.Time
	Until time.Time
	// FullHistory resyncs from the beginning of provider history.
	FullHistory bool
	// ConnectionID restricts the run to a single connection.
	ConnectionID string
}

// ConnectionResult is the outcome for one connection.
type ConnectionResult struct {
	ConnectionID string
	UserID       string
	Fetched      int
	RunsSynced   int
	Skipped      int
	Err          error
}

// Result aggregates one orchestrator invocation.
type Result struct {
	Connections []ConnectionResult
	Started     time.Time
	Finished    time.Time
}

// RunsSynced totals the upserted runs across connections.
func (r Result) RunsSynced() int {
	total := 0
	for _, c := range r.Connections {
		total += c.RunsSynced
	}
	return total
}

// Failed totals the connections that ended in error.
func (r Result) Failed() int {
	failed := 0
	for _, c := range r.Connections {
		if c.Err != nil {
			failed++
		}
	}
	return failed
}

// Orchestrator coordinates sync passes across connections.
type Orchestrator struct {
	connections domain.ConnectionStore
	runs        domain.RunStore
	tokens      TokenSource
	fetchers    FetcherFactory

	lookback   time.Duration
	workers    int
	maxRetries int
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	logger     *log.Logger
}

// Config carries the orchestrator's tunables.
type Config struct {
	Lookback   time.Duration
	Workers    int
	MaxRetries int
}

// OrchestratorOption configures optional behaviour.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper overrides backoff sleeping, used by tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(connections domain.ConnectionStore, runs domain.RunStore, tokens TokenSource, fetchers FetcherFactory, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		connections: connections,
		runs:        runs,
		tokens:      tokens,
		fetchers:    fetchers,
		lookback:    cfg.Lookback,
		workers:     cfg.Workers,
		maxRetries:  cfg.MaxRetries,
		now:         time.Now,
		sleep:       sleepCtx,
		logger:      log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
	if o.lookback <= 0 {
		o.lookback = 30 * 24 * time.Hour
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	if o.maxRetries <= 0 {
		o.maxRetries = 3
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one sync pass. A failing connection is recorded and the
// pass moves on; only selecting the connections can fail the whole run.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Result, error) {
	result := Result{Started: o.now().UTC()}

	conns, err := o.selectConnections(ctx, opts)
	if err != nil {
		return result, err
	}

	results := make([]ConnectionResult, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i, conn := range conns {
		// stop launching once the invocation is cancelled; connections
		// already in flight finish on their own
		if gctx.Err() != nil {
			results[i] = ConnectionResult{ConnectionID: conn.ID, UserID: conn.UserID, Err: gctx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = o.syncConnection(gctx, conn, opts)
			return nil
		})
	}
	g.Wait()

	result.Connections = results
	result.Finished = o.now().UTC()
	syncRuns.Add(float64(result.RunsSynced()))
	lastPassGauge.Set(float64(result.Finished.Unix()))
	o.logger.Printf("sync pass complete: %d connections, %d runs synced, %d failed",
		len(results), result.RunsSynced(), result.Failed())
	return result, nil
}

func (o *Orchestrator) selectConnections(ctx context.Context, opts Options) ([]domain.Connection, error) {
	if opts.ConnectionID != "" {
		conn, err := o.connections.ConnectionByID(ctx, opts.ConnectionID)
		if err != nil {
			return nil, err
		}
		if !conn.IsActive {
			return nil, fmt.Errorf("%w: connection %s is inactive", domain.ErrValidation, conn.ID)
		}
		return []domain.Connection{*conn}, nil
	}
	return o.connections.ActiveConnections(ctx, domain.ProviderSmashrun)
}

func (o *Orchestrator) syncConnection(ctx context.Context, conn domain.Connection, opts Options) ConnectionResult {
	res := ConnectionResult{ConnectionID: conn.ID, UserID: conn.UserID}

	since, until := o.window(conn, opts)

	token, err := o.tokens.GetValidToken(ctx, conn)
	if err != nil {
		res.Err = err
		o.failConnection(conn, err)
		return res
	}

	raws, err := o.fetchWithRetry(ctx, o.fetchers(token), since, until)
	if err != nil {
		res.Err = err
		o.failConnection(conn, err)
		return res
	}
	res.Fetched = len(raws)

	consecutiveStorage := 0
	for _, raw := range raws {
		run, err := smashrun.ParseRun(raw)
		if err != nil {
			res.Skipped++
			o.logger.Printf("connection %s: skipping activity %d: %v", conn.ID, raw.ActivityID, err)
			continue
		}
		run.UserID = conn.UserID
		run.ConnectionID = conn.ID

		if _, err := o.runs.UpsertRun(ctx, run); err != nil {
			res.Skipped++
			consecutiveStorage++
			o.logger.Printf("connection %s: storing activity %d: %v", conn.ID, raw.ActivityID, err)
			if consecutiveStorage >= storageErrorThreshold {
				res.Err = fmt.Errorf("%w: %d consecutive storage failures, aborting batch", domain.ErrStorage, consecutiveStorage)
				o.failConnection(conn, res.Err)
				return res
			}
			continue
		}
		consecutiveStorage = 0
		res.RunsSynced++
	}

	if err := o.connections.CommitWatermark(ctx, conn.ID, until, res.RunsSynced); err != nil {
		res.Err = err
		return res
	}
	return res
}

// window derives the fetch window. The default since is the watermark,
// falling back to the lookback for fresh connections; the override
// options win when set.
func (o *Orchestrator) window(conn domain.Connection, opts Options) (time.Time, time.Time) {
	now := o.now().UTC()
	until := domain.DateOf(now)
	since := until.Add(-o.lookback)

	if conn.LastSyncAt != nil {
		since = *conn.LastSyncAt
	}
	if opts.FullHistory {
		since = fullHistoryStart
	}
	if !opts.Since.IsZero() {
		since = opts.Since
	}
	if !opts.Until.IsZero() {
		until = opts.Until
	}
	return since, until
}

// fetchWithRetry retries transient provider failures with doubling
// backoff. Auth and validation failures are not retried.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, fetcher Fetcher, since, until time.Time) ([]smashrun.RawActivity, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		raws, err := fetcher.ListActivitiesSince(ctx, since, until)
		if err == nil {
			return raws, nil
		}
		if !errors.Is(err, domain.ErrTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", o.maxRetries, lastErr)
}

func (o *Orchestrator) failConnection(conn domain.Connection, cause error) {
	// best effort with a fresh context: the sync context may already be
	// cancelled and the failure should still be recorded
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.connections.MarkSyncFailed(ctx, conn.ID, cause.Error()); err != nil {
		o.logger.Printf("connection %s: recording sync failure: %v", conn.ID, err)
	}
	syncFailures.WithLabelValues(errorClass(cause)).Inc()
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "auth"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "other"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
