// Package smashrun implements the Smashrun API client: paginated activity
// fetching, profile lookup, raw-record parsing, and the OAuth2 flow.
package smashrun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/runstreak/streakd/internal/domain"
)

const (
	defaultBaseURL = "https://api.smashrun.com/v1"

	// MaxPageSize is the documented Smashrun page-size ceiling.
	MaxPageSize = 100

	// RateLimitPerHour is the advertised request budget. Callers treat 429
	// responses as transient and back off rather than failing the sync.
	RateLimitPerHour = 250
)

// Client fetches activities for one access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the logger used for fetch progress.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient constructs a Client bound to the given access token.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      accessToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.New(log.Writer(), "[smashrun] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities fetches one page of activities. The provider's fromDate
// parameter filters by record sync time, not activity time, so date-window
// correctness is enforced here: records whose local start date falls
// outside [since, until] are discarded after the fetch. Nil bounds are
// open-ended. pageSize is clamped to MaxPageSize.
func (c *Client) ListActivities(ctx context.Context, page, pageSize int, since, until *time.Time) ([]RawActivity, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("count", strconv.Itoa(pageSize))

	var raw []RawActivity
	if err := c.getJSON(ctx, "/my/activities/search?"+params.Encode(), &raw); err != nil {
		return nil, err
	}

	if since == nil && until == nil {
		return raw, nil
	}

	filtered := raw[:0]
	for _, act := range raw {
		day, err := activityDate(act)
		if err != nil {
			// Unparsable timestamps are kept; the parser rejects them
			// per-record later so the whole page is not lost.
			filtered = append(filtered, act)
			continue
		}
		if since != nil && day.Before(domain.DateOf(*since)) {
			continue
		}
		if until != nil && day.After(domain.DateOf(*until)) {
			continue
		}
		filtered = append(filtered, act)
	}
	return filtered, nil
}

// ListActivitiesSince pages through the full history from since to until,
// concatenating results. Pagination terminates when a page returns fewer
// records than requested; multi-year histories can run to thousands of
// records, so no upper bound is assumed.
func (c *Client) ListActivitiesSince(ctx context.Context, since, until time.Time) ([]RawActivity, error) {
	var all []RawActivity
	for page := 0; ; page++ {
		batch, err := c.ListActivities(ctx, page, MaxPageSize, &since, &until)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < MaxPageSize {
			break
		}
	}
	c.logger.Printf("fetched %d activities since %s", len(all), since.Format("2006-01-02"))
	return all, nil
}

// Activity fetches a single activity by its provider id.
func (c *Client) Activity(ctx context.Context, activityID int64) (RawActivity, error) {
	var raw RawActivity
	err := c.getJSON(ctx, fmt.Sprintf("/my/activities/%d", activityID), &raw)
	return raw, err
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	err := c.getJSON(ctx, "/my/userinfo", &profile)
	return profile, err
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func statusError(code int, path string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: provider returned %d for %s", domain.ErrAuth, code, path)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: provider returned %d for %s", domain.ErrTransient, code, path)
	default:
		return fmt.Errorf("provider returned %d for %s", code, path)
	}
}

// Local start timestamps arrive either with a zone offset or bare.
var startTimeLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05",
}

func parseStartTime(value string) (time.Time, error) {
	for _, layout := range startTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized start time %q", value)
}

func activityDate(raw RawActivity) (time.Time, error) {
	ts, err := parseStartTime(raw.StartDateTimeLocal)
	if err != nil {
		return time.Time{}, err
	}
	return domain.DateOf(ts), nil
}
