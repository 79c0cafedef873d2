package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/phenomenon0/gameweek/pkg/fixtures"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 2.0 // requests per second
	defaultBurst     = 2
)

// Client is an HTTP JSON feed client.
//
//	GET /gameweeks/{round}            -> Gameweek
//	GET /gameweeks/current?at=...     -> Gameweek
//	GET /gameweeks/{round}/next-open  -> {"next_open_time": "..."}
//	GET /results                      -> {"scores": [Scoreline...]}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a feed client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchGameweek fetches a round's fixtures and odds.
func (c *Client) FetchGameweek(ctx context.Context, round int) (*Gameweek, error) {
	var gw Gameweek
	if err := c.get(ctx, "/gameweeks/"+strconv.Itoa(round), &gw); err != nil {
		return nil, err
	}
	if len(gw.Fixtures) == 0 {
		return nil, fmt.Errorf("gameweek %d: %w", round, ErrNotPublished)
	}
	if gw.Round == 0 {
		gw.Round = round
	}
	return &gw, nil
}

// FetchCurrentGameweek fetches the gameweek open for picks at at.
func (c *Client) FetchCurrentGameweek(ctx context.Context, at time.Time) (*Gameweek, error) {
	var gw Gameweek
	path := "/gameweeks/current?at=" + url.QueryEscape(at.UTC().Format(time.RFC3339))
	if err := c.get(ctx, path, &gw); err != nil {
		return nil, err
	}
	if gw.Round < 1 || len(gw.Fixtures) == 0 {
		return nil, fmt.Errorf("current gameweek: %w", ErrNotPublished)
	}
	return &gw, nil
}

type resultsResponse struct {
	Scores []fixtures.Scoreline `json:"scores"`
}

// FetchResults fetches finished scorelines and converts them to results.
// Rows that cannot be read are logged and skipped.
func (c *Client) FetchResults(ctx context.Context) (fixtures.Results, error) {
	var resp resultsResponse
	if err := c.get(ctx, "/results", &resp); err != nil {
		return nil, err
	}

	results, errs := fixtures.ResultsFromScores(resp.Scores)
	for _, err := range errs {
		c.logger.Warn("skipping result row", zap.Error(err))
	}
	return results, nil
}

type nextOpenResponse struct {
	NextOpenTime *time.Time `json:"next_open_time"`
}

// FetchNextOpenTime fetches when the round after round opens.
func (c *Client) FetchNextOpenTime(ctx context.Context, round int) (time.Time, error) {
	var resp nextOpenResponse
	if err := c.get(ctx, "/gameweeks/"+strconv.Itoa(round)+"/next-open", &resp); err != nil {
		return time.Time{}, err
	}
	if resp.NextOpenTime == nil || resp.NextOpenTime.IsZero() {
		return time.Time{}, fmt.Errorf("next open time after round %d: %w", round, ErrNotPublished)
	}
	return *resp.NextOpenTime, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotPublished)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
