// Package client provides the retrying Jira search client with rate
// limiting, caching, and error handling.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akshat657/jira-harvest/pkg/cache"
	"github.com/akshat657/jira-harvest/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_requests_total",
		Help: "Total Jira requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_request_duration_seconds",
		Help:    "Jira request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_errors_total",
		Help: "Total Jira request errors by class",
	}, []string{"class"})
)

const (
	searchPath = "/rest/api/2/search"
	issuePath  = "/rest/api/2/issue/"
)

// Issue is one raw tracked item as returned by the search API. Comments is
// populated by the harvester when comment enrichment is enabled.
type Issue struct {
	ID       string         `json:"id"`
	Key      string         `json:"key"`
	Fields   map[string]any `json:"fields"`
	Comments []Comment      `json:"all_comments,omitempty"`
}

// Comment is a simplified issue comment.
type Comment struct {
	Author  string `json:"author"`
	Created string `json:"created"`
	Body    string `json:"body"`
}

// SearchPage is one unit of paginated search results.
type SearchPage struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the Jira server URL, e.g. "https://issues.apache.org/jira".
	BaseURL string

	// UserAgent identifies this harvester to the server.
	UserAgent string

	// RetryAttempts is the number of network attempts per logical request.
	RetryAttempts int

	// BackoffFactor is the exponential backoff base: a failed attempt n
	// sleeps BackoffFactor^n seconds before the next one.
	BackoffFactor float64

	// Timeout bounds each individual network call.
	Timeout time.Duration

	// DefaultRetryAfter is honored when a 429 response carries no
	// Retry-After header.
	DefaultRetryAfter time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		UserAgent:         "jira-harvest/1.0",
		RetryAttempts:     3,
		BackoffFactor:     2.0,
		Timeout:           30 * time.Second,
		DefaultRetryAfter: 60 * time.Second,
	}
}

// Client performs paginated queries against the Jira search API, gating
// every attempt through the rate limiter and retrying transient failures.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	issueCache *cache.Cache
	clock      ratelimit.Clock
	config     Config
	logger     zerolog.Logger
}

// New creates a Jira client. issueCache may be nil to disable the
// single-issue lookup cache.
func New(cfg Config, limiter *ratelimit.Limiter, issueCache *cache.Cache, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.RetryAttempts <= 0 {
		return nil, fmt.Errorf("retry attempts must be > 0 (got %d)", cfg.RetryAttempts)
	}
	if cfg.BackoffFactor < 1 {
		return nil, fmt.Errorf("backoff factor must be >= 1 (got %v)", cfg.BackoffFactor)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "jira-harvest/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    limiter,
		issueCache: issueCache,
		clock:      ratelimit.SystemClock{},
		config:     cfg,
		logger:     logger,
	}, nil
}

// Search runs a JQL query with bounded-retry semantics and returns one page
// of results. 429 responses are honored via the server-specified wait and
// never consume a retry attempt; 5xx and transport errors back off
// exponentially and fail with ErrRetryExhausted once attempts run out;
// other 4xx responses fail immediately.
func (c *Client) Search(ctx context.Context, jql string, fields []string, startAt, maxResults int) (*SearchPage, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("fields", strings.Join(fields, ","))
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))

	state := newRetryState(c.config.RetryAttempts, c.config.BackoffFactor)

	for {
		body, status, err := c.doGet(ctx, searchPath, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			lastErr := &APIError{Class: ErrorClassNetwork, Message: "search request failed", Err: err}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			if err := c.retryOrFail(ctx, state, ErrorClassNetwork, lastErr); err != nil {
				return nil, err
			}
			continue
		}

		class := classifyStatus(status)
		if class == ErrorClassRateLimit {
			// Server throttle: honor its wait, no attempt slot consumed.
			wait := retryAfter(body, c.config.DefaultRetryAfter)
			c.logger.Warn().
				Dur("retry_after", wait).
				Msg("Rate limited by server, waiting")
			throttleWaitSeconds.Observe(wait.Seconds())
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
			continue
		}
		if class == ErrorClassServer {
			lastErr := &APIError{StatusCode: status, Class: class, Message: "server error"}
			errorsTotal.WithLabelValues(string(class)).Inc()
			if err := c.retryOrFail(ctx, state, class, lastErr); err != nil {
				return nil, err
			}
			continue
		}
		if class == ErrorClassClient {
			errorsTotal.WithLabelValues(string(class)).Inc()
			return nil, &APIError{StatusCode: status, Class: class, Message: "request rejected"}
		}

		var page SearchPage
		if err := json.Unmarshal(body.payload, &page); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		state.succeed()
		return &page, nil
	}
}

// GetIssue fetches a single issue by key. A missing issue (404) returns
// (nil, nil); transport and server errors are surfaced to the caller.
// Successful lookups are cached when a cache is configured.
func (c *Client) GetIssue(ctx context.Context, key string, fields []string) (*Issue, error) {
	cacheKey := cache.Key{IssueKey: key, Fields: fields}
	if c.issueCache != nil {
		entry, err := c.issueCache.Get(ctx, cacheKey)
		if err == nil {
			var issue Issue
			if err := json.Unmarshal(entry.Data, &issue); err == nil {
				return &issue, nil
			}
		} else if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("issue_key", key).Msg("Issue cache get failed")
		}
	}

	params := url.Values{}
	params.Set("fields", strings.Join(fields, ","))

	body, status, err := c.doGet(ctx, issuePath+url.PathEscape(key), params)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "issue request failed", Err: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if class := classifyStatus(status); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &APIError{StatusCode: status, Class: class, Message: "issue lookup failed"}
	}

	var issue Issue
	if err := json.Unmarshal(body.payload, &issue); err != nil {
		return nil, fmt.Errorf("decode issue response: %w", err)
	}

	if c.issueCache != nil {
		if err := c.issueCache.Set(ctx, cacheKey, body.payload); err != nil {
			c.logger.Warn().Err(err).Str("issue_key", key).Msg("Issue cache set failed")
		}
	}

	return &issue, nil
}

// response carries the drained body and headers of one HTTP attempt.
type response struct {
	payload    []byte
	retryAfter string
}

// doGet acquires the rate limiter, performs one GET attempt, and drains the
// body so the connection can be reused.
func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values) (*response, int, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, 0, err
	}

	reqURL := c.config.BaseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, err
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	return &response{
		payload:    payload,
		retryAfter: resp.Header.Get("Retry-After"),
	}, resp.StatusCode, nil
}

// retryOrFail consumes one attempt slot and sleeps the exponential backoff.
// It returns the terminal error when the attempt budget is exhausted or the
// wait is cancelled, and nil when the caller should try again.
func (c *Client) retryOrFail(ctx context.Context, state *retryState, class ErrorClass, lastErr error) error {
	if !shouldRetry(class) {
		return lastErr
	}
	wait, ok := state.fail(class)
	if !ok {
		return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, state.maxAttempts, lastErr)
	}
	c.logger.Warn().
		Str("error_class", string(class)).
		Int("attempt", state.attempt).
		Int("max_attempts", state.maxAttempts).
		Dur("backoff", wait).
		Msg("Retrying request after backoff")
	if err := c.clock.Sleep(ctx, wait); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return nil
}

// retryAfter parses the server-provided wait from a 429 response, falling
// back to def when the header is absent or malformed.
func retryAfter(resp *response, def time.Duration) time.Duration {
	if resp == nil || resp.retryAfter == "" {
		return def
	}
	secs, err := strconv.Atoi(resp.retryAfter)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetClock sets a custom clock (for testing).
func (c *Client) SetClock(clock ratelimit.Clock) {
	c.clock = clock
}
