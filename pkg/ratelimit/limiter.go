// Package ratelimit implements a sliding-window rate limiter that caps
// outbound Jira requests per trailing minute and enforces a minimum spacing
// between consecutive requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitWindowUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jira_rate_limit_window_utilization",
		Help: "Fraction of the trailing-minute request budget currently used",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_waits_total",
		Help: "Total number of Acquire calls that had to sleep",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jira_rate_limit_wait_seconds",
		Help:    "Time spent sleeping in Acquire",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// window is the trailing interval over which requests are counted.
const window = time.Minute

// windowSlack is added when sleeping until the oldest entry leaves the
// window, so a wakeup never lands exactly on the boundary.
const windowSlack = 100 * time.Millisecond

// Stats is a snapshot of the limiter state for observability.
type Stats struct {
	// RequestsLastMinute is the number of requests recorded in the
	// trailing window.
	RequestsLastMinute int

	// Limit is the configured requests-per-minute cap.
	Limit int

	// Utilization is RequestsLastMinute / Limit, in percent.
	Utilization float64
}

// Limiter bounds outbound request rate. It is safe for concurrent use by
// multiple harvesters: the whole prune/evaluate/sleep/record cycle runs
// under one mutex so concurrent callers never jointly overshoot the cap.
type Limiter struct {
	mu          sync.Mutex
	requests    []time.Time
	lastRequest time.Time

	limit       int
	minInterval time.Duration
	clock       Clock
	logger      zerolog.Logger
}

// New creates a Limiter allowing requestsPerMinute requests in any trailing
// one-minute window, with at least 60s/requestsPerMinute between requests.
func New(requestsPerMinute int, logger zerolog.Logger) (*Limiter, error) {
	return NewWithClock(requestsPerMinute, SystemClock{}, logger)
}

// NewWithClock is New with an injectable clock, used in tests.
func NewWithClock(requestsPerMinute int, clock Clock, logger zerolog.Logger) (*Limiter, error) {
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be > 0 (got %d)", requestsPerMinute)
	}
	return &Limiter{
		limit:       requestsPerMinute,
		minInterval: window / time.Duration(requestsPerMinute),
		clock:       clock,
		logger:      logger,
	}, nil
}

// Acquire blocks until issuing a request would violate neither the window
// cap nor the minimum inter-request spacing, then records the request.
// It returns early with the context error if ctx is cancelled mid-wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)

	// Window full: sleep until the oldest recorded request exits the window.
	if len(l.requests) >= l.limit {
		wait := window - now.Sub(l.requests[0]) + windowSlack
		if wait > 0 {
			l.logger.Debug().
				Dur("wait", wait).
				Int("in_window", len(l.requests)).
				Msg("Rate limit window full, waiting")
			rateLimitWaitsTotal.Inc()
			rateLimitWaitSeconds.Observe(wait.Seconds())
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			now = l.clock.Now()
			l.prune(now)
		}
	}

	// Enforce minimum spacing since the previous granted request.
	if !l.lastRequest.IsZero() {
		if since := now.Sub(l.lastRequest); since < l.minInterval {
			wait := l.minInterval - since
			rateLimitWaitsTotal.Inc()
			rateLimitWaitSeconds.Observe(wait.Seconds())
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			now = l.clock.Now()
		}
	}

	l.requests = append(l.requests, now)
	l.lastRequest = now
	rateLimitWindowUtilization.Set(float64(len(l.requests)) / float64(l.limit))

	return nil
}

// Stats returns the current window utilization without materially mutating
// limiter state (stale entries are pruned as a side effect of reading).
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return Stats{
		RequestsLastMinute: len(l.requests),
		Limit:              l.limit,
		Utilization:        float64(len(l.requests)) / float64(l.limit) * 100,
	}
}

// prune drops recorded requests older than the trailing window.
// Caller must hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = l.requests[i:]
	}
}
