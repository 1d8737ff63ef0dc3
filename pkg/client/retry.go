package client

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jira_throttle_wait_seconds",
		Help:    "Server-mandated waits honored for 429 responses",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	})
)

// retryPhase is the state of one logical request's retry lifecycle.
type retryPhase int

const (
	// phaseAttempting means the next network call may proceed.
	phaseAttempting retryPhase = iota

	// phaseBackoff means a retriable failure occurred and the caller must
	// sleep the returned duration before the next attempt.
	phaseBackoff

	// phaseExhausted means the attempt budget is spent.
	phaseExhausted

	// phaseSucceeded means the request completed.
	phaseSucceeded
)

// retryState tracks bounded retry attempts for one logical request.
// Server-mandated 429 waits are handled outside of it and never consume
// an attempt slot.
type retryState struct {
	attempt     int
	maxAttempts int
	factor      float64
	phase       retryPhase
}

func newRetryState(maxAttempts int, backoffFactor float64) *retryState {
	return &retryState{
		maxAttempts: maxAttempts,
		factor:      backoffFactor,
		phase:       phaseAttempting,
	}
}

// backoffForAttempt returns factor^attempt seconds. It is a pure function
// of the attempt index so backoff schedules are testable in isolation.
func backoffForAttempt(factor float64, attempt int) time.Duration {
	return time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
}

// fail consumes one attempt slot. It returns the backoff to sleep before
// the next attempt, or ok=false when the budget is exhausted.
func (s *retryState) fail(class ErrorClass) (backoff time.Duration, ok bool) {
	backoff = backoffForAttempt(s.factor, s.attempt)
	s.attempt++
	if s.attempt >= s.maxAttempts {
		s.phase = phaseExhausted
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		return 0, false
	}
	s.phase = phaseBackoff
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(backoff.Seconds())
	return backoff, true
}

// succeed marks the request complete.
func (s *retryState) succeed() {
	s.phase = phaseSucceeded
}
