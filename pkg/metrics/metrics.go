// Package metrics provides the centralized Prometheus metrics registry for
// the harvester. All metrics are defined in their respective packages
// (client, cache, ratelimit, harvest) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default registry, mounted by
// the CLI at /metrics when a metrics address is configured.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - jira_rate_limit_window_utilization (Gauge): Fraction of the sliding window in use
//   - jira_rate_limit_waits_total (Counter): Acquisitions that had to wait
//   - jira_rate_limit_wait_seconds (Histogram): Time spent waiting for a request slot
//
// Cache Metrics (pkg/cache):
//   - jira_issue_cache_hits_total (Counter): Issue cache hits
//   - jira_issue_cache_misses_total (Counter): Issue cache misses
//   - jira_issue_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - jira_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - jira_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - jira_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - jira_retries_total{error_class} (Counter): Retry attempts by error class
//   - jira_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - jira_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//   - jira_throttle_wait_seconds (Histogram): Server-mandated 429 waits honored
//
// Harvest Metrics (pkg/harvest):
//   - jira_issues_harvested_total{project} (Counter): Issues yielded per project
//   - jira_comments_fetched_total (Counter): Comments attached to harvested issues
//   - jira_checkpoint_saves_total (Counter): Checkpoint writes
//   - jira_harvest_failures_total{project} (Counter): Harvest runs ended in failure
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(jira_issue_cache_hits_total[5m])) /
//   (sum(rate(jira_issue_cache_hits_total[5m])) + sum(rate(jira_issue_cache_misses_total[5m])))
//
//   # Window Utilization
//   jira_rate_limit_window_utilization > 0.9
//
//   # Request Error Rate
//   rate(jira_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(jira_request_duration_seconds_bucket[5m]))
//
//   # Harvest Throughput
//   sum by (project) (rate(jira_issues_harvested_total[5m]))
