package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks issue cache hits.
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jira_issue_cache_hits_total",
			Help: "Total number of issue cache hits",
		},
	)

	// cacheMisses tracks issue cache misses.
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jira_issue_cache_misses_total",
			Help: "Total number of issue cache misses",
		},
	)

	// cacheErrors tracks cache operation errors.
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jira_issue_cache_errors_total",
			Help: "Total number of issue cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
