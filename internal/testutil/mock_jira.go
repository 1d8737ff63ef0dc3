// Package testutil provides testing utilities for the Jira harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockIssue is one fixture issue served by the mock search endpoint.
type MockIssue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// MockJira is a configurable fake Jira server for testing. Without custom
// handlers it serves its fixture issues through the paginated search API
// and by key through the issue API.
type MockJira struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	issues   []MockIssue

	// failures maps a request ordinal (1-based) to a canned response,
	// letting tests inject a 429 or 500 at an exact point in a run.
	failures map[int]MockResponse

	RequestCount      int
	SearchCalls       []SearchCall
	LastRequestHeader http.Header
}

// SearchCall records the pagination parameters of one search request.
type SearchCall struct {
	JQL        string
	StartAt    int
	MaxResults int
}

// NewMockJira creates a mock server seeded with fixture issues.
func NewMockJira(issues []MockIssue) *MockJira {
	mock := &MockJira{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[int]MockResponse),
		issues:   issues,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		count := mock.RequestCount
		mock.LastRequestHeader = r.Header.Clone()
		failure, failNow := mock.failures[count]
		mock.mu.Unlock()

		if failNow {
			writeResponse(w, failure)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockJira) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockJira) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and injected failures.
func (m *MockJira) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.SearchCalls = nil
	m.LastRequestHeader = nil
	m.failures = make(map[int]MockResponse)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockJira) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockJira) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		writeResponse(w, resp)
	})
}

// FailRequest makes the nth request (1-based, across all endpoints) return
// the given response instead of the normal fixture payload.
func (m *MockJira) FailRequest(n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[n] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockJira) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler serves the fixture issues through Jira-shaped endpoints.
func (m *MockJira) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/rest/api/2/search":
		m.handleSearch(w, r)
	case strings.HasPrefix(r.URL.Path, "/rest/api/2/issue/"):
		m.handleIssue(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessages": ["no such endpoint"]}`))
	}
}

func (m *MockJira) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	startAt, _ := strconv.Atoi(query.Get("startAt"))
	maxResults, _ := strconv.Atoi(query.Get("maxResults"))
	if maxResults <= 0 {
		maxResults = 50
	}

	m.mu.Lock()
	m.SearchCalls = append(m.SearchCalls, SearchCall{
		JQL:        query.Get("jql"),
		StartAt:    startAt,
		MaxResults: maxResults,
	})
	issues := m.issues
	m.mu.Unlock()

	end := startAt + maxResults
	if end > len(issues) {
		end = len(issues)
	}
	page := []MockIssue{}
	if startAt < len(issues) {
		page = issues[startAt:end]
	}

	payload, _ := json.Marshal(map[string]any{
		"startAt":    startAt,
		"maxResults": maxResults,
		"total":      len(issues),
		"issues":     page,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (m *MockJira) handleIssue(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/rest/api/2/issue/")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, issue := range m.issues {
		if issue.Key == key {
			payload, _ := json.Marshal(issue)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(payload)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"errorMessages": ["Issue does not exist"]}`))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewRateLimitResponse creates a 429 response carrying a Retry-After header.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errorMessages": ["Rate limit exceeded"]}`,
		Headers: map[string]string{
			"Retry-After": strconv.Itoa(retryAfterSeconds),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errorMessages": ["Internal server error"]}`,
	}
}

// MakeIssues builds n fixture issues named PROJECT-1..PROJECT-n, each with
// a summary and one embedded comment.
func MakeIssues(project string, n int) []MockIssue {
	issues := make([]MockIssue, n)
	for i := range issues {
		key := fmt.Sprintf("%s-%d", project, i+1)
		issues[i] = MockIssue{
			ID:  strconv.Itoa(10000 + i),
			Key: key,
			Fields: map[string]any{
				"summary":   "Summary of " + key,
				"status":    map[string]any{"name": "Open"},
				"issuetype": map[string]any{"name": "Bug"},
				"created":   "2026-01-01T00:00:00.000+0000",
				"comment": map[string]any{
					"comments": []any{
						map[string]any{
							"author":  map[string]any{"displayName": "Fixture Author"},
							"created": "2026-01-02T00:00:00.000+0000",
							"body":    "Comment on " + key,
						},
					},
				},
			},
		}
	}
	return issues
}
