package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusNoContent, ""},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusUnauthorized, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
		{http.StatusServiceUnavailable, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass(""), false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.expected {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.expected)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	plain := &APIError{StatusCode: 500, Class: ErrorClassServer, Message: "server error"}
	if !strings.Contains(plain.Error(), "status 500") {
		t.Errorf("Error() = %q", plain.Error())
	}

	wrapped := &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: errors.New("connection reset")}
	if !strings.Contains(wrapped.Error(), "connection reset") {
		t.Errorf("Error() = %q, want wrapped cause included", wrapped.Error())
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("search: %w", &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is() failed to reach the wrapped cause")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("errors.As() failed to find APIError")
	}
	if apiErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q", apiErr.Class)
	}
}
