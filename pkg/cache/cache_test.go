package cache

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name     string
		key      Key
		expected string
	}{
		{
			name:     "no fields",
			key:      Key{IssueKey: "KAFKA-1"},
			expected: "jira:issue:KAFKA-1",
		},
		{
			name:     "fields sorted for determinism",
			key:      Key{IssueKey: "SPARK-42", Fields: []string{"summary", "comment"}},
			expected: "jira:issue:SPARK-42:fields=comment,summary",
		},
		{
			name:     "single field",
			key:      Key{IssueKey: "HADOOP-7", Fields: []string{"comment"}},
			expected: "jira:issue:HADOOP-7:fields=comment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKey_String_DoesNotMutateFields(t *testing.T) {
	fields := []string{"summary", "comment"}
	key := Key{IssueKey: "KAFKA-1", Fields: fields}
	_ = key.String()

	if fields[0] != "summary" || fields[1] != "comment" {
		t.Errorf("String() reordered caller's field slice: %v", fields)
	}
}

func TestEntry_IsExpired(t *testing.T) {
	fresh := Entry{Expires: time.Now().Add(time.Minute)}
	if fresh.IsExpired() {
		t.Error("Entry expiring in the future reported expired")
	}

	stale := Entry{Expires: time.Now().Add(-time.Minute)}
	if !stale.IsExpired() {
		t.Error("Entry expired in the past reported fresh")
	}
}

func TestEntry_TTL(t *testing.T) {
	entry := Entry{Expires: time.Now().Add(30 * time.Second)}
	ttl := entry.TTL()
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("TTL() = %v, want within (0, 30s]", ttl)
	}

	expired := Entry{Expires: time.Now().Add(-time.Second)}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() for expired entry = %v, want 0", got)
	}
}

func TestNew_Validation(t *testing.T) {
	logger := zerolog.Nop()

	if _, err := New(nil, time.Minute, logger); err == nil {
		t.Error("New(nil redis) expected error, got nil")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if _, err := New(client, 0, logger); err == nil {
		t.Error("New(ttl=0) expected error, got nil")
	}
	if _, err := New(client, time.Minute, logger); err != nil {
		t.Errorf("New() unexpected error: %v", err)
	}
}
