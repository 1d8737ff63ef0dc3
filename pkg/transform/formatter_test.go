package transform

import (
	"strings"
	"testing"

	"github.com/akshat657/jira-harvest/pkg/client"
	"github.com/rs/zerolog"
)

func testIssue() client.Issue {
	return client.Issue{
		ID:  "1001",
		Key: "KAFKA-123",
		Fields: map[string]any{
			"summary":     "Broker crashes on restart",
			"description": "<p>The broker   fails with</p>\n```\npanic: nil pointer\n```",
			"status":      map[string]any{"name": "Open"},
			"priority":    map[string]any{"name": "Major"},
			"issuetype":   map[string]any{"name": "Bug"},
			"created":     "2026-01-01T00:00:00.000+0000",
			"updated":     "2026-01-02T00:00:00.000+0000",
			"labels":      []any{"broker", "crash"},
			"components":  []any{map[string]any{"name": "core"}},
			"assignee":    map[string]any{"displayName": "Alice"},
			"reporter":    map[string]any{"name": "bob"},
		},
		Comments: []client.Comment{
			{Author: "Carol", Created: "2026-01-03T00:00:00.000+0000", Body: "Which version <b>exactly</b>?"},
			{Author: "", Created: "2026-01-04T00:00:00.000+0000", Body: "   "},
		},
	}
}

func newTestFormatter() *Formatter {
	return NewFormatter(DefaultConfig("https://issues.apache.org/jira/"), zerolog.Nop())
}

func TestFormatter_Transform(t *testing.T) {
	doc := newTestFormatter().Transform(testIssue())

	if doc.IssueID != "KAFKA-123" {
		t.Errorf("IssueID = %q", doc.IssueID)
	}
	if doc.Project != "KAFKA" {
		t.Errorf("Project = %q, want KAFKA", doc.Project)
	}
	if doc.URL != "https://issues.apache.org/jira/browse/KAFKA-123" {
		t.Errorf("URL = %q", doc.URL)
	}

	if doc.Metadata.Status != "Open" || doc.Metadata.Priority != "Major" || doc.Metadata.Type != "Bug" {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
	if doc.Metadata.Assignee != "Alice" {
		t.Errorf("Assignee = %q, want displayName", doc.Metadata.Assignee)
	}
	if doc.Metadata.Reporter != "bob" {
		t.Errorf("Reporter = %q, want name fallback", doc.Metadata.Reporter)
	}
	if len(doc.Metadata.Labels) != 2 || len(doc.Metadata.Components) != 1 {
		t.Errorf("labels = %v, components = %v", doc.Metadata.Labels, doc.Metadata.Components)
	}

	if doc.Content.Title != "Broker crashes on restart" {
		t.Errorf("Title = %q", doc.Content.Title)
	}
	if strings.Contains(doc.Content.Description, "<p>") {
		t.Errorf("Description kept HTML: %q", doc.Content.Description)
	}
	if !strings.Contains(doc.Content.Description, "The broker fails with") {
		t.Errorf("Description = %q", doc.Content.Description)
	}

	// The blank comment is dropped.
	if doc.Content.CommentCount != 1 || len(doc.Content.Comments) != 1 {
		t.Fatalf("comments = %+v", doc.Content.Comments)
	}
	if doc.Content.Comments[0].Body != "Which version exactly ?" && !strings.Contains(doc.Content.Comments[0].Body, "Which version") {
		t.Errorf("comment body = %q", doc.Content.Comments[0].Body)
	}
}

func TestFormatter_Transform_MissingFields(t *testing.T) {
	doc := newTestFormatter().Transform(client.Issue{Key: "HDFS-1", Fields: map[string]any{}})

	if doc.Metadata.Status != "Unknown" || doc.Metadata.Type != "Unknown" {
		t.Errorf("metadata fallbacks = %+v", doc.Metadata)
	}
	if doc.Metadata.Priority != "None" {
		t.Errorf("Priority = %q, want None", doc.Metadata.Priority)
	}
	if doc.Metadata.Assignee != "Unknown" || doc.Metadata.Reporter != "Unknown" {
		t.Errorf("users = %q / %q, want Unknown", doc.Metadata.Assignee, doc.Metadata.Reporter)
	}
	if doc.Content.Description != "" {
		t.Errorf("Description = %q, want empty", doc.Content.Description)
	}
}

func TestFormatter_Transform_ADFDescription(t *testing.T) {
	issue := client.Issue{
		Key: "SPARK-9",
		Fields: map[string]any{
			"summary": "Executor OOM",
			"description": map[string]any{
				"type": "doc",
				"content": []any{
					map[string]any{
						"type": "paragraph",
						"content": []any{
							map[string]any{"type": "text", "text": "Heap exhausted under shuffle."},
						},
					},
				},
			},
		},
	}

	doc := newTestFormatter().Transform(issue)
	if doc.Content.Description != "Heap exhausted under shuffle." {
		t.Errorf("Description = %q", doc.Content.Description)
	}
}

func TestFormatter_Transform_EncodedADFComment(t *testing.T) {
	issue := client.Issue{
		Key:    "SPARK-10",
		Fields: map[string]any{"summary": "t"},
		Comments: []client.Comment{
			{
				Author:  "Dave",
				Created: "2026-01-01",
				Body:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"rich comment"}]}]}`,
			},
		},
	}

	doc := newTestFormatter().Transform(issue)
	if len(doc.Content.Comments) != 1 {
		t.Fatalf("comments = %+v", doc.Content.Comments)
	}
	if doc.Content.Comments[0].Body != "rich comment" {
		t.Errorf("comment body = %q, want parsed document text", doc.Content.Comments[0].Body)
	}
}

func TestFormatter_GenerateTasks(t *testing.T) {
	doc := newTestFormatter().Transform(testIssue())

	types := map[string]Task{}
	for _, task := range doc.TrainingTasks {
		types[task.TaskType] = task
	}

	summarize, ok := types["summarization"]
	if !ok {
		t.Fatal("missing summarization task")
	}
	if summarize.Output != "Broker crashes on restart" {
		t.Errorf("summarization output = %q", summarize.Output)
	}
	if !strings.HasPrefix(summarize.Input, "Title: Broker crashes on restart") {
		t.Errorf("summarization input = %q", summarize.Input)
	}

	classify, ok := types["classification"]
	if !ok {
		t.Fatal("missing classification task")
	}
	if classify.Output != "bug" {
		t.Errorf("classification output = %q, want lowercased type", classify.Output)
	}

	qa, ok := types["qa"]
	if !ok {
		t.Fatal("missing qa task")
	}
	if !strings.Contains(qa.Input, "Which version") {
		t.Errorf("qa input = %q", qa.Input)
	}

	extraction, ok := types["code_extraction"]
	if !ok {
		t.Fatal("missing code_extraction task")
	}
	if !strings.Contains(extraction.Output, "panic: nil pointer") {
		t.Errorf("code_extraction output = %q", extraction.Output)
	}
}

func TestFormatter_GenerateTasks_NoDescription(t *testing.T) {
	issue := client.Issue{
		Key:    "HDFS-2",
		Fields: map[string]any{"summary": "title only", "issuetype": map[string]any{"name": "Task"}},
		Comments: []client.Comment{
			{Author: "Eve", Created: "2026-01-01", Body: "any update?"},
		},
	}

	doc := newTestFormatter().Transform(issue)

	for _, task := range doc.TrainingTasks {
		if task.TaskType == "summarization" {
			t.Error("summarization task generated without a description")
		}
		if task.TaskType == "qa" && task.Output != "See issue description." {
			t.Errorf("qa output = %q, want placeholder", task.Output)
		}
	}
}

func TestFormatter_TasksDisabled(t *testing.T) {
	cfg := DefaultConfig("https://issues.apache.org/jira")
	cfg.GenerateTasks = false
	formatter := NewFormatter(cfg, zerolog.Nop())

	doc := formatter.Transform(testIssue())
	if len(doc.TrainingTasks) != 0 {
		t.Errorf("TrainingTasks = %d, want none", len(doc.TrainingTasks))
	}
}

func TestProjectOf(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"KAFKA-123", "KAFKA"},
		{"HDFS-1", "HDFS"},
		{"NOKEY", "NOKEY"},
	}
	for _, tt := range tests {
		if got := projectOf(tt.key); got != tt.expected {
			t.Errorf("projectOf(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}
