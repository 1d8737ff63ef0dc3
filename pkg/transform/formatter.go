package transform

import (
	"strings"

	"github.com/akshat657/jira-harvest/pkg/client"
	"github.com/rs/zerolog"
)

// CleaningConfig controls text normalization limits.
type CleaningConfig struct {
	// RemoveHTML strips markup from string bodies.
	RemoveHTML bool

	// MaxDescriptionLength truncates cleaned descriptions, 0 disables.
	MaxDescriptionLength int

	// MaxCommentLength truncates cleaned comment bodies, 0 disables.
	MaxCommentLength int
}

// Config holds the formatter configuration.
type Config struct {
	// BaseURL builds the browse URL for each document.
	BaseURL string

	// GenerateTasks enables training-task generation.
	GenerateTasks bool

	// Cleaning holds the text normalization limits.
	Cleaning CleaningConfig
}

// DefaultConfig returns a safe default formatter configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		GenerateTasks: true,
		Cleaning: CleaningConfig{
			RemoveHTML:           true,
			MaxDescriptionLength: 5000,
			MaxCommentLength:     2000,
		},
	}
}

// Metadata carries the structured fields of one issue.
type Metadata struct {
	Status     string   `json:"status"`
	Priority   string   `json:"priority"`
	Type       string   `json:"type"`
	Created    string   `json:"created,omitempty"`
	Updated    string   `json:"updated,omitempty"`
	Resolved   string   `json:"resolved,omitempty"`
	Labels     []string `json:"labels"`
	Components []string `json:"components"`
	Assignee   string   `json:"assignee"`
	Reporter   string   `json:"reporter"`
}

// CommentDoc is one cleaned comment.
type CommentDoc struct {
	Author  string `json:"author"`
	Created string `json:"created"`
	Body    string `json:"body"`
}

// Content is the textual payload of a document.
type Content struct {
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Comments     []CommentDoc `json:"comments"`
	CommentCount int          `json:"comment_count"`
}

// Task is one generated training example.
type Task struct {
	TaskType    string `json:"task_type"`
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// Document is one corpus record, serialized as a JSONL line.
type Document struct {
	IssueID       string   `json:"issue_id"`
	Project       string   `json:"project"`
	URL           string   `json:"url"`
	Metadata      Metadata `json:"metadata"`
	Content       Content  `json:"content"`
	TrainingTasks []Task   `json:"training_tasks,omitempty"`
}

// Formatter turns raw issues into documents.
type Formatter struct {
	config  Config
	cleaner *Cleaner
	logger  zerolog.Logger
}

// NewFormatter creates a formatter.
func NewFormatter(cfg Config, logger zerolog.Logger) *Formatter {
	return &Formatter{
		config:  cfg,
		cleaner: NewCleaner(),
		logger:  logger,
	}
}

// Transform converts one raw issue into a corpus document.
func (f *Formatter) Transform(issue client.Issue) Document {
	fields := issue.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	doc := Document{
		IssueID:  issue.Key,
		Project:  projectOf(issue.Key),
		URL:      strings.TrimRight(f.config.BaseURL, "/") + "/browse/" + issue.Key,
		Metadata: f.extractMetadata(fields),
		Content: Content{
			Title:       stringValue(fields, "summary"),
			Description: f.extractText(fields["description"], f.config.Cleaning.MaxDescriptionLength),
			Comments:    f.extractComments(issue.Comments),
		},
	}
	doc.Content.CommentCount = len(doc.Content.Comments)

	if f.config.GenerateTasks {
		doc.TrainingTasks = f.generateTasks(doc)
	}

	return doc
}

// extractText flattens a description or body value that may be plain text,
// HTML, or a rich document.
func (f *Formatter) extractText(content any, maxLength int) string {
	switch value := content.(type) {
	case string:
		if looksLikeADF(value) {
			if text, err := f.cleaner.ParseADFJSON([]byte(value)); err == nil {
				return f.cleaner.Clean(text, maxLength)
			}
		}
		if f.config.Cleaning.RemoveHTML {
			return f.cleaner.Clean(value, maxLength)
		}
		return truncateRunes(value, maxLength)
	case map[string]any:
		return f.cleaner.Clean(f.cleaner.ParseADF(value), maxLength)
	default:
		return ""
	}
}

// extractComments cleans comment bodies and drops comments that clean to
// nothing.
func (f *Formatter) extractComments(comments []client.Comment) []CommentDoc {
	docs := make([]CommentDoc, 0, len(comments))
	for _, comment := range comments {
		body := f.extractText(comment.Body, f.config.Cleaning.MaxCommentLength)
		if body == "" {
			continue
		}
		author := comment.Author
		if author == "" {
			author = "Unknown"
		}
		docs = append(docs, CommentDoc{
			Author:  author,
			Created: comment.Created,
			Body:    body,
		})
	}
	return docs
}

func (f *Formatter) extractMetadata(fields map[string]any) Metadata {
	return Metadata{
		Status:     nestedName(fields, "status", "Unknown"),
		Priority:   nestedName(fields, "priority", "None"),
		Type:       nestedName(fields, "issuetype", "Unknown"),
		Created:    stringValue(fields, "created"),
		Updated:    stringValue(fields, "updated"),
		Resolved:   stringValue(fields, "resolved"),
		Labels:     stringList(fields, "labels"),
		Components: componentNames(fields),
		Assignee:   userName(fields["assignee"]),
		Reporter:   userName(fields["reporter"]),
	}
}

// generateTasks builds the training examples for one document.
func (f *Formatter) generateTasks(doc Document) []Task {
	var tasks []Task
	content := doc.Content

	if content.Description != "" {
		tasks = append(tasks, Task{
			TaskType:    "summarization",
			Instruction: "Summarize the following software issue in one sentence:",
			Input:       "Title: " + content.Title + "\n\nDescription: " + truncateRunes(content.Description, 500),
			Output:      content.Title,
		})
	}

	tasks = append(tasks, Task{
		TaskType:    "classification",
		Instruction: "Classify this issue type (bug, feature, improvement, task):",
		Input:       content.Title + "\n\n" + truncateRunes(content.Description, 300),
		Output:      strings.ToLower(doc.Metadata.Type),
	})

	if len(content.Comments) > 0 {
		answer := "See issue description."
		if content.Description != "" {
			answer = truncateRunes(content.Description, 300)
		}
		tasks = append(tasks, Task{
			TaskType:    "qa",
			Instruction: "Based on the issue, answer the following:",
			Input:       "Issue: " + content.Title + "\n\nQuestion: " + truncateRunes(content.Comments[0].Body, 200),
			Output:      answer,
		})
	}

	if blocks := f.cleaner.ExtractCodeBlocks(content.Description); len(blocks) > 0 {
		if len(blocks) > 3 {
			blocks = blocks[:3]
		}
		tasks = append(tasks, Task{
			TaskType:    "code_extraction",
			Instruction: "Extract code snippets from this issue:",
			Input:       truncateRunes(content.Description, 800),
			Output:      strings.Join(blocks, "\n\n"),
		})
	}

	return tasks
}

func projectOf(issueKey string) string {
	if idx := strings.Index(issueKey, "-"); idx > 0 {
		return issueKey[:idx]
	}
	return issueKey
}

// truncateRunes cuts text at maxLength runes without adding a marker.
// 0 disables truncation.
func truncateRunes(text string, maxLength int) string {
	if maxLength <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return string(runes[:maxLength])
}

func stringValue(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}

func stringList(fields map[string]any, key string) []string {
	raw, ok := fields[key].([]any)
	if !ok {
		return []string{}
	}
	list := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			list = append(list, s)
		}
	}
	return list
}

func componentNames(fields map[string]any) []string {
	raw, ok := fields["components"].([]any)
	if !ok {
		return []string{}
	}
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func nestedName(fields map[string]any, key, fallback string) string {
	entry, ok := fields[key].(map[string]any)
	if !ok {
		return fallback
	}
	if name, ok := entry["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

func userName(value any) string {
	user, ok := value.(map[string]any)
	if !ok {
		return "Unknown"
	}
	if name, ok := user["displayName"].(string); ok && name != "" {
		return name
	}
	if name, ok := user["name"].(string); ok && name != "" {
		return name
	}
	return "Unknown"
}
