// Package transform turns raw harvested issues into clean corpus documents:
// HTML and rich-document bodies become plain text, and each issue is
// reshaped into a stable JSONL record with optional training tasks.
package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	fencedBlockPattern = regexp.MustCompile("```[\\s\\S]*?```")
	wikiBlockPattern   = regexp.MustCompile(`\{code[:\w]*\}[\s\S]*?\{code\}`)
)

// adfNode is one node of an Atlassian Document Format tree. Only the three
// fields the extractor reads are decoded; everything else is dropped.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// Cleaner normalizes issue and comment text.
type Cleaner struct{}

// NewCleaner creates a text cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Clean strips HTML tags, collapses whitespace, and truncates to maxLength
// runes (0 disables truncation). Truncated text ends with "...".
func (c *Cleaner) Clean(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	text = htmlTagPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if maxLength > 0 {
		runes := []rune(text)
		if len(runes) > maxLength {
			text = string(runes[:maxLength]) + "..."
		}
	}

	return text
}

// ParseADF flattens an Atlassian Document Format tree to cleaned plain
// text. Unknown node types contribute their children's text; code blocks
// keep fenced markers so ExtractCodeBlocks can find them.
func (c *Cleaner) ParseADF(doc map[string]any) string {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprint(doc)
	}
	return c.parseADFJSON(data)
}

// ParseADFJSON is ParseADF for a document already held as JSON, e.g. a
// comment body the harvester kept in encoded form.
func (c *Cleaner) ParseADFJSON(data []byte) (string, error) {
	var node adfNode
	if err := json.Unmarshal(data, &node); err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	return c.parseADFJSON(data), nil
}

func (c *Cleaner) parseADFJSON(data []byte) string {
	var node adfNode
	if err := json.Unmarshal(data, &node); err != nil {
		return string(data)
	}
	return c.Clean(extractText(node), 0)
}

func extractText(node adfNode) string {
	switch node.Type {
	case "text":
		return node.Text
	case "codeBlock":
		return "\n```\n" + joinChildren(node.Content) + "\n```\n"
	case "paragraph":
		return joinChildren(node.Content) + "\n"
	default:
		return joinChildren(node.Content)
	}
}

func joinChildren(children []adfNode) string {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		parts = append(parts, extractText(child))
	}
	return strings.Join(parts, " ")
}

// ExtractCodeBlocks returns every fenced (```) and wiki-markup ({code})
// block in text, markers included.
func (c *Cleaner) ExtractCodeBlocks(text string) []string {
	var blocks []string
	blocks = append(blocks, fencedBlockPattern.FindAllString(text, -1)...)
	blocks = append(blocks, wikiBlockPattern.FindAllString(text, -1)...)
	return blocks
}

// looksLikeADF reports whether a string body is a JSON-encoded rich
// document rather than plain text.
func looksLikeADF(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"type"`)
}
