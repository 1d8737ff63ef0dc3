// Package harvest drives the paginated, checkpointed fetch of a project's
// issues, yielding them one at a time so callers stream results without
// buffering whole projects in memory.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/akshat657/jira-harvest/pkg/checkpoint"
	"github.com/akshat657/jira-harvest/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	issuesHarvested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_issues_harvested_total",
		Help: "Total issues yielded by the harvester per project",
	}, []string{"project"})

	commentsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_comments_fetched_total",
		Help: "Total comments attached to harvested issues",
	})

	checkpointSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_checkpoint_saves_total",
		Help: "Total checkpoint writes",
	})

	harvestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_harvest_failures_total",
		Help: "Total harvest runs that ended in failure per project",
	}, []string{"project"})
)

// IssueSource is the slice of the Jira client the harvester needs.
type IssueSource interface {
	Search(ctx context.Context, jql string, fields []string, startAt, maxResults int) (*client.SearchPage, error)
	GetIssue(ctx context.Context, key string, fields []string) (*client.Issue, error)
}

// ProgressStore is the slice of the checkpoint store the harvester needs.
type ProgressStore interface {
	Load(ctx context.Context, project string) (*checkpoint.Checkpoint, error)
	Save(ctx context.Context, project, lastIssueKey string, offset, totalScraped int) error
	MarkCompleted(ctx context.Context, project string) error
	RecordError(ctx context.Context, project, issueKey, message string) error
	SaveStatistics(ctx context.Context, project string, totalIssues, totalComments int, start, end time.Time) error
}

// Config holds the harvester configuration.
type Config struct {
	// BatchSize is the page size requested from the search API.
	BatchSize int

	// CheckpointEvery saves progress after this many yielded issues. After
	// a crash, at most CheckpointEvery-1 issues are re-fetched.
	CheckpointEvery int

	// Fields is the field list requested for every issue.
	Fields []string

	// FetchComments enables comment enrichment for each issue.
	FetchComments bool

	// MaxComments caps the comments attached per issue. 0 means unlimited.
	MaxComments int
}

// DefaultConfig returns a safe default harvester configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		CheckpointEvery: 10,
		Fields:          []string{"summary", "description", "status", "created", "comment"},
		FetchComments:   true,
		MaxComments:     20,
	}
}

// Harvester streams a project's issues from an IssueSource while recording
// durable progress in a ProgressStore.
type Harvester struct {
	source IssueSource
	store  ProgressStore
	config Config
	logger zerolog.Logger
}

// New creates a harvester.
func New(source IssueSource, store ProgressStore, cfg Config, logger zerolog.Logger) (*Harvester, error) {
	if source == nil {
		return nil, fmt.Errorf("issue source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.CheckpointEvery <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be > 0 (got %d)", cfg.CheckpointEvery)
	}
	if cfg.MaxComments < 0 {
		return nil, fmt.Errorf("max comments must be >= 0 (got %d)", cfg.MaxComments)
	}
	return &Harvester{
		source: source,
		store:  store,
		config: cfg,
		logger: logger,
	}, nil
}

// FetchProject streams up to maxIssues issues of a project, oldest progress
// first. A project already marked completed yields nothing. A project with a
// saved checkpoint resumes at the position after the last recorded issue;
// issues yielded after the last checkpoint of a crashed run are yielded
// again. A terminal fetch error snapshots progress at the last yielded issue
// and is surfaced as the final element of the sequence.
func (h *Harvester) FetchProject(ctx context.Context, project string, maxIssues int) iter.Seq2[client.Issue, error] {
	return func(yield func(client.Issue, error) bool) {
		logger := h.logger.With().Str("project", project).Logger()

		cp, err := h.store.Load(ctx, project)
		if err != nil {
			yield(client.Issue{}, fmt.Errorf("load checkpoint: %w", err))
			return
		}

		startAt := 0
		totalScraped := 0
		lastKey := ""
		lastOffset := 0
		if cp != nil {
			if cp.Status == checkpoint.StatusCompleted {
				logger.Info().Msg("Project already completed, skipping")
				return
			}
			startAt = cp.LastOffset + 1
			totalScraped = cp.TotalScraped
			lastKey = cp.LastIssueKey
			lastOffset = cp.LastOffset
			logger.Info().
				Str("issue_key", cp.LastIssueKey).
				Int("offset", cp.LastOffset).
				Int("total_scraped", cp.TotalScraped).
				Msg("Resuming from checkpoint")
		}

		start := time.Now()
		sinceCheckpoint := 0
		runComments := 0

		fail := func(cause error) {
			harvestFailures.WithLabelValues(project).Inc()
			if lastKey != "" {
				if err := h.store.Save(ctx, project, lastKey, lastOffset, totalScraped); err != nil {
					logger.Error().Err(err).Msg("Failure snapshot write failed")
				}
			}
			yield(client.Issue{}, cause)
		}

		for maxIssues <= 0 || totalScraped < maxIssues {
			pageSize := h.config.BatchSize
			if maxIssues > 0 && maxIssues-totalScraped < pageSize {
				pageSize = maxIssues - totalScraped
			}

			jql := fmt.Sprintf("project = %s ORDER BY created DESC", project)
			page, err := h.source.Search(ctx, jql, h.config.Fields, startAt, pageSize)
			if err != nil {
				logger.Error().Err(err).Int("offset", startAt).Msg("Search failed")
				fail(fmt.Errorf("search at offset %d: %w", startAt, err))
				return
			}
			if len(page.Issues) == 0 {
				break
			}

			for i, issue := range page.Issues {
				offset := page.StartAt + i

				if h.config.FetchComments {
					comments, err := h.enrichComments(ctx, issue)
					if err != nil {
						logger.Warn().Err(err).Str("issue_key", issue.Key).Msg("Comment enrichment failed, skipping issue")
						if recErr := h.store.RecordError(ctx, project, issue.Key, err.Error()); recErr != nil {
							fail(fmt.Errorf("record error for %s: %w", issue.Key, recErr))
							return
						}
						continue
					}
					issue.Comments = comments
					runComments += len(comments)
					commentsFetched.Add(float64(len(comments)))
				}

				if !yield(issue, nil) {
					return
				}

				totalScraped++
				lastKey = issue.Key
				lastOffset = offset
				sinceCheckpoint++
				issuesHarvested.WithLabelValues(project).Inc()

				if sinceCheckpoint >= h.config.CheckpointEvery {
					if err := h.store.Save(ctx, project, lastKey, lastOffset, totalScraped); err != nil {
						fail(fmt.Errorf("save checkpoint: %w", err))
						return
					}
					checkpointSaves.Inc()
					sinceCheckpoint = 0
				}

				if maxIssues > 0 && totalScraped >= maxIssues {
					break
				}
			}

			startAt = page.StartAt + len(page.Issues)
			if startAt >= page.Total {
				break
			}
		}

		if lastKey != "" && sinceCheckpoint > 0 {
			if err := h.store.Save(ctx, project, lastKey, lastOffset, totalScraped); err != nil {
				fail(fmt.Errorf("save final checkpoint: %w", err))
				return
			}
			checkpointSaves.Inc()
		}
		if err := h.store.MarkCompleted(ctx, project); err != nil {
			fail(fmt.Errorf("mark completed: %w", err))
			return
		}
		if err := h.store.SaveStatistics(ctx, project, totalScraped, runComments, start, time.Now()); err != nil {
			logger.Error().Err(err).Msg("Statistics write failed")
		}

		logger.Info().
			Int("total_scraped", totalScraped).
			Int("comments", runComments).
			Dur("duration", time.Since(start)).
			Msg("Project harvest completed")
	}
}

// enrichComments returns the issue's comments, preferring the copy embedded
// in the search response and falling back to a single-issue lookup when the
// field was not expanded.
func (h *Harvester) enrichComments(ctx context.Context, issue client.Issue) ([]client.Comment, error) {
	if comments, ok := embeddedComments(issue.Fields); ok {
		return h.capComments(comments), nil
	}

	fetched, err := h.source.GetIssue(ctx, issue.Key, []string{"comment"})
	if err != nil {
		return nil, fmt.Errorf("fetch comments: %w", err)
	}
	if fetched == nil {
		return nil, nil
	}
	comments, _ := embeddedComments(fetched.Fields)
	return h.capComments(comments), nil
}

func (h *Harvester) capComments(comments []client.Comment) []client.Comment {
	if h.config.MaxComments > 0 && len(comments) > h.config.MaxComments {
		return comments[:h.config.MaxComments]
	}
	return comments
}

// embeddedComments extracts comments from the fields.comment.comments
// structure. The second return value reports whether the comment field was
// present at all; an issue with zero comments still counts as present.
func embeddedComments(fields map[string]any) ([]client.Comment, bool) {
	raw, ok := fields["comment"].(map[string]any)
	if !ok {
		return nil, false
	}
	list, ok := raw["comments"].([]any)
	if !ok {
		return nil, true
	}

	comments := make([]client.Comment, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		comments = append(comments, client.Comment{
			Author:  commentAuthor(entry),
			Created: stringField(entry, "created"),
			Body:    commentBody(entry),
		})
	}
	return comments, true
}

func commentAuthor(entry map[string]any) string {
	author, ok := entry["author"].(map[string]any)
	if !ok {
		return "Unknown"
	}
	if name := stringField(author, "displayName"); name != "" {
		return name
	}
	return "Unknown"
}

// commentBody returns the comment text. Rich-document bodies are kept as
// their JSON encoding so the transform layer can parse them.
func commentBody(entry map[string]any) string {
	switch body := entry["body"].(type) {
	case string:
		return body
	case map[string]any:
		data, err := json.Marshal(body)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

func stringField(entry map[string]any, key string) string {
	value, _ := entry[key].(string)
	return value
}
