// Package checkpoint persists per-project harvest progress, error audit
// entries, and run statistics in SQLite, so an interrupted harvest resumes
// from its last durable position instead of restarting.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a project's harvest.
type Status string

const (
	// StatusInProgress marks a project with at least one saved checkpoint
	// that has not finished.
	StatusInProgress Status = "in_progress"

	// StatusCompleted marks a project whose harvest ran to completion.
	StatusCompleted Status = "completed"
)

// Checkpoint is the durable progress marker for one project.
type Checkpoint struct {
	Project      string
	LastIssueKey string
	LastOffset   int
	TotalScraped int
	LastUpdated  time.Time
	Status       Status
}

// ErrorEntry is one append-only error audit record.
type ErrorEntry struct {
	ID        int64
	Project   string
	IssueKey  string
	Message   string
	Timestamp time.Time
}

// Statistics summarizes one project's completed (or latest) harvest run.
type Statistics struct {
	Project         string
	TotalIssues     int
	TotalComments   int
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    project TEXT PRIMARY KEY,
    last_issue_key TEXT NOT NULL,
    last_offset INTEGER NOT NULL,
    total_scraped INTEGER NOT NULL,
    last_updated INTEGER NOT NULL,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    issue_key TEXT NOT NULL,
    error_message TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS statistics (
    project TEXT PRIMARY KEY,
    total_issues INTEGER NOT NULL,
    total_comments INTEGER NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    duration_seconds REAL NOT NULL
);
`

// Store is a SQLite-backed checkpoint store. Operations on different
// projects are independent; same-project concurrent writers require
// external serialization (one harvester per project).
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the checkpoint database at path and
// ensures the schema exists.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint db path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the checkpoint for a project, or nil if none exists.
func (s *Store) Load(ctx context.Context, project string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project, last_issue_key, last_offset, total_scraped, last_updated, status
		 FROM checkpoints WHERE project = ?`, project)

	var cp Checkpoint
	var updated int64
	var status string
	err := row.Scan(&cp.Project, &cp.LastIssueKey, &cp.LastOffset, &cp.TotalScraped, &updated, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.LastUpdated = fromMillis(updated)
	cp.Status = Status(status)
	return &cp, nil
}

// Save upserts a project's progress, setting status to in_progress and
// refreshing the timestamp. The upsert is a single statement so a crash
// mid-write never exposes a half-updated row.
func (s *Store) Save(ctx context.Context, project, lastIssueKey string, offset, totalScraped int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (project, last_issue_key, last_offset, total_scraped, last_updated, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   last_issue_key = excluded.last_issue_key,
		   last_offset = excluded.last_offset,
		   total_scraped = excluded.total_scraped,
		   last_updated = excluded.last_updated,
		   status = excluded.status`,
		project, lastIssueKey, offset, totalScraped, toMillis(time.Now()), string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("project", project).
		Str("issue_key", lastIssueKey).
		Int("offset", offset).
		Int("total_scraped", totalScraped).
		Msg("Checkpoint saved")

	return nil
}

// MarkCompleted transitions a project's status to completed without
// altering its offset or totals. Projects that finished without ever
// checkpointing (e.g. empty projects) still get a completed row so later
// runs skip them.
func (s *Store) MarkCompleted(ctx context.Context, project string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (project, last_issue_key, last_offset, total_scraped, last_updated, status)
		 VALUES (?, '', 0, 0, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   status = excluded.status,
		   last_updated = excluded.last_updated`,
		project, toMillis(time.Now()), string(StatusCompleted))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// RecordError appends one error audit entry. Entries are never mutated or
// deduplicated.
func (s *Store) RecordError(ctx context.Context, project, issueKey, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO errors (project, issue_key, error_message, timestamp)
		 VALUES (?, ?, ?, ?)`,
		project, issueKey, message, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}

// Errors returns all error entries for a project, oldest first.
func (s *Store) Errors(ctx context.Context, project string) ([]ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, issue_key, error_message, timestamp
		 FROM errors WHERE project = ? ORDER BY id`, project)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var entries []ErrorEntry
	for rows.Next() {
		var e ErrorEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Project, &e.IssueKey, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan error entry: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error entries: %w", err)
	}
	return entries, nil
}

// SaveStatistics upserts a project's run statistics, deriving the duration
// from the start and end times.
func (s *Store) SaveStatistics(ctx context.Context, project string, totalIssues, totalComments int, start, end time.Time) error {
	duration := end.Sub(start).Seconds()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statistics (project, total_issues, total_comments, start_time, end_time, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   total_issues = excluded.total_issues,
		   total_comments = excluded.total_comments,
		   start_time = excluded.start_time,
		   end_time = excluded.end_time,
		   duration_seconds = excluded.duration_seconds`,
		project, totalIssues, totalComments, toMillis(start), toMillis(end), duration)
	if err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}

// Statistics returns a project's statistics, or nil if none exist.
func (s *Store) Statistics(ctx context.Context, project string) (*Statistics, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project, total_issues, total_comments, start_time, end_time, duration_seconds
		 FROM statistics WHERE project = ?`, project)

	var st Statistics
	var start, end int64
	err := row.Scan(&st.Project, &st.TotalIssues, &st.TotalComments, &start, &end, &st.DurationSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	st.StartTime = fromMillis(start)
	st.EndTime = fromMillis(end)
	return &st, nil
}

// Reset deletes a project's checkpoint, error entries, and statistics in
// one transaction, returning it to the not-started state.
func (s *Store) Reset(ctx context.Context, project string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM checkpoints WHERE project = ?`,
		`DELETE FROM errors WHERE project = ?`,
		`DELETE FROM statistics WHERE project = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, project); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset project: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	s.logger.Info().Str("project", project).Msg("Project reset")
	return nil
}
