// Command jira-harvest fetches issue-tracker data into JSONL corpus files,
// resuming interrupted runs from durable checkpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/akshat657/jira-harvest/pkg/cache"
	"github.com/akshat657/jira-harvest/pkg/checkpoint"
	"github.com/akshat657/jira-harvest/pkg/client"
	"github.com/akshat657/jira-harvest/pkg/config"
	"github.com/akshat657/jira-harvest/pkg/harvest"
	"github.com/akshat657/jira-harvest/pkg/logging"
	"github.com/akshat657/jira-harvest/pkg/metrics"
	"github.com/akshat657/jira-harvest/pkg/ratelimit"
	"github.com/akshat657/jira-harvest/pkg/transform"
)

var (
	configPath   string
	resetProject string
	showStats    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jira-harvest",
		Short: "Checkpointed Jira issue harvester",
		Long: `jira-harvest fetches issues and comments from a Jira server into
JSONL corpus files. Progress is checkpointed in SQLite, so an interrupted
run resumes where it stopped instead of starting over.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVar(&resetProject, "reset", "", "clear checkpoint state for a project and exit")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "print harvest statistics and exit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})

	store, err := checkpoint.Open(cfg.Checkpointing.DBPath, logging.NewLogger("checkpoint"))
	if err != nil {
		return err
	}
	defer store.Close()

	if resetProject != "" {
		if err := store.Reset(ctx, resetProject); err != nil {
			return err
		}
		fmt.Printf("Reset project %s\n", resetProject)
		return nil
	}
	if showStats {
		return printStats(ctx, store, cfg)
	}

	return harvestAll(ctx, cfg, store, logger)
}

func harvestAll(ctx context.Context, cfg config.Config, store *checkpoint.Store, logger zerolog.Logger) error {
	limiter, err := ratelimit.New(cfg.Scraping.RateLimit.RequestsPerMinute, logging.NewLogger("ratelimit"))
	if err != nil {
		return err
	}

	issueCache := openCache(ctx, cfg, logger)

	clientCfg := client.DefaultConfig(cfg.Jira.BaseURL)
	clientCfg.RetryAttempts = cfg.Scraping.RateLimit.RetryAttempts
	clientCfg.BackoffFactor = cfg.Scraping.RateLimit.BackoffFactor
	jiraClient, err := client.New(clientCfg, limiter, issueCache, logging.NewLogger("client"))
	if err != nil {
		return err
	}

	harvester, err := harvest.New(jiraClient, store, harvest.Config{
		BatchSize:       cfg.Scraping.BatchSize,
		CheckpointEvery: cfg.Checkpointing.CheckpointEvery,
		Fields:          cfg.Jira.Fields,
		FetchComments:   cfg.Scraping.Features.FetchComments,
		MaxComments:     cfg.Scraping.Features.MaxComments,
	}, logging.NewLogger("harvest"))
	if err != nil {
		return err
	}

	formatter := transform.NewFormatter(transform.Config{
		BaseURL:       cfg.Jira.BaseURL,
		GenerateTasks: cfg.Transformer.Enabled,
		Cleaning: transform.CleaningConfig{
			RemoveHTML:           cfg.Transformer.Cleaning.RemoveHTML,
			MaxDescriptionLength: cfg.Transformer.Cleaning.MaxDescriptionLength,
			MaxCommentLength:     cfg.Transformer.Cleaning.MaxCommentLength,
		},
	}, logging.NewLogger("transform"))

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server started")
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// A failing project is logged and skipped; the run still exits 0 so a
	// scheduler rerun picks up from the failure snapshot.
	for _, project := range cfg.Jira.Projects {
		if ctx.Err() != nil {
			logger.Warn().Msg("Shutdown requested, stopping")
			break
		}
		if err := harvestProject(ctx, cfg, store, harvester, formatter, project, logger); err != nil {
			logger.Error().Err(err).Str("project", project.Name).Msg("Project harvest failed")
		}
	}

	return nil
}

func harvestProject(ctx context.Context, cfg config.Config, store *checkpoint.Store, harvester *harvest.Harvester, formatter *transform.Formatter, project config.ProjectConfig, logger zerolog.Logger) error {
	cp, err := store.Load(ctx, project.Name)
	if err != nil {
		return err
	}
	if cp != nil && cp.Status == checkpoint.StatusCompleted {
		logger.Info().Str("project", project.Name).Msg("Project already completed, skipping")
		return nil
	}

	// Resuming appends to the existing output; a fresh run truncates.
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cp != nil {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	path := filepath.Join(cfg.Output.Directory, project.Name+"_issues.jsonl")
	out, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer out.Close()

	encoder := json.NewEncoder(out)
	written := 0
	for issue, err := range harvester.FetchProject(ctx, project.Name, project.MaxIssues) {
		if err != nil {
			return err
		}
		var record any = issue
		if cfg.Transformer.Enabled {
			record = formatter.Transform(issue)
		}
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("write %s: %w", issue.Key, err)
		}
		written++
	}

	logger.Info().
		Str("project", project.Name).
		Str("output", path).
		Int("issues_written", written).
		Msg("Project output written")
	return nil
}

// openCache connects the optional Redis issue cache. Cache trouble never
// blocks a harvest; it just means more network calls.
func openCache(ctx context.Context, cfg config.Config, logger zerolog.Logger) *cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unreachable, caching disabled")
		return nil
	}

	issueCache, err := cache.New(redisClient, cfg.CacheTTL(), logging.NewLogger("cache"))
	if err != nil {
		logger.Warn().Err(err).Msg("Cache setup failed, caching disabled")
		return nil
	}
	logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Issue cache enabled")
	return issueCache
}

func printStats(ctx context.Context, store *checkpoint.Store, cfg config.Config) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Project", "Status", "Issues", "Comments", "Duration", "Issues/s", "Errors"})

	for _, project := range cfg.Jira.Projects {
		cp, err := store.Load(ctx, project.Name)
		if err != nil {
			return err
		}
		status := "not started"
		if cp != nil {
			status = string(cp.Status)
		}

		issues, comments, duration, rate := "-", "-", "-", "-"
		if st, err := store.Statistics(ctx, project.Name); err != nil {
			return err
		} else if st != nil {
			issues = fmt.Sprintf("%d", st.TotalIssues)
			comments = fmt.Sprintf("%d", st.TotalComments)
			duration = (time.Duration(st.DurationSeconds * float64(time.Second))).Round(time.Second).String()
			if st.DurationSeconds > 0 {
				rate = fmt.Sprintf("%.2f", float64(st.TotalIssues)/st.DurationSeconds)
			}
		} else if cp != nil {
			issues = fmt.Sprintf("%d", cp.TotalScraped)
		}

		entries, err := store.Errors(ctx, project.Name)
		if err != nil {
			return err
		}

		tbl.AppendRow(table.Row{project.Name, status, issues, comments, duration, rate, len(entries)})
	}

	tbl.Render()
	return nil
}
