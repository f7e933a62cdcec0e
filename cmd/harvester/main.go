// Command harvester is the one-shot CLI for the Job Orchestrator: it starts
// a single job, waits for it to reach a terminal state, and writes the
// result to stdout, or to the file named by --output. For the long-running
// HTTP surface see cmd/harvesterd.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/extract"
	"github.com/scrapeforge/harvester/internal/fetcher"
	"github.com/scrapeforge/harvester/internal/hostpolicy"
	"github.com/scrapeforge/harvester/internal/joblog"
	"github.com/scrapeforge/harvester/internal/jobstore"
	"github.com/scrapeforge/harvester/internal/metrics"
	"github.com/scrapeforge/harvester/internal/normalizer"
	"github.com/scrapeforge/harvester/internal/orchestrator"
	"github.com/scrapeforge/harvester/internal/robots"
	"github.com/scrapeforge/harvester/internal/types"
)

var (
	cfgFile    string
	verbose    bool
	outputPath string
	formatFlag string
	modeFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvester — rule-driven batch web scraper",
		Long: `Harvester runs a single scrape job to completion from the command line.

Features:
  • Resilient per-host fetching: circuit breakers, token-bucket limits, robots.txt
  • URL canonicalization and pagination discovery
  • CSS selector, XPath, and regex rule-driven extraction
  • JSON and CSV export
  • ndjson job event log for auditing a run after the fact`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "Run a scrape job to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScrape,
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "json", "output format: json, csv")
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "news", "extraction mode: news, sports_player, company_directory")
	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	id, err := orch.StartJob(ctx, modeFlag, types.JobInput{Mode: modeFlag, URLs: args})
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	logger.Info("job started", "job_id", id, "mode", modeFlag, "urls", len(args))

	job, err := awaitTerminal(ctx, orch, id)
	if err != nil {
		return err
	}

	logger.Info("job finished", "job_id", id, "state", job.State)
	if job.State != types.JobCompleted {
		color.Red("job %s ended in state %s", id, job.State)
		return fmt.Errorf("job %s ended in state %s: %s", id, job.State, job.Error)
	}
	color.Green("job %s completed: %d records, %d errors", id, job.Progress.Completed, job.Progress.Errors)

	body, _, err := orch.GetResult(ctx, id, formatFlag)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}

	if outputPath == "" {
		fmt.Println(string(body))
		return nil
	}
	if err := os.WriteFile(outputPath, body, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(body), outputPath)
	return nil
}

func awaitTerminal(ctx context.Context, orch *orchestrator.Orchestrator, id string) (*types.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := orch.GetStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			switch job.State {
			case types.JobCompleted, types.JobFailed, types.JobCancelled:
				return job, nil
			}
		}
	}
}

func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	hosts := hostpolicy.NewRegistry(cfg, logger)
	robotsChecker := robots.NewChecker(true)
	m := metrics.New(logger)
	f := fetcher.NewHTTPFetcher(cfg, hosts, robotsChecker, m, logger)
	nz := normalizer.New(f)

	store := jobstore.NewMemStore()
	var logSink *joblog.Sink
	if cfg.Storage.LogPath != "" {
		sink, err := joblog.NewSink(cfg.Storage.LogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create job log sink: %w", err)
		}
		logSink = sink
	}

	orch := orchestrator.New(store, logSink, f, nz, cfg.Batch, logger)
	orch.SetMetrics(m)
	orch.RegisterMode("news", extract.NewComposite(extract.NewsArticleSpec, logger).Extract)
	orch.RegisterMode("sports_player", extract.NewComposite(extract.SportsPlayerSpec, logger).Extract)
	orch.RegisterMode("company_directory", extract.NewComposite(extract.CompanyDirectorySpec, logger).Extract)

	cleanup := func() {
		hosts.Close()
		_ = f.Close()
		_ = store.Close()
		if logSink != nil {
			_ = logSink.Close()
		}
	}
	return orch, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("harvester %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("HTTP:\n")
			fmt.Printf("  Deadline:           %dms\n", cfg.HTTP.DeadlineMs)
			fmt.Printf("  Max Retries:        %d\n", cfg.HTTP.MaxRetries)
			fmt.Printf("  Max Concurrency:    %d\n", cfg.HTTP.MaxConcurrency)
			fmt.Printf("  Rate Limit:         %.1f/s (burst %d)\n", cfg.HTTP.RateLimitPerSec, cfg.HTTP.RateLimitBurst)
			fmt.Printf("\nBatch:\n")
			fmt.Printf("  Max URLs:           %d\n", cfg.Batch.MaxURLs)
			fmt.Printf("  Concurrency:        %d\n", cfg.Batch.Concurrency)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("  Log Path:           %s\n", cfg.Storage.LogPath)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Port:               %d\n", cfg.API.Port)
			return nil
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
