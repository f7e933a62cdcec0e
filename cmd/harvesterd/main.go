// Command harvesterd runs the Job Orchestrator behind the HTTP surface
// defined in internal/api, plus a Prometheus metrics endpoint, as a
// long-running daemon. It is the service counterpart to the one-shot
// cmd/harvester CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrapeforge/harvester/internal/api"
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
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvesterd",
		Short: "Harvesterd — long-running Job Orchestrator daemon",
		Long: `Harvesterd exposes the Job Orchestrator over HTTP (internal/api) and a
Prometheus metrics endpoint, running jobs to completion in the background
until asked to shut down.`,
		RunE: runDaemon,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hosts := hostpolicy.NewRegistry(cfg, logger)
	defer hosts.Close()

	robotsChecker := robots.NewChecker(true)
	m := metrics.New(logger)

	f := fetcher.NewHTTPFetcher(cfg, hosts, robotsChecker, m, logger)
	defer f.Close()

	nz := normalizer.New(f)

	store, err := newStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("build job store: %w", err)
	}
	defer store.Close()

	var logSink *joblog.Sink
	if cfg.Storage.LogPath != "" {
		logSink, err = joblog.NewSink(cfg.Storage.LogPath)
		if err != nil {
			return fmt.Errorf("build job log sink: %w", err)
		}
		defer logSink.Close()
	}

	orch := orchestrator.New(store, logSink, f, nz, cfg.Batch, logger)
	orch.SetMetrics(m)
	orch.RegisterMode("news", extract.NewComposite(extract.NewsArticleSpec, logger).Extract)
	orch.RegisterMode("sports_player", extract.NewComposite(extract.SportsPlayerSpec, logger).Extract)
	orch.RegisterMode("company_directory", extract.NewComposite(extract.CompanyDirectorySpec, logger).Extract)

	srv := api.NewServer(cfg.API.Port, orch, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start API server: %w", err)
	}
	logger.Info("harvesterd ready", "api_port", cfg.API.Port, "metrics_enabled", cfg.Metrics.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig)
	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight handlers drain
	return nil
}

func newStore(cfg *config.Config, logger *slog.Logger) (jobstore.Store, error) {
	if cfg.Storage.Type != "mongo" {
		return jobstore.NewMemStore(), nil
	}
	mongoStore, err := jobstore.NewMongoStore(cfg.Storage.MongoURI, cfg.Storage.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect mongo store: %w", err)
	}
	return mongoStore, nil
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
