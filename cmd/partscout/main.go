package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/partscout/partscout/adapter"
	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/history"
	"github.com/partscout/partscout/models"
	"github.com/partscout/partscout/orchestrator"
	"github.com/partscout/partscout/pipeline"
	"github.com/partscout/partscout/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	outputDefault := "output/listings.csv"
	if value, ok := config.EnvString("PARTSCOUT_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("PARTSCOUT_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	configPath := flag.String("config", "", "Path to YAML configuration file")
	query := flag.String("query", "", "Search query to run across platforms")
	platformArg := flag.String("platform", "all", "Platform to scrape: partsbay, speedmart, gearhub, or all")
	externalID := flag.String("id", "", "External listing id to refresh (requires a single platform)")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", "csv", "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = *outputFormat
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if grace, ok, err := config.EnvDuration("PARTSCOUT_SHUTDOWN_GRACE"); err != nil {
		slog.Error("invalid environment override", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		cfg.ShutdownGrace = grace
	}
	if size, ok, err := config.EnvInt("PARTSCOUT_BATCH_SIZE"); err != nil {
		slog.Error("invalid environment override", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		cfg.BatchSize = size
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	platforms, err := resolvePlatforms(cfg, *platformArg)
	if err != nil {
		slog.Error("invalid platform selection", slog.Any("error", err))
		os.Exit(1)
	}
	if *query == "" && *externalID == "" {
		slog.Error("nothing to do: pass -query or -id")
		os.Exit(1)
	}
	if *externalID != "" && len(platforms) != 1 {
		slog.Error("-id requires exactly one platform")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	store := history.NewMemoryStore()
	engine, err := history.NewEngine(store, history.AlertSinkFunc(logAlert), cfg.DedupeMaxSize)
	if err != nil {
		slog.Error("creating history engine", slog.Any("error", err))
		os.Exit(1)
	}

	p, err := pipeline.New(cfg, writer, engine)
	if err != nil {
		slog.Error("creating pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	p.Start(4)

	metrics := orchestrator.NewMetrics()
	orch, err := orchestrator.New(cfg, ratelimit.NewRegistry(cfg), p, metrics)
	if err != nil {
		slog.Error("creating orchestrator", slog.Any("error", err))
		os.Exit(1)
	}
	orch.Start()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	start := time.Now()
	listings, runErr := run(ctx, orch, platforms, *query, *externalID)

	if err := orch.Close(); err != nil {
		slog.Error("close orchestrator", slog.Any("error", err))
	}
	if err := p.Close(); err != nil {
		slog.Error("close pipeline", slog.Any("error", err))
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	processed, alerts := p.Counts()
	slog.Info("scrape finished",
		slog.Int("listings", listings),
		slog.Int64("processed", processed),
		slog.Int64("alerts", alerts),
		slog.Duration("elapsed", time.Since(start)),
		slog.Any("abandoned", orch.Abandoned()),
	)
	if runErr != nil {
		slog.Error("scrape completed with errors", slog.Any("error", runErr))
		os.Exit(1)
	}
}

func run(ctx context.Context, orch *orchestrator.Orchestrator, platforms []models.Platform, query, externalID string) (int, error) {
	if externalID != "" {
		target := models.ScrapeTarget{Platform: platforms[0], ExternalID: externalID}
		if _, err := orch.Submit(ctx, target); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var total int64
	g, gctx := errgroup.WithContext(ctx)
	results := make([]int, len(platforms))
	for i, platform := range platforms {
		i, platform := i, platform
		g.Go(func() error {
			listings, err := orch.SubmitSearch(gctx, platform, query, adapter.SearchFilters{})
			if err != nil {
				return fmt.Errorf("search %s: %w", platform, err)
			}
			results[i] = len(listings)
			return nil
		})
	}
	err := g.Wait()
	for _, n := range results {
		total += int64(n)
	}
	return int(total), err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func resolvePlatforms(cfg *config.Config, arg string) ([]models.Platform, error) {
	if arg == "all" {
		platforms := make([]models.Platform, 0, len(cfg.Platforms))
		for platform := range cfg.Platforms {
			platforms = append(platforms, platform)
		}
		return platforms, nil
	}
	var platforms []models.Platform
	for _, name := range strings.Split(arg, ",") {
		platform := models.Platform(strings.TrimSpace(name))
		if _, err := cfg.Platform(platform); err != nil {
			return nil, err
		}
		platforms = append(platforms, platform)
	}
	return platforms, nil
}

func logAlert(_ context.Context, alert models.DealAlert) error {
	attrs := []any{
		slog.String("listing", alert.ListingKey),
		slog.String("threshold", alert.ThresholdID),
		slog.String("price", alert.Price.String()),
	}
	if alert.DropPercent != nil {
		attrs = append(attrs, slog.String("drop_percent", alert.DropPercent.StringFixed(2)))
	}
	slog.Info("deal alert fired", attrs...)
	return nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler), level
}
