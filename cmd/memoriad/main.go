// memoriad runs the memoria optimization loop as a standalone process:
// it hosts the in-process memory store, keeps the optimizer ticking, and
// exposes Prometheus metrics.
//
// Usage:
//
//	memoriad                          # defaults
//	memoriad --config memoria.yaml    # with a config file
//	memoriad --metrics-addr :9105     # metrics listen address
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memoria-ai/memoria/cache"
	"github.com/memoria-ai/memoria/config"
	"github.com/memoria-ai/memoria/internal/metrics"
	"github.com/memoria-ai/memoria/memory"
)

func main() {
	fs := flag.NewFlagSet("memoriad", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	metricsAddr := fs.String("metrics-addr", ":9105", "Prometheus metrics listen address")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Fatal("memoriad failed", zap.Error(err))
	}
}

func run(cfg config.Config, metricsAddr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("memoria", registry)

	tracker := memory.NewAccessTracker(memory.AccessTrackerConfig{})
	store := memory.NewStore(memory.StoreConfig{
		MaxEntries: cfg.Store.MaxEntries,
		Dimension:  cfg.Store.Dimension,
		Tracker:    tracker,
		Collector:  collector,
	}, logger)

	optimizer := memory.NewOptimizer(
		store,
		tracker,
		memory.NewDeduplicator(logger),
		memory.NewCompactor(memory.CompactionConfig{
			MaxTextLength:    cfg.Compaction.MaxTextLength,
			DecimalPrecision: cfg.Compaction.DecimalPrecision,
		}, logger),
		collector,
		memory.OptimizerConfig{
			TargetEntries:  cfg.Optimizer.TargetEntries,
			Interval:       cfg.Optimizer.Interval,
			CompactionHour: cfg.Optimizer.CompactionHour,
		},
		logger,
	)

	if err := optimizer.Start(ctx); err != nil {
		return fmt.Errorf("start optimizer: %w", err)
	}
	defer optimizer.Stop()

	if cfg.Reaper.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Reaper.RedisAddr})
		defer client.Close()
		go reapLoop(ctx, cache.NewRedisCache(client, cfg.Reaper.Pattern, logger), cfg.Reaper, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	server := &http.Server{Addr: metricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		errCh <- server.ListenAndServe()
	}()

	logger.Info("memoriad started",
		zap.Int("max_entries", cfg.Store.MaxEntries),
		zap.Int("target_entries", cfg.Optimizer.TargetEntries),
		zap.Duration("interval", cfg.Optimizer.Interval),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown", zap.Error(err))
	}

	logger.Info("memoriad stopped")
	return nil
}

// reapLoop trims the configured redis keyspace on a timer until ctx ends.
func reapLoop(ctx context.Context, c cache.Cache, cfg config.ReaperConfig, logger *zap.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := cache.Reap(ctx, c, cache.Options{
				MaxAge:   cfg.MaxAge,
				MaxItems: cfg.MaxItems,
			}, logger)
			if err != nil {
				logger.Warn("cache reap failed", zap.Error(err))
				continue
			}
			logger.Info("cache reaped",
				zap.Int("removed", result.Removed),
				zap.Int("after", result.After),
			)
		case <-ctx.Done():
			return
		}
	}
}
