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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/use-agent/contextpool/api"
	"github.com/use-agent/contextpool/cache"
	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/config"
	"github.com/use-agent/contextpool/driver"
	"github.com/use-agent/contextpool/jobqueue"
	"github.com/use-agent/contextpool/metrics"
	"github.com/use-agent/contextpool/pool"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("contextpoold starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxContexts", cfg.Pool.MaxContexts,
	)

	// ── 3. Build the driver and start the supervisor (launches the
	//        shared browser process) ────────────────────────────────
	drv := driver.New(cfg.Browser.BrowserBin, cfg.Browser.NoSandbox, cfg.Browser.BlockedResourceTypes)
	sup := pool.New(cfg.Pool.ToPoolConfig(), cfg.Browser.ToPoolBrowserConfig(), drv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := sup.Start(ctx)
	cancel()
	if err != nil {
		slog.Error("failed to start pool", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		sup.Stop(stopCtx)
	}()

	// ── 4. Initialise cleaner and cache ─────────────────────────────
	cl := cleaner.NewCleaner()
	cc := cache.New(cfg.Cache.MaxEntries)

	// ── 5. Initialise metrics ────────────────────────────────────────
	var mc *metrics.Collector
	if cfg.Metrics.Enabled {
		mc = metrics.New(prometheus.DefaultRegisterer)
		sup.Registry().SetEvents(mc)
		go pollPoolMetrics(sup, mc, cfg.Pool.MaxContexts)
	}

	// ── 6. Initialise the async job queue ───────────────────────────
	jq := jobqueue.New(sup.Coordinator(), cfg.JobQueue.Workers, mc)
	jq.Start()
	defer jq.Stop()
	go pruneJobsLoop(jq, cfg.JobQueue.MaxAge)

	// ── 7. Setup router ──────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(sup, cl, cc, jq, mc, cfg, startTime)

	// ── 8. Start HTTP server ─────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ─────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// jq.Stop and sup.Stop run via defer, in that order (last deferred runs
	// first) — drain in-flight jobs, then tear down every context and the
	// shared browser process.
	slog.Info("contextpoold stopped")
}

// pollPoolMetrics refreshes the point-in-time pool gauges every few
// seconds; the registry reports evictions and recreations, and the scrape
// handler and job queue report scrape outcomes, at their own call sites
// instead.
func pollPoolMetrics(sup *pool.Supervisor, mc *metrics.Collector, maxContexts int) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		reg := sup.Registry()
		size := reg.Size()
		available := reg.AvailableCount()
		mc.SetPoolState(size, size-available, sup.Queue().Len())
	}
}

func pruneJobsLoop(jq *jobqueue.Queue, maxAge time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := jq.Prune(maxAge); n > 0 {
			slog.Debug("pruned expired jobs", "count", n)
		}
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
