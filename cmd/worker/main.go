package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/logging"
	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/pipeline"
	"f1standings/notionsync/internal/scheduler"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(cfg.IsDevelopment(), cfg.LogLevel)

	log.Info().Msg("Starting F1 standings sync worker")
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Str("season", cfg.Season).
		Strs("jobs", cfg.Jobs).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := pipeline.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer cleanup()

	sched := scheduler.NewScheduler(p, cfg.SyncCron, cfg.Jobs)

	if cfg.RunOnce {
		if err := sched.RunAll(ctx); err != nil {
			log.Error().Err(err).Msg("Sync finished with errors")
			cleanup()
			os.Exit(1)
		}
		log.Info().Msg("Sync complete")
		return
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.EnableMetrics {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsPort, p)
		})
	}

	// Update system uptime metric
	startTime := time.Now()
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
				if db := p.Database(); db != nil {
					db.PoolStats()
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	if cfg.RunOnStart {
		g.Go(func() error {
			log.Info().Msg("Running initial sync...")
			if err := sched.RunAll(ctx); err != nil {
				log.Error().Err(err).Msg("Initial sync failed, continuing anyway...")
			}
			return nil
		})
	}

	if cfg.EnableScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
		log.Info().Time("next", sched.Next()).Msg("Scheduler started")
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, gracefully shutting down...")

	if cfg.EnableScheduler {
		sched.Stop()
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
	}

	log.Info().Msg("Worker shutdown complete")
}

// serveMetrics runs the Prometheus and health endpoints until ctx is done
func serveMetrics(ctx context.Context, port int, p *pipeline.Pipeline) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if db := p.Database(); db != nil {
			if err := db.Health(r.Context()); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", port).Msg("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
