package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/app"
	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
)

// The worker runs the periodic recurring materialization and cloud sync
// without serving HTTP.
func main() {
	configPath := flag.String("config", "", "Path to a TOML config file (or set MONERA_CONFIG)")
	runNow := flag.Bool("now", false, "Run materialization and sync once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.Config{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler, err := a.Scheduler(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure scheduler")
	}
	if len(scheduler.Entries()) == 0 {
		log.Warn().Msg("No scheduled tasks configured")
	}

	if *runNow {
		a.Materialize(ctx, time.Now())
		a.Sync(ctx)
	}
	scheduler.Start()

	log.Info().Int("tasks", len(scheduler.Entries())).Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduled task still running at shutdown")
	}

	// Cancel context to stop workers
	cancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
