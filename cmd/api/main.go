package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/api/handlers"
	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/app"
	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a TOML config file (or set MONERA_CONFIG)")
		port       = flag.String("port", "", "HTTP server port, overrides api.port")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	log := logger.NewFromConfig(logger.Config{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})
	ctx := logger.WithContext(context.Background(), log)

	// Background work outlives individual requests but stops on shutdown.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	a, err := app.New(workerCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}

	scheduler, err := a.Scheduler(workerCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure scheduler")
	}
	scheduler.Start()

	deps := handlers.Deps{
		Source:       a.Coordinator,
		Publisher:    a.Publisher(),
		JobStore:     a.JobStore,
		Materializer: a.Materializer,
		Importer:     a.Importer,
		Migration:    a.Coordinator,
	}
	if a.Engine != nil {
		deps.Sync = a.Engine
	}
	mux := handlers.NewRouter(deps, log)

	// Apply middleware
	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS(cfg.API.CORSOrigins...),
	)

	// Create HTTP server. A request may run a whole sync.
	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.RunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let a running scheduled task finish before the backends close.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduled task still running at shutdown")
	}
	cancelWorker()

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
