// Package main provides the refresh worker entry point: the periodic
// instrument-wide history refresh plus the consumer of queued refresh jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-tracker/internal/app"
	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/job"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/market"
	"github.com/portfolio-tracker/internal/ratelimit"
	"github.com/portfolio-tracker/internal/worker"
)

func main() {
	fmt.Println("Portfolio Tracker Refresh Worker")
	log.Println("Worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := app.New(startupCtx, cfg, logger)
	cancelStartup()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	// Budget usage is logged even when the worker itself is idle
	metricsLogger, err := ratelimit.NewMetricsLogger(engine.Metrics, logger, 0, engine.BudgetConfig.WarningThreshold)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create budget metrics logger")
	}
	metricsLogger.Start(ctx)

	refreshWorker, err := worker.NewRefreshWorker(&worker.RefreshWorkerConfig{
		Refresher: engine.History,
		Calendar:  market.CalendarFor("", cfg.Market.CalendarMIC),
		Interval:  cfg.Worker.RefreshInterval,
		Period:    cfg.Worker.RefreshPeriod,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create refresh worker")
	}
	if err := refreshWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh worker")
	}
	logger.WithFields(map[string]interface{}{
		"interval": cfg.Worker.RefreshInterval.String(),
		"period":   cfg.Worker.RefreshPeriod,
		"calendar": cfg.Market.CalendarMIC,
	}).Info("Refresh worker started")

	runner := job.NewRunner(engine.Jobs, engine.History, cfg.Worker.QueuePoll)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(ctx); err != nil {
			logger.WithError(err).Error("Refresh job runner stopped")
		}
	}()

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping worker...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := refreshWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Error stopping refresh worker")
	}
	cancel()
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Refresh job runner did not stop in time")
	}
	metricsLogger.Stop()

	status := refreshWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"runs":         status.Runs,
		"skipped_days": status.SkippedDays,
		"last_run":     status.LastRunTime,
		"last_ok":      status.LastOK,
		"last_fail":    status.LastFail,
	}).Info("Worker stopped. Goodbye!")
}
