// Package main provides the dispatcher worker entry point for the favorites indexer.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faveindex/internal/app"
	"github.com/faveindex/internal/config"
	"github.com/faveindex/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)
	logger.Info("Dispatcher worker starting")

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := app.New(initCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize dependencies")
	}
	defer deps.Close()

	dispatcher, err := worker.NewDispatcher(worker.DispatcherConfig{
		Interval:    cfg.Dispatcher.Interval,
		Polls:       cfg.Dispatcher.Polls,
		Concurrency: cfg.Dispatcher.Concurrency,
	}, deps.Queue, deps.Users, deps.IndexingService())
	if err != nil {
		logger.WithError(err).Fatal("Failed to create dispatcher")
	}

	if err := dispatcher.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start dispatcher")
	}

	logger.WithFields(map[string]interface{}{
		"interval":    cfg.Dispatcher.Interval.String(),
		"polls":       cfg.Dispatcher.Polls,
		"concurrency": cfg.Dispatcher.Concurrency,
	}).Info("Dispatcher started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutdown signal received, stopping dispatcher...")

	// in-flight runs get this long to finish before their context is cancelled;
	// cancelled runs still release their locks
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	stopErr := dispatcher.Stop(shutdownCtx)
	status := dispatcher.GetStatus()
	if stopErr != nil {
		logger.WithError(stopErr).WithField("in_flight", status.InFlight).Warn("Dispatcher stopped with runs still in flight")
	}

	logger.WithFields(map[string]interface{}{
		"launched":      status.Launched,
		"skipped_locks": status.SkippedLocks,
	}).Info("Dispatcher stopped. Goodbye!")
}
