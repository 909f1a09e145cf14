package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexusai/promptgate/internal/api"
	"github.com/nexusai/promptgate/internal/config"
	"github.com/nexusai/promptgate/internal/logging"
	"github.com/nexusai/promptgate/internal/model"
	"github.com/nexusai/promptgate/internal/qa"
	"github.com/nexusai/promptgate/internal/store"
	"github.com/nexusai/promptgate/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Open SQLite.
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize store.
	s, err := store.New(db)
	if err != nil {
		logger.Error("init store", "error", err)
		os.Exit(1)
	}

	// Build the quality gate.
	validator := qa.NewValidator(
		cfg.MinArtifactBytes,
		cfg.RequireReadmeInZip,
		cfg.PromptCountTolerance,
		cfg.ArtifactFetchTimeout,
	)
	evaluator := qa.NewEvaluator(validator)
	if len(cfg.BannedPhrases) > 0 {
		evaluator.BannedPhrases = cfg.BannedPhrases
	}

	sweeper := sweep.New(s, evaluator, sweep.Config{
		ScanStatuses:    cfg.ScanStatuses,
		BatchSize:       cfg.BatchSize,
		Interval:        cfg.SweepInterval,
		ThrottleWindow:  cfg.ThrottleWindow,
		WriteStatus:     cfg.WriteStatus,
		StatusPassed:    cfg.StatusPassed,
		StatusFailed:    cfg.StatusFailed,
		DuplicateWeight: evaluator.Weights.For(model.ReasonDuplicateConcept),
	}, logger.With("component", "sweep"))

	// Start the sweeper in the background: one immediate sweep, then ticks.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// Start API server.
	srv := api.New(s, sweeper, cfg.CORSOrigin)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down...")
		cancel()
		httpServer.Shutdown(context.Background())
	}()

	fmt.Printf("promptgate server listening on http://localhost:%s\n", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
