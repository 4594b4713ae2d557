package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batch-orchestrator/api/rest/routes"
	"batch-orchestrator/config"
	"batch-orchestrator/core/events"
	"batch-orchestrator/core/runner"
	"batch-orchestrator/core/store"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	st := store.New()
	hub := events.NewHub(logger)
	st.SetNotifier(hub.BroadcastJob)
	go hub.Run(ctx)

	jobRunner := runner.New(logger, st, runner.Config{
		MinDuration: cfg.MinDuration,
		MaxDuration: cfg.MaxDuration,
		FailureRate: cfg.FailureRate,
	})
	jobRunner.Start(ctx)

	r := mux.NewRouter()
	routes.SetupRoutes(r, logger, st, jobRunner, hub)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: cors.AllowAll().Handler(r),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "port", cfg.ServerPort,
			"min_duration", cfg.MinDuration, "max_duration", cfg.MaxDuration,
			"failure_rate", cfg.FailureRate)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	jobRunner.Wait()
	logger.Info("server exited")
	return nil
}
