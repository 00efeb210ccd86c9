package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"jobboard/internal/config"
)

// Main runs the named worker process over queues (every work queue when
// none are given) until SIGINT or SIGTERM, and returns the exit code.
func Main(service string, queues ...string) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		return 1
	}
	logger := NewLogger(cfg.LogLevel).With(
		"service", service,
		"env", cfg.Environment,
		"build", cfg.Build,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, logger, queues...); err != nil {
		logger.Error("worker process failed", "error", err.Error())
		return 1
	}
	logger.Info("worker process stopped")
	return 0
}

// Run wires the application, starts the workers and the admin server, and
// blocks until ctx ends or either fails. Startup failures are returned
// before anything is served.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, queues ...string) error {
	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.WireWorkers(ctx); err != nil {
		return err
	}
	ws, err := a.Workers(queues...)
	if err != nil {
		return err
	}
	sup := a.Supervisor(ws)
	if err := sup.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Wait(gctx) })
	g.Go(func() error { return a.ServeAdmin(gctx) })
	return g.Wait()
}
