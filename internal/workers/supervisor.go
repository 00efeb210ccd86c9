package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// WorkerName derives a worker's name from its queue, e.g. email_queue ->
// email-worker.
func WorkerName(queueName string) string {
	return strings.ReplaceAll(strings.TrimSuffix(queueName, "_queue"), "_", "-") + "-worker"
}

// Build creates one Worker per queue using the handler from h.
func Build(h *Handlers, consumer Consumer, opts Options, logger *slog.Logger, queues ...string) ([]*Worker, error) {
	ws := make([]*Worker, 0, len(queues))
	for _, q := range queues {
		handler, err := h.ForQueue(q)
		if err != nil {
			return nil, err
		}
		ws = append(ws, NewWorker(WorkerName(q), q, handler, consumer, opts, logger))
	}
	return ws, nil
}

// Supervisor runs a set of workers as one unit.
type Supervisor struct {
	workers []*Worker
	opts    Options
	logger  *slog.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(workers []*Worker, opts Options, logger *slog.Logger) *Supervisor {
	return &Supervisor{workers: workers, opts: opts, logger: logger}
}

// Start subscribes every worker concurrently. If any subscription fails,
// the ones that succeeded are stopped and the first error is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	started := make([]bool, len(s.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range s.workers {
		g.Go(func() error {
			if err := w.Start(gctx); err != nil {
				return fmt.Errorf("start %s: %w", w.Name, err)
			}
			started[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var running []*Worker
		for i, ok := range started {
			if ok {
				running = append(running, s.workers[i])
			}
		}
		s.logger.Error("worker startup failed", "error", err.Error(), "stopping", len(running))
		_ = s.stop(running)
		return err
	}

	s.logger.Info("all workers started", "count", len(s.workers))
	return nil
}

// Wait serves every worker until ctx ends, then drains in-flight jobs for up
// to ShutdownTimeout. A worker whose job outlives the drain is reported in
// the returned error; its message is redelivered by the broker.
func (s *Supervisor) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		g.Go(func() error { return w.Serve(gctx) })
	}
	serveErr := g.Wait()

	s.logger.Info("draining workers", "timeout", s.opts.ShutdownTimeout.String())
	return errors.Join(serveErr, s.stop(s.workers))
}

// Run starts every worker and then waits.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

func (s *Supervisor) stop(ws []*Worker) error {
	ctx, cancel := drainContext(s.opts.ShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, w := range ws {
		g.Go(func() error {
			if err := w.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s: %w", w.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
