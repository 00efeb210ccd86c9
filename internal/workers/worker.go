package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"jobboard/internal/queue"
)

// Consumer subscribes handlers to queues. Satisfied by *queue.Consumer.
type Consumer interface {
	Consume(ctx context.Context, queueName string, h queue.Handler) (*queue.Subscription, error)
}

// Options tune worker lifecycle.
type Options struct {
	ResubscribeDelay time.Duration
	ShutdownTimeout  time.Duration
}

// Worker is one handler bound to exactly one queue.
type Worker struct {
	Name    string
	Queue   string
	Handler queue.Handler

	consumer Consumer
	opts     Options
	logger   *slog.Logger

	mu  sync.Mutex
	sub *queue.Subscription
}

// NewWorker creates a Worker.
func NewWorker(name, queueName string, h queue.Handler, consumer Consumer, opts Options, logger *slog.Logger) *Worker {
	return &Worker{
		Name:     name,
		Queue:    queueName,
		Handler:  h,
		consumer: consumer,
		opts:     opts,
		logger:   logger.With("worker", name, "queue", queueName),
	}
}

// Start subscribes the worker. The subscription outlives ctx's cancellation
// so that Stop can drain the in-flight job; ctx values are kept.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.consumer.Consume(context.WithoutCancel(ctx), w.Queue, w.Handler)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	w.logger.Info("worker started")
	return nil
}

func (w *Worker) current() *queue.Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub
}

// Serve blocks until ctx ends or the subscription is stopped. When the broker
// closes the delivery stream, Serve resubscribes after ResubscribeDelay and
// keeps trying until it succeeds or ctx ends.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		sub := w.current()
		if sub == nil {
			return errors.New("workers: Serve called before Start")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
		}

		if !errors.Is(sub.Err(), queue.ErrSubscriptionClosed) {
			return nil
		}
		w.logger.Warn("subscription lost, resubscribing", "delay", w.opts.ResubscribeDelay.String())

		for {
			if !sleepCtx(ctx, w.opts.ResubscribeDelay) {
				return nil
			}
			err := w.Start(ctx)
			if err == nil {
				break
			}
			w.logger.Error("resubscribe failed", "error", err.Error())
		}
	}
}

// Stop cancels the subscription and waits for the in-flight job.
func (w *Worker) Stop(ctx context.Context) error {
	sub := w.current()
	if sub == nil {
		return nil
	}
	err := sub.Stop(ctx)
	if err != nil {
		w.logger.Warn("worker stop timed out, in-flight job will be redelivered", "error", err.Error())
		return err
	}
	w.logger.Info("worker stopped")
	return nil
}

// Run starts the worker, serves until ctx ends, then drains for up to
// ShutdownTimeout. Used by the single-worker binaries.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	if err := w.Serve(ctx); err != nil {
		return err
	}
	stopCtx, cancel := drainContext(w.opts.ShutdownTimeout)
	defer cancel()
	return w.Stop(stopCtx)
}

// drainContext bounds a shutdown drain. Zero waits indefinitely.
func drainContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
