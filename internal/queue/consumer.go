package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobboard/internal/broker"
	"jobboard/internal/metrics"
	"jobboard/internal/types"
)

// settleTimeout bounds the republish and dead-letter publishes that follow a
// failed attempt. They run detached from the consumer context so a shutdown
// does not lose the retry.
const settleTimeout = 10 * time.Second

// Handler processes one job. Returning nil acks the message; any error is a
// failed attempt.
type Handler func(ctx context.Context, env Envelope) error

// ConsumerConfig controls failure handling.
type ConsumerConfig struct {
	// MaxAttempts bounds total attempts per job before it is dead-lettered.
	// Zero disables the bound: failed jobs are nacked with requeue forever.
	MaxAttempts int
	// HandlerTimeout bounds one attempt. A timed-out job is dead-lettered.
	// Zero disables the timeout.
	HandlerTimeout time.Duration
}

// Consumer subscribes handlers to queues.
type Consumer struct {
	transport broker.Transport
	publisher *Publisher
	cfg       ConsumerConfig
	metrics   metrics.JobMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewConsumer creates a Consumer. The publisher is used for retries and
// dead letters.
func NewConsumer(transport broker.Transport, publisher *Publisher, cfg ConsumerConfig, m metrics.JobMetrics, logger *slog.Logger) *Consumer {
	if m == nil {
		m = metrics.NoopJobMetrics{}
	}
	return &Consumer{
		transport: transport,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Consume subscribes h to queueName with manual acknowledgment. Setup errors
// are returned. Deliveries are handled one at a time; the returned
// Subscription reports when the stream ends.
func (c *Consumer) Consume(ctx context.Context, queueName string, h Handler) (*Subscription, error) {
	if !Known(queueName) {
		return nil, unknownQueue(queueName)
	}

	runCtx, abort := context.WithCancel(ctx)
	tag := fmt.Sprintf("%s.%s", strings.TrimSuffix(queueName, "_queue"), uuid.NewString()[:8])
	deliveries, err := c.transport.Consume(runCtx, queueName, tag)
	if err != nil {
		abort()
		return nil, fmt.Errorf("subscribe to %s: %w", queueName, err)
	}

	sub := &Subscription{
		queue:     queueName,
		tag:       tag,
		transport: c.transport,
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		abort:     abort,
	}
	c.logger.Info("subscribed", "queue", queueName, "consumer_tag", tag)

	go c.run(runCtx, sub, deliveries, h)
	return sub, nil
}

func (c *Consumer) run(ctx context.Context, sub *Subscription, deliveries <-chan broker.Delivery, h Handler) {
	defer close(sub.done)
	for {
		select {
		case <-sub.stopping:
			return
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil && !sub.stopRequested() {
					c.logger.Warn("delivery stream closed by broker", "queue", sub.queue, "consumer_tag", sub.tag)
					sub.setErr(ErrSubscriptionClosed)
				}
				return
			}
			c.handle(ctx, sub.queue, d, h)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, queueName string, d broker.Delivery, h Handler) {
	logger := c.logger.With("queue", queueName, "message_id", d.MessageID, "redelivered", d.Redelivered)

	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		logger.Error("malformed job envelope", "error", err.Error())
		c.deadLetter(ctx, logger, queueName, d, "", ReasonMalformed, err, 0)
		return
	}

	logger = logger.With("job_id", env.ID, "job_type", string(env.Type), "retries", env.Retries)
	if !env.CreatedAt.IsZero() {
		c.metrics.RecordQueueLag(ctx, queueName, c.now().Sub(env.CreatedAt))
	}

	start := c.now()
	err = c.invoke(ctx, h, env)
	c.metrics.RecordLatency(ctx, queueName, c.now().Sub(start))

	if err == nil {
		c.settle(ctx, logger, queueName, d.Ack, metrics.OutcomeAcked)
		logger.Info("job completed", "duration_ms", c.now().Sub(start).Milliseconds())
		return
	}

	attempts := env.Retries + 1
	switch {
	case ctx.Err() != nil:
		logger.Warn("job interrupted by shutdown, requeueing", "error", err.Error())
		c.settle(ctx, logger, queueName, func() error { return d.Nack(true) }, metrics.OutcomeRequeued)

	case types.CodeOf(err) == types.ErrCodeHandlerTimeout:
		logger.Error("job timed out", "timeout", c.cfg.HandlerTimeout.String())
		c.deadLetter(ctx, logger, queueName, d, env.ID, ReasonTimeout, err, attempts)

	case !types.IsRetryable(err):
		logger.Error("job failed permanently", "error", err.Error(), "error_code", string(types.CodeOf(err)))
		c.deadLetter(ctx, logger, queueName, d, env.ID, ReasonRejected, err, attempts)

	case c.cfg.MaxAttempts <= 0:
		logger.Warn("job failed, requeueing", "error", err.Error())
		c.settle(ctx, logger, queueName, func() error { return d.Nack(true) }, metrics.OutcomeRequeued)

	case attempts >= c.cfg.MaxAttempts:
		logger.Error("job failed on final attempt", "error", err.Error(), "attempts", attempts)
		c.deadLetter(ctx, logger, queueName, d, env.ID, ReasonMaxAttempts, err, attempts)

	default:
		c.retry(ctx, logger, queueName, d, env, err)
	}
}

// invoke runs h with the job id and timeout applied to its context. A panic
// is returned as an error. When the timeout fires, invoke returns an
// ErrCodeHandlerTimeout error without waiting for a handler that ignores
// cancellation.
func (c *Consumer) invoke(ctx context.Context, h Handler, env Envelope) error {
	hctx := types.WithJobID(ctx, env.ID)
	if c.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, c.cfg.HandlerTimeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- types.NewAppError(types.ErrCodeInternalUnexpected,
					fmt.Sprintf("handler panic: %v", r), nil).WithDetails(map[string]any{"stack": string(debug.Stack())})
			}
		}()
		result <- h(hctx, env)
	}()

	var err error
	select {
	case err = <-result:
	case <-hctx.Done():
		select {
		case err = <-result:
		default:
			err = hctx.Err()
		}
	}

	if err != nil && ctx.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeHandlerTimeout, "handler exceeded timeout", err)
	}
	return err
}

// retry republishes env with Retries incremented, then acks the original.
// If the republish fails the original is nacked with requeue instead.
func (c *Consumer) retry(ctx context.Context, logger *slog.Logger, queueName string, d broker.Delivery, env Envelope, cause error) {
	next := env
	next.Retries++

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if !c.publisher.Publish(pubCtx, queueName, next) {
		logger.Warn("retry publish failed, requeueing original", "error", cause.Error())
		c.settle(ctx, logger, queueName, func() error { return d.Nack(true) }, metrics.OutcomeRequeued)
		return
	}
	logger.Warn("job failed, retry scheduled", "error", cause.Error(), "next_retries", next.Retries)
	c.settle(ctx, logger, queueName, d.Ack, metrics.OutcomeRetried)
}

// deadLetter publishes a DeadLetter record and acks the original. If the
// dead-letter publish fails, a decodable job is requeued so it is not lost;
// a malformed body is dropped.
func (c *Consumer) deadLetter(ctx context.Context, logger *slog.Logger, queueName string, d broker.Delivery, jobID string, reason DeadLetterReason, cause error, attempts int) {
	if jobID == "" {
		jobID = d.MessageID
	}
	if jobID == "" {
		jobID = NewJobID("dead", c.now())
	}
	dl := DeadLetter{
		Queue:    queueName,
		Envelope: rawOrString(d.Body),
		Reason:   reason,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: c.now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if c.publisher.publishDeadLetter(pubCtx, dl, jobID) {
		logger.Warn("job dead-lettered", "reason", string(reason), "attempts", attempts)
		c.settle(ctx, logger, queueName, d.Ack, metrics.OutcomeDeadLettered)
		return
	}

	if reason == ReasonMalformed {
		logger.Error("dead-letter publish failed, dropping malformed message")
		c.settle(ctx, logger, queueName, func() error { return d.Nack(false) }, metrics.OutcomeDeadLettered)
		return
	}
	logger.Error("dead-letter publish failed, requeueing", "reason", string(reason))
	c.settle(ctx, logger, queueName, func() error { return d.Nack(true) }, metrics.OutcomeRequeued)
}

func (c *Consumer) settle(ctx context.Context, logger *slog.Logger, queueName string, fn func() error, outcome metrics.Outcome) {
	if err := fn(); err != nil {
		logger.Error("failed to settle delivery", "outcome", string(outcome), "error", err.Error())
		return
	}
	c.metrics.RecordOutcome(context.WithoutCancel(ctx), queueName, outcome)
}
