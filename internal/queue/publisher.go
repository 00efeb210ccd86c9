package queue

import (
	"context"
	"log/slog"

	"jobboard/internal/broker"
)

// Publisher serializes envelopes and sends them through the shared transport.
type Publisher struct {
	transport broker.Transport
	logger    *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(transport broker.Transport, logger *slog.Logger) *Publisher {
	return &Publisher{transport: transport, logger: logger}
}

// Publish sends env to queueName as a persistent JSON message. It returns
// true only if the broker accepted the message. Every failure is logged and
// reported as false; callers decide whether to alert or retry.
func (p *Publisher) Publish(ctx context.Context, queueName string, env Envelope) bool {
	logger := p.logger.With(
		"queue", queueName,
		"job_id", env.ID,
		"job_type", string(env.Type),
		"retries", env.Retries,
	)

	if !Known(queueName) {
		logger.ErrorContext(ctx, "publish to unregistered queue")
		return false
	}

	body, err := env.Encode()
	if err != nil {
		logger.ErrorContext(ctx, "failed to marshal job envelope", "error", err.Error())
		return false
	}

	return p.send(ctx, logger, queueName, env.ID, body)
}

// publishDeadLetter sends a dead-letter record to DeadLetterQueue.
func (p *Publisher) publishDeadLetter(ctx context.Context, dl DeadLetter, id string) bool {
	logger := p.logger.With("queue", DeadLetterQueue, "job_id", id, "source_queue", dl.Queue)
	body, err := marshalJSON(dl)
	if err != nil {
		logger.ErrorContext(ctx, "failed to marshal dead letter", "error", err.Error())
		return false
	}
	return p.send(ctx, logger, DeadLetterQueue, id, body)
}

func (p *Publisher) send(ctx context.Context, logger *slog.Logger, queueName, id string, body []byte) bool {
	ok, err := p.transport.Publish(ctx, queueName, broker.Message{
		Body:        body,
		MessageID:   id,
		ContentType: "application/json",
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish job", "error", err.Error())
		return false
	}
	if !ok {
		logger.WarnContext(ctx, "broker did not accept job")
		return false
	}
	logger.DebugContext(ctx, "job published")
	return true
}
