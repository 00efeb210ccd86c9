package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"jobboard/internal/types"
)

// SQSAPI is the subset of *sqs.Client used by SQSTransport.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// jobIDAttribute carries the job id as an SQS message attribute.
const jobIDAttribute = "JobId"

// settleTimeout bounds DeleteMessage/ChangeMessageVisibility calls, which run
// detached from the consumer context.
const settleTimeout = 10 * time.Second

// maxHeartbeat caps how often held messages have their visibility extended.
const maxHeartbeat = 10 * time.Second

// SQSConfig configures an SQSTransport.
type SQSConfig struct {
	// Prefix is prepended to every queue name, e.g. "prod-".
	Prefix string
	Queues []string
	// Prefetch is the maximum number of messages per ReceiveMessage call.
	Prefetch int
	// VisibilityTimeout should exceed the handler timeout by more than the
	// heartbeat (at most 10s) so a slow job is not redelivered while still
	// running. Received messages waiting behind a running job are kept
	// invisible by the heartbeat, so each starts with nearly a full timeout.
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// SQSTransport implements Transport on Amazon SQS. Ack deletes the message,
// Nack with requeue makes it visible again immediately, and Nack without
// requeue deletes it. Standard queues are not strictly FIFO.
type SQSTransport struct {
	client    SQSAPI
	cfg       SQSConfig
	logger    *slog.Logger
	heartbeat time.Duration

	mu        sync.Mutex
	urls      map[string]string
	consumers map[string]*sqsConsumer
	closed    bool
}

type sqsConsumer struct {
	queue  string
	cancel context.CancelFunc
}

var _ Transport = (*SQSTransport)(nil)

// NewSQSTransport creates a transport. Queues are created on first use.
func NewSQSTransport(client SQSAPI, cfg SQSConfig, logger *slog.Logger) *SQSTransport {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Prefetch > 10 {
		cfg.Prefetch = 10
	}
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &SQSTransport{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		heartbeat: min(maxHeartbeat, cfg.VisibilityTimeout/2),
		consumers: make(map[string]*sqsConsumer),
	}
}

// queueURL returns the URL for queue, creating every configured queue on the
// first call. CreateQueue is idempotent for identical attributes.
func (t *SQSTransport) queueURL(ctx context.Context, queue string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}
	if t.urls == nil {
		urls := make(map[string]string, len(t.cfg.Queues))
		for _, q := range t.cfg.Queues {
			out, err := t.client.CreateQueue(ctx, &sqs.CreateQueueInput{
				QueueName: aws.String(t.cfg.Prefix + q),
				Attributes: map[string]string{
					string(sqstypes.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(t.cfg.VisibilityTimeout.Seconds())),
				},
			})
			if err != nil {
				return "", types.NewAppError(types.ErrCodeBrokerUnavailable, fmt.Sprintf("failed to create queue %s", q), err)
			}
			urls[q] = aws.ToString(out.QueueUrl)
		}
		t.urls = urls
		t.logger.Info("sqs queues ready", "count", len(urls))
	}

	url, ok := t.urls[queue]
	if !ok {
		return "", fmt.Errorf("broker: queue %q not declared", queue)
	}
	return url, nil
}

// Publish sends msg to queue. SQS persists every accepted message.
func (t *SQSTransport) Publish(ctx context.Context, queue string, msg Message) (bool, error) {
	url, err := t.queueURL(ctx, queue)
	if err != nil {
		return false, err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(msg.Body)),
	}
	if msg.MessageID != "" {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			jobIDAttribute: {DataType: aws.String("String"), StringValue: aws.String(msg.MessageID)},
		}
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return false, fmt.Errorf("send to %s: %w", queue, err)
	}
	return true, nil
}

// Consume long-polls queue until the tag is cancelled or ctx ends.
func (t *SQSTransport) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	url, err := t.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if _, exists := t.consumers[tag]; exists {
		t.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("broker: consumer tag %q already in use", tag)
	}
	c := &sqsConsumer{queue: queue, cancel: cancel}
	t.consumers[tag] = c
	t.mu.Unlock()

	out := make(chan Delivery)
	go t.poll(consumerCtx, tag, c, url, out)
	return out, nil
}

func (t *SQSTransport) poll(ctx context.Context, tag string, c *sqsConsumer, url string, out chan<- Delivery) {
	defer close(out)
	defer t.removeConsumer(tag, c)

	heartbeat := time.NewTicker(t.heartbeat)
	defer heartbeat.Stop()

	backoff := time.Second
	for {
		resp, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(url),
			MaxNumberOfMessages:         int32(t.cfg.Prefetch),
			WaitTimeSeconds:             int32(t.cfg.WaitTime.Seconds()),
			MessageAttributeNames:       []string{jobIDAttribute},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("sqs receive failed", "queue_url", url, "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		// held are received but not yet handed out. The consumer takes one at
		// a time; until it does, their visibility is extended each heartbeat.
		held := resp.Messages
		heartbeat.Reset(t.heartbeat)
		for len(held) > 0 {
			d := t.wrap(url, held[0])
			for sent := false; !sent; {
				select {
				case out <- d:
					sent = true
				case <-heartbeat.C:
					t.extend(url, held)
				case <-ctx.Done():
					for _, rest := range held {
						t.release(url, rest.ReceiptHandle)
					}
					return
				}
			}
			held = held[1:]
		}
	}
}

// extend restarts the visibility timeout of held messages.
func (t *SQSTransport) extend(url string, held []sqstypes.Message) {
	seconds := int32(t.cfg.VisibilityTimeout.Seconds())
	for _, m := range held {
		if err := t.changeVisibility(url, m.ReceiptHandle, seconds); err != nil {
			t.logger.Warn("sqs visibility extension failed", "queue_url", url, "error", err.Error())
		}
	}
}

func (t *SQSTransport) wrap(url string, m sqstypes.Message) Delivery {
	id := aws.ToString(m.MessageId)
	if attr, ok := m.MessageAttributes[jobIDAttribute]; ok && attr.StringValue != nil {
		id = *attr.StringValue
	}
	redelivered := false
	if n, err := strconv.Atoi(m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		redelivered = n > 1
	}
	handle := m.ReceiptHandle

	return NewDelivery([]byte(aws.ToString(m.Body)), id, redelivered,
		func() error { return t.delete(url, handle) },
		func(requeue bool) error {
			if requeue {
				return t.changeVisibility(url, handle, 0)
			}
			return t.delete(url, handle)
		},
	)
}

func (t *SQSTransport) delete(url string, handle *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	_, err := t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: aws.String(url), ReceiptHandle: handle})
	return err
}

func (t *SQSTransport) changeVisibility(url string, handle *string, seconds int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	_, err := t.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     handle,
		VisibilityTimeout: seconds,
	})
	return err
}

// release returns a received but unhandled message to the queue.
func (t *SQSTransport) release(url string, handle *string) {
	if err := t.changeVisibility(url, handle, 0); err != nil {
		t.logger.Warn("sqs release failed", "queue_url", url, "error", err.Error())
	}
}

func (t *SQSTransport) removeConsumer(tag string, c *sqsConsumer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumers[tag] == c {
		delete(t.consumers, tag)
	}
	c.cancel()
}

// Cancel stops the poller for tag.
func (t *SQSTransport) Cancel(tag string) error {
	t.mu.Lock()
	c, ok := t.consumers[tag]
	delete(t.consumers, tag)
	t.mu.Unlock()
	if ok {
		c.cancel()
	}
	return nil
}

// Inspect reports the approximate visible message count. SQS has no consumer
// registry, so ConsumerCount counts pollers in this process.
func (t *SQSTransport) Inspect(ctx context.Context, queue string) (QueueInfo, error) {
	url, err := t.queueURL(ctx, queue)
	if err != nil {
		return QueueInfo{}, err
	}
	out, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return QueueInfo{}, fmt.Errorf("inspect %s: %w", queue, err)
	}

	count, _ := strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])

	t.mu.Lock()
	consumers := 0
	for _, c := range t.consumers {
		if c.queue == queue {
			consumers++
		}
	}
	t.mu.Unlock()

	return QueueInfo{Queue: queue, MessageCount: count, ConsumerCount: consumers}, nil
}

// Purge deletes all messages in queue. SQS does not report how many were
// removed, so the approximate count read just before the purge is returned.
func (t *SQSTransport) Purge(ctx context.Context, queue string) (int, error) {
	info, err := t.Inspect(ctx, queue)
	if err != nil {
		return 0, err
	}
	url, err := t.queueURL(ctx, queue)
	if err != nil {
		return 0, err
	}
	if _, err := t.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return 0, fmt.Errorf("purge %s: %w", queue, err)
	}
	return info.MessageCount, nil
}

// Ping resolves the queue URLs, which requires a reachable endpoint.
func (t *SQSTransport) Ping(ctx context.Context) error {
	if len(t.cfg.Queues) == 0 {
		return nil
	}
	_, err := t.queueURL(ctx, t.cfg.Queues[0])
	return err
}

// Close cancels every poller.
func (t *SQSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for tag, c := range t.consumers {
		c.cancel()
		delete(t.consumers, tag)
	}
	return nil
}
