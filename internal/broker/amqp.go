package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"jobboard/internal/types"
)

// amqpConnection is the subset of *amqp.Connection used by AMQPClient.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpChannel is the subset of *amqp.Channel used by AMQPClient.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueuePurge(name string, noWait bool) (int, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// dialFunc opens a broker connection. Replaced in tests.
type dialFunc func(url string) (amqpConnection, error)

type amqpConnAdapter struct {
	*amqp.Connection
}

func (a amqpConnAdapter) Channel() (amqpChannel, error) {
	ch, err := a.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnAdapter{conn}, nil
}

// AMQPConfig configures an AMQPClient.
type AMQPConfig struct {
	URL types.SecretString
	// Queues are declared durable on every new channel.
	Queues         []string
	Prefetch       int
	PublishConfirm bool
	PublishTimeout time.Duration
}

// AMQPClient owns the process-wide RabbitMQ connection and channel. Both are
// created lazily on first use, cleared when the broker closes them, and
// recreated by the next caller. All methods are safe for concurrent use.
type AMQPClient struct {
	cfg    AMQPConfig
	logger *slog.Logger
	dial   dialFunc

	mu     sync.Mutex
	conn   amqpConnection
	ch     amqpChannel
	closed bool
}

var _ Transport = (*AMQPClient)(nil)

// NewAMQPClient creates a client. No network activity happens until the first
// call that needs the broker.
func NewAMQPClient(cfg AMQPConfig, logger *slog.Logger) *AMQPClient {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &AMQPClient{
		cfg:    cfg,
		logger: logger,
		dial:   dialAMQP,
	}
}

// Connection returns the cached connection or dials a new one. Dial errors
// are returned to the caller; this layer does not retry.
func (c *AMQPClient) Connection(ctx context.Context) (amqpConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionLocked(ctx)
}

func (c *AMQPClient) connectionLocked(ctx context.Context) (amqpConnection, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := c.dial(c.cfg.URL.Unmask())
	if err != nil {
		c.logger.Error("broker connection failed", "error", err.Error())
		return nil, types.NewAppError(types.ErrCodeBrokerUnavailable, "failed to connect to broker", err)
	}

	c.conn = conn
	c.ch = nil
	c.logger.Info("broker connected")

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchConnection(conn, notify)
	return conn, nil
}

func (c *AMQPClient) watchConnection(conn amqpConnection, notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if ok && amqpErr != nil {
		c.logger.Error("broker connection error", "error", amqpErr.Error())
	} else {
		c.logger.Info("broker connection closed")
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.ch = nil
	}
	c.mu.Unlock()
}

// Channel returns the cached channel or opens a new one, applying QoS and
// confirm mode and declaring every configured queue durable. Declaration
// happens once per channel.
func (c *AMQPClient) Channel(ctx context.Context) (amqpChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelLocked(ctx)
}

func (c *AMQPClient) channelLocked(ctx context.Context) (amqpChannel, error) {
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	conn, err := c.connectionLocked(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerChannelClosed, "failed to open channel", err)
	}

	if err := c.setupChannel(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	c.ch = ch
	notify := ch.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchChannel(ch, notify)
	return ch, nil
}

func (c *AMQPClient) setupChannel(ch amqpChannel) error {
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return types.NewAppError(types.ErrCodeBrokerChannelClosed, "failed to set prefetch", err)
	}
	if c.cfg.PublishConfirm {
		if err := ch.Confirm(false); err != nil {
			return types.NewAppError(types.ErrCodeBrokerChannelClosed, "failed to enable publisher confirms", err)
		}
	}
	for _, q := range c.cfg.Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return types.NewAppError(types.ErrCodeBrokerChannelClosed, fmt.Sprintf("failed to declare queue %s", q), err)
		}
	}
	return nil
}

func (c *AMQPClient) watchChannel(ch amqpChannel, notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if ok && amqpErr != nil {
		c.logger.Warn("broker channel closed", "error", amqpErr.Error())
	}

	c.mu.Lock()
	if c.ch == ch {
		c.ch = nil
	}
	c.mu.Unlock()
}

// Publish sends a persistent JSON message to queue through the default
// exchange.
func (c *AMQPClient) Publish(ctx context.Context, queue string, msg Message) (bool, error) {
	ch, err := c.Channel(ctx)
	if err != nil {
		return false, err
	}

	if c.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now(),
		Body:         msg.Body,
	})
	if err != nil {
		return false, fmt.Errorf("publish to %s: %w", queue, err)
	}
	if dc == nil {
		return true, nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return false, fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	return acked, nil
}

// Consume subscribes to queue with manual acks. When ctx ends, deliveries not
// yet handed to the reader are nacked with requeue.
func (c *AMQPClient) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	ch, err := c.Channel(ctx)
	if err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerChannelClosed, fmt.Sprintf("failed to consume %s", queue), err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		requeueRest := func(d amqp.Delivery) {
			_ = d.Nack(false, true)
			for rest := range msgs {
				_ = rest.Nack(false, true)
			}
		}
		for d := range msgs {
			if ctx.Err() != nil {
				requeueRest(d)
				return
			}
			select {
			case out <- wrapAMQPDelivery(d):
			case <-ctx.Done():
				requeueRest(d)
				return
			}
		}
	}()
	return out, nil
}

func wrapAMQPDelivery(d amqp.Delivery) Delivery {
	return NewDelivery(d.Body, d.MessageId, d.Redelivered,
		func() error { return d.Ack(false) },
		func(requeue bool) error { return d.Nack(false, requeue) },
	)
}

// Cancel stops the consumer with the given tag. A missing channel means the
// consumer is already gone.
func (c *AMQPClient) Cancel(tag string) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return nil
	}
	return ch.Cancel(tag, false)
}

// Inspect returns the ready message count and consumer count of queue.
func (c *AMQPClient) Inspect(ctx context.Context, queue string) (QueueInfo, error) {
	ch, err := c.Channel(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return QueueInfo{}, fmt.Errorf("inspect %s: %w", queue, err)
	}
	return QueueInfo{Queue: q.Name, MessageCount: q.Messages, ConsumerCount: q.Consumers}, nil
}

// Purge removes all ready messages from queue and returns how many were
// removed.
func (c *AMQPClient) Purge(ctx context.Context, queue string) (int, error) {
	ch, err := c.Channel(ctx)
	if err != nil {
		return 0, err
	}
	n, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", queue, err)
	}
	return n, nil
}

// Ping ensures a usable channel exists.
func (c *AMQPClient) Ping(ctx context.Context) error {
	_, err := c.Channel(ctx)
	return err
}

// Close closes the channel, then the connection. Subsequent calls return
// ErrClosed.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}
