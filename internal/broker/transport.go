// Package broker provides the message broker transports that job publishers
// and consumers share. Each process constructs exactly one Transport at
// startup and passes it to everything that needs the broker.
package broker

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors shared by all drivers.
var (
	// ErrClosed is returned by operations on a transport after Close.
	ErrClosed = errors.New("broker: transport closed")
	// ErrAlreadySettled is returned when a delivery is acked or nacked twice,
	// or after the channel it arrived on was closed.
	ErrAlreadySettled = errors.New("broker: delivery already settled")
)

// Message is an outbound message.
type Message struct {
	Body        []byte
	MessageID   string
	ContentType string
}

// QueueInfo describes queue depth and consumer count. MessageCount counts
// ready messages only; deliveries awaiting ack are excluded.
type QueueInfo struct {
	Queue         string `json:"queue"`
	MessageCount  int    `json:"messageCount"`
	ConsumerCount int    `json:"consumerCount"`
}

// Transport is implemented by every broker driver.
type Transport interface {
	// Publish sends msg to the named queue with persistent delivery. The
	// boolean reports whether the broker accepted the message; for AMQP with
	// publisher confirms it is the broker's ack.
	Publish(ctx context.Context, queue string, msg Message) (bool, error)

	// Consume subscribes to queue with manual acknowledgment. The returned
	// channel is closed when the consumer is cancelled, ctx ends, or the
	// underlying connection drops.
	Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error)

	// Cancel stops the consumer registered under tag. Deliveries already
	// handed out can still be settled.
	Cancel(tag string) error

	Inspect(ctx context.Context, queue string) (QueueInfo, error)
	Purge(ctx context.Context, queue string) (int, error)

	// Ping verifies the broker is reachable, connecting if necessary.
	Ping(ctx context.Context) error

	Close() error
}

// Delivery is one received message. Exactly one of Ack or Nack should be
// called; later calls return ErrAlreadySettled.
type Delivery struct {
	Body        []byte
	MessageID   string
	Redelivered bool

	settler *settler
}

// NewDelivery builds a Delivery whose Ack and Nack call the given driver
// functions at most once between them.
func NewDelivery(body []byte, messageID string, redelivered bool, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{
		Body:        body,
		MessageID:   messageID,
		Redelivered: redelivered,
		settler:     &settler{ack: ack, nack: nack},
	}
}

// Ack removes the message from the queue.
func (d Delivery) Ack() error {
	if d.settler == nil {
		return ErrAlreadySettled
	}
	return d.settler.settle(func() error { return d.settler.ack() })
}

// Nack rejects the message. With requeue the broker redelivers it; without,
// the broker discards it.
func (d Delivery) Nack(requeue bool) error {
	if d.settler == nil {
		return ErrAlreadySettled
	}
	return d.settler.settle(func() error { return d.settler.nack(requeue) })
}

type settler struct {
	mu      sync.Mutex
	settled bool
	ack     func() error
	nack    func(requeue bool) error
}

func (s *settler) settle(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadySettled
	}
	s.settled = true
	return fn()
}
