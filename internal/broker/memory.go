package broker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport is an in-process FIFO broker with manual acknowledgment
// and redelivery. It backs BROKER_DRIVER=memory and is the broker double for
// tests. Queues must be declared up front, as with a real broker.
type MemoryTransport struct {
	prefetch int

	mu         sync.Mutex
	queues     map[string]*memQueue
	consumers  map[string]*memConsumer
	closed     bool
	publishErr error
}

var _ Transport = (*MemoryTransport)(nil)

type memMessage struct {
	msg         Message
	redelivered bool
}

type memQueue struct {
	ready     []memMessage
	wake      chan struct{}
	consumers int
	acked     int
	nacked    int
	published int
}

type memConsumer struct {
	queue    string
	stop     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	inflight map[*memInflight]struct{}
}

type memInflight struct {
	msg     memMessage
	settled bool
	release func()
}

// NewMemoryTransport creates a transport with the given queues declared.
// prefetch bounds unacked deliveries per consumer; values below 1 mean 1.
func NewMemoryTransport(queues []string, prefetch int) *MemoryTransport {
	if prefetch < 1 {
		prefetch = 1
	}
	m := &MemoryTransport{
		prefetch:  prefetch,
		queues:    make(map[string]*memQueue, len(queues)),
		consumers: make(map[string]*memConsumer),
	}
	for _, q := range queues {
		m.queues[q] = &memQueue{wake: make(chan struct{})}
	}
	return m
}

func (m *MemoryTransport) queue(name string) (*memQueue, error) {
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("broker: queue %q not declared", name)
	}
	return q, nil
}

// push appends (or, for requeues, prepends) a message and wakes waiters.
// Caller holds m.mu.
func (q *memQueue) push(mm memMessage, front bool) {
	if front {
		q.ready = append([]memMessage{mm}, q.ready...)
	} else {
		q.ready = append(q.ready, mm)
	}
	close(q.wake)
	q.wake = make(chan struct{})
}

// Publish enqueues msg at the tail of queue.
func (m *MemoryTransport) Publish(ctx context.Context, queue string, msg Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return false, m.publishErr
	}
	q, err := m.queue(queue)
	if err != nil {
		return false, err
	}
	body := append([]byte(nil), msg.Body...)
	msg.Body = body
	q.push(memMessage{msg: msg}, false)
	q.published++
	return true, nil
}

// Consume starts a consumer on queue. Delivery stops when tag is cancelled,
// ctx ends, or Disconnect is called.
func (m *MemoryTransport) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	m.mu.Lock()
	q, err := m.queue(queue)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if _, exists := m.consumers[tag]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("broker: consumer tag %q already in use", tag)
	}
	c := &memConsumer{
		queue:    queue,
		stop:     make(chan struct{}),
		inflight: make(map[*memInflight]struct{}),
	}
	m.consumers[tag] = c
	q.consumers++
	m.mu.Unlock()

	out := make(chan Delivery)
	go m.runConsumer(ctx, tag, c, q, out)
	return out, nil
}

func (m *MemoryTransport) runConsumer(ctx context.Context, tag string, c *memConsumer, q *memQueue, out chan<- Delivery) {
	defer close(out)
	defer m.removeConsumer(tag, c, q)

	credits := make(chan struct{}, m.prefetch)
	for {
		select {
		case credits <- struct{}{}:
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}

		mm, ok := m.next(ctx, c, q)
		if !ok {
			return
		}

		inf := &memInflight{msg: mm}
		var once sync.Once
		inf.release = func() { once.Do(func() { <-credits }) }
		c.mu.Lock()
		c.inflight[inf] = struct{}{}
		c.mu.Unlock()

		d := NewDelivery(mm.msg.Body, mm.msg.MessageID, mm.redelivered,
			func() error { return m.settle(c, q, inf, false, false) },
			func(requeue bool) error { return m.settle(c, q, inf, true, requeue) },
		)

		select {
		case out <- d:
		case <-c.stop:
			m.unhand(c, q, inf)
			return
		case <-ctx.Done():
			m.unhand(c, q, inf)
			return
		}
	}
}

// next blocks until a message is ready or the consumer stops.
func (m *MemoryTransport) next(ctx context.Context, c *memConsumer, q *memQueue) (memMessage, bool) {
	for {
		m.mu.Lock()
		if len(q.ready) > 0 {
			mm := q.ready[0]
			q.ready = q.ready[1:]
			m.mu.Unlock()
			return mm, true
		}
		wake := q.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-c.stop:
			return memMessage{}, false
		case <-ctx.Done():
			return memMessage{}, false
		}
	}
}

// unhand returns a message that was never handed to the reader to the head
// of the queue without marking it redelivered.
func (m *MemoryTransport) unhand(c *memConsumer, q *memQueue, inf *memInflight) {
	c.mu.Lock()
	if inf.settled {
		// Disconnect already requeued it.
		c.mu.Unlock()
		return
	}
	delete(c.inflight, inf)
	inf.settled = true
	c.mu.Unlock()

	m.mu.Lock()
	q.push(inf.msg, true)
	m.mu.Unlock()
}

func (m *MemoryTransport) settle(c *memConsumer, q *memQueue, inf *memInflight, nack, requeue bool) error {
	c.mu.Lock()
	if inf.settled {
		c.mu.Unlock()
		return ErrAlreadySettled
	}
	inf.settled = true
	delete(c.inflight, inf)
	c.mu.Unlock()
	inf.release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !nack {
		q.acked++
		return nil
	}
	q.nacked++
	if requeue {
		mm := inf.msg
		mm.redelivered = true
		q.push(mm, true)
	}
	return nil
}

func (m *MemoryTransport) removeConsumer(tag string, c *memConsumer, q *memQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumers[tag] == c {
		delete(m.consumers, tag)
	}
	q.consumers--
}

// Cancel stops delivery to the consumer. Unsettled deliveries stay valid.
func (m *MemoryTransport) Cancel(tag string) error {
	m.mu.Lock()
	c, ok := m.consumers[tag]
	delete(m.consumers, tag)
	m.mu.Unlock()
	if ok {
		c.stopOnce.Do(func() { close(c.stop) })
	}
	return nil
}

// Disconnect simulates the broker dropping the connection: every consumer
// stream closes and unsettled deliveries return to their queues marked
// redelivered. Later Ack or Nack calls on them fail with ErrAlreadySettled.
func (m *MemoryTransport) Disconnect() {
	m.mu.Lock()
	consumers := make([]*memConsumer, 0, len(m.consumers))
	for tag, c := range m.consumers {
		consumers = append(consumers, c)
		delete(m.consumers, tag)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		c.stopOnce.Do(func() { close(c.stop) })

		c.mu.Lock()
		pending := make([]*memInflight, 0, len(c.inflight))
		for inf := range c.inflight {
			inf.settled = true
			pending = append(pending, inf)
		}
		c.inflight = make(map[*memInflight]struct{})
		c.mu.Unlock()

		m.mu.Lock()
		q := m.queues[c.queue]
		for _, inf := range pending {
			mm := inf.msg
			mm.redelivered = true
			q.push(mm, true)
		}
		m.mu.Unlock()
		for _, inf := range pending {
			inf.release()
		}
	}
}

// Inspect reports ready messages and active consumers for queue.
func (m *MemoryTransport) Inspect(_ context.Context, queue string) (QueueInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{Queue: queue, MessageCount: len(q.ready), ConsumerCount: q.consumers}, nil
}

// Purge drops all ready messages from queue.
func (m *MemoryTransport) Purge(_ context.Context, queue string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return 0, err
	}
	n := len(q.ready)
	q.ready = nil
	return n, nil
}

// Ping fails only after Close.
func (m *MemoryTransport) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every consumer. Messages still queued are discarded.
func (m *MemoryTransport) Close() error {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SetPublishError makes every Publish fail with err until called with nil.
func (m *MemoryTransport) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Stats returns counters for queue: messages published, acked and nacked.
func (m *MemoryTransport) Stats(queue string) (published, acked, nacked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queue]
	if !ok {
		return 0, 0, 0
	}
	return q.published, q.acked, q.nacked
}

// Peek returns the bodies of the ready messages in queue, head first.
func (m *MemoryTransport) Peek(queue string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queue]
	if !ok {
		return nil
	}
	bodies := make([][]byte, 0, len(q.ready))
	for _, mm := range q.ready {
		bodies = append(bodies, mm.msg.Body)
	}
	return bodies
}
