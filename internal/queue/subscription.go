package queue

import (
	"context"
	"sync"

	"jobboard/internal/broker"
)

// Subscription is one active consumer on a queue.
type Subscription struct {
	queue     string
	tag       string
	transport broker.Transport

	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	abort    context.CancelFunc

	mu  sync.Mutex
	err error
}

// Queue returns the subscribed queue name.
func (s *Subscription) Queue() string { return s.queue }

// Done is closed once the consume loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the loop exited: ErrSubscriptionClosed when the broker
// closed the stream, nil after Stop or context cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) stopRequested() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

// Stop cancels the broker consumer and waits for the in-flight job to
// finish. If ctx ends first, the in-flight handler's context is cancelled
// and Stop returns ctx.Err() without waiting further.
func (s *Subscription) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopping)
		_ = s.transport.Cancel(s.tag)
	})
	defer s.abort()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
