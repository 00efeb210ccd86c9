package queue

import (
	"errors"
	"fmt"

	"jobboard/internal/types"
)

var (
	// ErrQueueUnknown is wrapped by errors for queue names outside the registry.
	ErrQueueUnknown = errors.New("queue: unknown queue")
	// ErrSubscriptionClosed is reported by Subscription.Err when the broker
	// closed the delivery stream.
	ErrSubscriptionClosed = errors.New("queue: delivery stream closed")
	// ErrUnknownJobKind is wrapped by DecodeJob for unrecognized type tags.
	ErrUnknownJobKind = errors.New("queue: unknown job kind")
)

func unknownQueue(name string) error {
	return types.NewAppError(types.ErrCodeQueueUnknown, fmt.Sprintf("queue %q is not registered", name), ErrQueueUnknown)
}
