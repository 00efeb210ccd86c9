package queue

import (
	"context"
	"log/slog"

	"jobboard/internal/broker"
)

// Admin exposes operational queue queries. Workers never use it.
type Admin struct {
	transport broker.Transport
	logger    *slog.Logger
}

// NewAdmin creates an Admin.
func NewAdmin(transport broker.Transport, logger *slog.Logger) *Admin {
	return &Admin{transport: transport, logger: logger}
}

// GetQueueInfo returns the ready message count and consumer count of name.
func (a *Admin) GetQueueInfo(ctx context.Context, name string) (broker.QueueInfo, error) {
	if !Known(name) {
		return broker.QueueInfo{}, unknownQueue(name)
	}
	return a.transport.Inspect(ctx, name)
}

// ListQueues returns info for every registered queue.
func (a *Admin) ListQueues(ctx context.Context) ([]broker.QueueInfo, error) {
	names := Names()
	infos := make([]broker.QueueInfo, 0, len(names))
	for _, name := range names {
		info, err := a.transport.Inspect(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// PurgeQueue removes every ready message from name and returns the count.
func (a *Admin) PurgeQueue(ctx context.Context, name string) (int, error) {
	if !Known(name) {
		return 0, unknownQueue(name)
	}
	n, err := a.transport.Purge(ctx, name)
	if err != nil {
		return 0, err
	}
	a.logger.WarnContext(ctx, "queue purged", "queue", name, "removed", n)
	return n, nil
}
