package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/types"
)

func TestAdmin_GetQueueInfoFreshQueue(t *testing.T) {
	h := newHarness(ConsumerConfig{})
	admin := NewAdmin(h.transport, testLogger())

	info, err := admin.GetQueueInfo(context.Background(), ReportsQueue)
	require.NoError(t, err)
	assert.Equal(t, ReportsQueue, info.Queue)
	assert.Equal(t, 0, info.MessageCount)
	assert.Equal(t, 0, info.ConsumerCount)
}

func TestAdmin_GetQueueInfoCounts(t *testing.T) {
	h := newHarness(ConsumerConfig{})
	admin := NewAdmin(h.transport, testLogger())
	h.enqueue(t, NotificationJob{UserID: "u1", Title: "t", Message: "m"})
	h.enqueue(t, NotificationJob{UserID: "u2", Title: "t", Message: "m"})

	info, err := admin.GetQueueInfo(context.Background(), NotificationsQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
}

func TestAdmin_UnknownQueue(t *testing.T) {
	admin := NewAdmin(newHarness(ConsumerConfig{}).transport, testLogger())

	_, err := admin.GetQueueInfo(context.Background(), "jobs_queue")
	assert.ErrorIs(t, err, ErrQueueUnknown)
	assert.Equal(t, types.ErrCodeQueueUnknown, types.CodeOf(err))

	_, err = admin.PurgeQueue(context.Background(), "jobs_queue")
	assert.ErrorIs(t, err, ErrQueueUnknown)
}

func TestAdmin_ListAndPurge(t *testing.T) {
	h := newHarness(ConsumerConfig{})
	admin := NewAdmin(h.transport, testLogger())
	h.enqueue(t, email("a@b.com"))
	h.enqueue(t, email("b@b.com"))

	infos, err := admin.ListQueues(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, len(Names()))
	for _, info := range infos {
		want := 0
		if info.Queue == EmailQueue {
			want = 2
		}
		assert.Equal(t, want, info.MessageCount, info.Queue)
	}

	n, err := admin.PurgeQueue(context.Background(), EmailQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := admin.GetQueueInfo(context.Background(), EmailQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, info.MessageCount)
}
