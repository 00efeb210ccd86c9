package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobboard/internal/broker"
	"jobboard/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []metrics.Outcome
}

func (r *recordingMetrics) RecordOutcome(_ context.Context, _ string, o metrics.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingMetrics) RecordLatency(context.Context, string, time.Duration)  {}
func (r *recordingMetrics) RecordQueueLag(context.Context, string, time.Duration) {}

func (r *recordingMetrics) Outcomes() []metrics.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]metrics.Outcome(nil), r.outcomes...)
}

type harness struct {
	transport *broker.MemoryTransport
	publisher *Publisher
	consumer  *Consumer
	jobs      *Jobs
	metrics   *recordingMetrics
}

func newHarness(cfg ConsumerConfig) *harness {
	transport := broker.NewMemoryTransport(Names(), 1)
	publisher := NewPublisher(transport, testLogger())
	rec := &recordingMetrics{}
	return &harness{
		transport: transport,
		publisher: publisher,
		consumer:  NewConsumer(transport, publisher, cfg, rec, testLogger()),
		jobs:      NewJobs(publisher, testLogger()),
		metrics:   rec,
	}
}

func (h *harness) enqueue(t *testing.T, job Job) Envelope {
	t.Helper()
	env, ok := h.jobs.Enqueue(context.Background(), job)
	require.True(t, ok)
	return env
}

func (h *harness) consume(t *testing.T, queueName string, handler Handler) *Subscription {
	t.Helper()
	sub, err := h.consumer.Consume(context.Background(), queueName, handler)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sub.Stop(ctx)
	})
	return sub
}

func (h *harness) acked(queueName string) int {
	_, acked, _ := h.transport.Stats(queueName)
	return acked
}

func (h *harness) nacked(queueName string) int {
	_, _, nacked := h.transport.Stats(queueName)
	return nacked
}

func (h *harness) deadLetters(t *testing.T) []DeadLetter {
	t.Helper()
	var out []DeadLetter
	for _, body := range h.transport.Peek(DeadLetterQueue) {
		var dl DeadLetter
		require.NoError(t, json.Unmarshal(body, &dl))
		out = append(out, dl)
	}
	return out
}

func (h *harness) waitDeadLetters(t *testing.T, n int) []DeadLetter {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.transport.Peek(DeadLetterQueue)) == n
	}, 2*time.Second, 5*time.Millisecond)
	return h.deadLetters(t)
}

func email(to string) EmailJob {
	return EmailJob{To: to, Subject: "Welcome", Body: "<p>hello</p>"}
}

func publishRaw(t *testing.T, h *harness, queueName, body string) {
	t.Helper()
	ok, err := h.transport.Publish(context.Background(), queueName, broker.Message{Body: []byte(body), MessageID: "raw"})
	require.NoError(t, err)
	require.True(t, ok)
}
