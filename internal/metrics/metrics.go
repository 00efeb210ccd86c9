// Package metrics records job processing telemetry.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"jobboard/internal/types"
)

// Outcome is the terminal disposition of one delivery.
type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// JobMetrics receives per-delivery measurements from consumers. Implementations
// must not block the consume loop on failure.
type JobMetrics interface {
	RecordOutcome(ctx context.Context, queue string, outcome Outcome)
	RecordLatency(ctx context.Context, queue string, d time.Duration)
	RecordQueueLag(ctx context.Context, queue string, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertions.
var (
	_ JobMetrics = (*CloudWatchJobMetrics)(nil)
	_ JobMetrics = NoopJobMetrics{}
)

// CloudWatchJobMetrics emits job metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - JobOutcome: Dims {Queue, Result}, Count
//   - JobLatency: Dims {Queue}, Milliseconds
//   - JobQueueLag: Dims {Queue}, Milliseconds (now - envelope createdAt)
type CloudWatchJobMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchJobMetrics creates metrics publishing to namespace. An empty
// namespace falls back to types.MetricNamespace.
func NewCloudWatchJobMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchJobMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchJobMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits a JobOutcome count with Queue and Result dimensions.
func (m *CloudWatchJobMetrics) RecordOutcome(ctx context.Context, queue string, outcome Outcome) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimQueue), Value: aws.String(queue)},
			{Name: aws.String(types.DimResult), Value: aws.String(string(outcome))},
		},
	})
}

// RecordLatency emits handler duration in milliseconds.
func (m *CloudWatchJobMetrics) RecordLatency(ctx context.Context, queue string, d time.Duration) {
	m.put(ctx, millisDatum(types.MetricJobLatency, queue, d))
}

// RecordQueueLag emits the time a job waited between creation and pickup.
func (m *CloudWatchJobMetrics) RecordQueueLag(ctx context.Context, queue string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.put(ctx, millisDatum(types.MetricJobQueueLag, queue, lag))
}

func millisDatum(name, queue string, d time.Duration) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimQueue), Value: aws.String(queue)},
		},
	}
}

func (m *CloudWatchJobMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

// NoopJobMetrics discards all measurements. Used when METRICS_ENABLED is false.
type NoopJobMetrics struct{}

func (NoopJobMetrics) RecordOutcome(context.Context, string, Outcome)        {}
func (NoopJobMetrics) RecordLatency(context.Context, string, time.Duration)  {}
func (NoopJobMetrics) RecordQueueLag(context.Context, string, time.Duration) {}
