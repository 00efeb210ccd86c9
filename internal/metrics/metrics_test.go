package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func dimension(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if aws.ToString(d.Name) == name {
			return aws.ToString(d.Value)
		}
	}
	return ""
}

func TestCloudWatchJobMetrics_RecordOutcome(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchJobMetrics(cw, "", discardLogger())

	m.RecordOutcome(context.Background(), "email_queue", OutcomeDeadLettered)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(input.Namespace))
	require.Len(t, input.MetricData, 1)

	datum := input.MetricData[0]
	assert.Equal(t, types.MetricJobOutcome, aws.ToString(datum.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assert.Equal(t, "email_queue", dimension(datum.Dimensions, types.DimQueue))
	assert.Equal(t, "dead_lettered", dimension(datum.Dimensions, types.DimResult))
}

func TestCloudWatchJobMetrics_LatencyAndLag(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchJobMetrics(cw, "Custom", discardLogger())

	m.RecordLatency(context.Background(), "reports_queue", 1500*time.Millisecond)
	m.RecordQueueLag(context.Background(), "reports_queue", -time.Second)

	require.Len(t, cw.calls, 2)
	assert.Equal(t, "Custom", aws.ToString(cw.calls[0].Namespace))

	latency := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricJobLatency, aws.ToString(latency.MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(latency.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)

	lag := cw.calls[1].MetricData[0]
	assert.Equal(t, types.MetricJobQueueLag, aws.ToString(lag.MetricName))
	assert.Equal(t, 0.0, aws.ToFloat64(lag.Value), "negative lag from clock skew is clamped")
}

func TestCloudWatchJobMetrics_ErrorIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatchJobMetrics(cw, "", slog.New(slog.NewJSONHandler(&buf, nil)))

	m.RecordOutcome(context.Background(), "email_queue", OutcomeAcked)

	assert.Contains(t, buf.String(), "failed to record metric")
	assert.Contains(t, buf.String(), "throttled")
}
