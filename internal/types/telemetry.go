package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricJobOutcome  = "JobOutcome"
	MetricJobLatency  = "JobLatency"
	MetricJobQueueLag = "JobQueueLag"
	MetricPublish     = "JobPublish"

	// Dimension Keys
	DimQueue  = "Queue"
	DimResult = "Result"

	// Default Metric Namespace
	MetricNamespace = "JobBoard"
)
