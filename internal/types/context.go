package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithJobID stores the ID of the job being handled in the context. Outbound
// clients forward it as a trace header so upstream logs can be correlated
// with the job envelope.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// GetJobID retrieves the job ID from the context.
func GetJobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// TraceID returns the job ID when set, falling back to the request ID.
func TraceID(ctx context.Context) string {
	if id := GetJobID(ctx); id != "" {
		return id
	}
	return GetRequestID(ctx)
}
