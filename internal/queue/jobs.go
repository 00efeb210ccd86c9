package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Jobs builds envelopes for each job kind and publishes them to the kind's
// queue. Every helper returns the envelope it built and whether the broker
// accepted it.
type Jobs struct {
	publisher *Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobs creates the job helpers.
func NewJobs(publisher *Publisher, logger *slog.Logger) *Jobs {
	return &Jobs{publisher: publisher, logger: logger, now: time.Now}
}

// SendEmail enqueues an email job on EmailQueue.
func (j *Jobs) SendEmail(ctx context.Context, job EmailJob) (Envelope, bool) {
	return j.Enqueue(ctx, job)
}

// SyncStudents enqueues a student sync on StudentSyncQueue.
func (j *Jobs) SyncStudents(ctx context.Context, job SyncStudentsJob) (Envelope, bool) {
	return j.Enqueue(ctx, job)
}

// ScoreAssessment enqueues a scoring job on AssessmentScoringQueue.
func (j *Jobs) ScoreAssessment(ctx context.Context, job ScoreAssessmentJob) (Envelope, bool) {
	return j.Enqueue(ctx, job)
}

// SendNotification enqueues a notification on NotificationsQueue.
func (j *Jobs) SendNotification(ctx context.Context, job NotificationJob) (Envelope, bool) {
	return j.Enqueue(ctx, job)
}

// GenerateReport enqueues a report build on ReportsQueue.
func (j *Jobs) GenerateReport(ctx context.Context, job GenerateReportJob) (Envelope, bool) {
	return j.Enqueue(ctx, job)
}

// Enqueue validates job, wraps it in a fresh envelope and publishes it.
// Invalid payloads are logged and never published.
func (j *Jobs) Enqueue(ctx context.Context, job Job) (Envelope, bool) {
	if err := ValidateJob(job); err != nil {
		j.logger.ErrorContext(ctx, "rejected job payload", "job_type", string(job.Kind()), "error", err.Error())
		return Envelope{}, false
	}
	queueName, err := KindQueue(job.Kind())
	if err != nil {
		j.logger.ErrorContext(ctx, "no queue for job kind", "job_type", string(job.Kind()))
		return Envelope{}, false
	}
	env, err := NewEnvelope(job, j.now())
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to build envelope", "job_type", string(job.Kind()), "error", err.Error())
		return Envelope{}, false
	}
	return env, j.publisher.Publish(ctx, queueName, env)
}

// EnqueueRaw decodes data as a kind payload and enqueues it. Decode and
// validation failures are returned so callers can report them; publish
// failures are reported through the boolean.
func (j *Jobs) EnqueueRaw(ctx context.Context, kind JobKind, data json.RawMessage) (Envelope, bool, error) {
	job, err := DecodeJob(Envelope{Type: kind, Data: data})
	if err != nil {
		return Envelope{}, false, err
	}
	env, ok := j.Enqueue(ctx, job)
	return env, ok, nil
}
