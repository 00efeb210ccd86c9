// Package workers binds job handlers to queues and runs them: one Worker per
// queue, each resubscribing when the broker drops its stream, and a
// Supervisor that starts every worker together and drains them on shutdown.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"jobboard/internal/external"
	"jobboard/internal/queue"
	"jobboard/internal/reports"
	"jobboard/internal/types"
)

// ResultStore persists assessment scores.
type ResultStore interface {
	SaveAssessmentResult(ctx context.Context, res types.AssessmentResult) error
}

// NotificationDispatcher records in-app notifications. It reports false when
// the notification already existed.
type NotificationDispatcher interface {
	DispatchNotification(ctx context.Context, n types.Notification) (bool, error)
}

// ReportGenerator builds and stores report archives.
type ReportGenerator interface {
	Generate(ctx context.Context, req reports.Request) (reports.Result, error)
}

// Deps are the collaborators the job handlers call.
type Deps struct {
	Mailer        external.Mailer
	Syncer        external.StudentSyncer
	Results       ResultStore
	Notifications NotificationDispatcher
	Reports       ReportGenerator

	// SyncBatchSize is used when a sync job does not name one.
	SyncBatchSize int
}

// Handlers executes decoded jobs against Deps.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewHandlers creates Handlers.
func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger, now: time.Now}
}

// ForQueue returns the handler for queueName. Jobs whose kind belongs to a
// different queue are rejected without retry.
func (h *Handlers) ForQueue(queueName string) (queue.Handler, error) {
	if !queue.Known(queueName) || queueName == queue.DeadLetterQueue {
		return nil, fmt.Errorf("%w: %q has no handler", queue.ErrQueueUnknown, queueName)
	}
	return func(ctx context.Context, env queue.Envelope) error {
		job, err := queue.DecodeJob(env)
		if err != nil {
			return err
		}
		if q, _ := queue.KindQueue(job.Kind()); q != queueName {
			return types.NewAppError(types.ErrCodeJobUnknownType,
				fmt.Sprintf("%s jobs are not handled on %s", job.Kind(), queueName), nil)
		}
		return h.Handle(ctx, env, job)
	}, nil
}

// Handle runs one decoded job.
func (h *Handlers) Handle(ctx context.Context, env queue.Envelope, job queue.Job) error {
	logger := h.logger.With("job_id", env.ID, "job_type", string(env.Type))

	switch j := job.(type) {
	case queue.EmailJob:
		return h.sendEmail(ctx, logger, j)
	case queue.SyncStudentsJob:
		return h.syncStudents(ctx, logger, j)
	case queue.ScoreAssessmentJob:
		return h.scoreAssessment(ctx, logger, env, j)
	case queue.NotificationJob:
		return h.sendNotification(ctx, logger, env, j)
	case queue.GenerateReportJob:
		return h.generateReport(ctx, env, j)
	default:
		return types.NewAppError(types.ErrCodeJobUnknownType, fmt.Sprintf("no handler for %T", job), nil)
	}
}

func (h *Handlers) sendEmail(ctx context.Context, logger *slog.Logger, job queue.EmailJob) error {
	id, err := h.deps.Mailer.Send(ctx, external.Email{
		To:      job.To,
		Subject: job.Subject,
		HTML:    job.Body,
		Text:    job.Text,
	})
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "email sent", "to", types.RedactEmail(job.To), "provider_message_id", id)
	return nil
}

func (h *Handlers) syncStudents(ctx context.Context, logger *slog.Logger, job queue.SyncStudentsJob) error {
	batch := job.BatchSize
	if batch == 0 {
		batch = h.deps.SyncBatchSize
	}

	res, err := h.deps.Syncer.Sync(ctx, external.SyncRequest{BatchSize: batch, Source: job.Source})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		logger.WarnContext(ctx, "student sync completed with failures",
			"synced", res.Synced,
			"failed", res.Failed,
			"errors", res.Errors,
		)
		return nil
	}
	logger.InfoContext(ctx, "student sync completed", "synced", res.Synced, "batch_size", batch)
	return nil
}

// Score returns the percentage of correct answers rounded to the nearest
// integer, or 0 for an empty submission.
func Score(answers []queue.Answer) int {
	if len(answers) == 0 {
		return 0
	}
	return int(math.Round(float64(countCorrect(answers)) / float64(len(answers)) * 100))
}

func countCorrect(answers []queue.Answer) int {
	n := 0
	for _, a := range answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

func (h *Handlers) scoreAssessment(ctx context.Context, logger *slog.Logger, env queue.Envelope, job queue.ScoreAssessmentJob) error {
	res := types.AssessmentResult{
		AssessmentID: job.AssessmentID,
		UserID:       job.UserID,
		Score:        Score(job.Answers),
		Correct:      countCorrect(job.Answers),
		Total:        len(job.Answers),
		JobID:        env.ID,
		ScoredAt:     h.now().UTC(),
	}
	if err := h.deps.Results.SaveAssessmentResult(ctx, res); err != nil {
		return err
	}
	logger.InfoContext(ctx, "assessment scored",
		"assessment_id", res.AssessmentID,
		"user_id", res.UserID,
		"score", res.Score,
	)
	return nil
}

func (h *Handlers) sendNotification(ctx context.Context, logger *slog.Logger, env queue.Envelope, job queue.NotificationJob) error {
	createdAt := env.CreatedAt
	if createdAt.IsZero() {
		createdAt = h.now()
	}
	inserted, err := h.deps.Notifications.DispatchNotification(ctx, types.Notification{
		ID:        env.ID,
		UserID:    job.UserID,
		Title:     job.Title,
		Message:   job.Message,
		Type:      job.Type,
		Link:      job.Link,
		CreatedAt: createdAt.UTC(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		logger.InfoContext(ctx, "notification already recorded", "user_id", job.UserID)
		return nil
	}
	logger.InfoContext(ctx, "notification recorded", "user_id", job.UserID)
	return nil
}

func (h *Handlers) generateReport(ctx context.Context, env queue.Envelope, job queue.GenerateReportJob) error {
	_, err := h.deps.Reports.Generate(ctx, reports.Request{
		JobID:      env.ID,
		ReportType: job.ReportType,
		Window:     types.ReportWindow{From: job.From, To: job.To},
	})
	return err
}
