package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/external"
	"jobboard/internal/queue"
	"jobboard/internal/types"
)

func answers(correct ...bool) []queue.Answer {
	out := make([]queue.Answer, len(correct))
	for i, c := range correct {
		out[i] = queue.Answer{IsCorrect: c}
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		answers []queue.Answer
		want    int
	}{
		{"no answers", nil, 0},
		{"three of four", answers(true, true, false, true), 75},
		{"one of three rounds down", answers(true, false, false), 33},
		{"two of three rounds up", answers(true, true, false), 67},
		{"all correct", answers(true, true), 100},
		{"none correct", answers(false, false), 0},
		{"half rounds away from zero", answers(true, false, false, false, false, false, false, false), 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.answers))
		})
	}
}

func TestHandlers_SendEmail(t *testing.T) {
	f := newFakes()
	_, err := run(t, f.handlers(), queue.EmailJob{To: "a@b.com", Subject: "Welcome", Body: "<p>hi</p>", Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []external.Email{{To: "a@b.com", Subject: "Welcome", HTML: "<p>hi</p>", Text: "hi"}}, f.mailer.Sent())
}

func TestHandlers_SendEmailPropagatesProviderError(t *testing.T) {
	f := newFakes()
	f.mailer.err = types.NewAppError(types.ErrCodeEmailBlocked, "recipient suppressed", nil)

	_, err := run(t, f.handlers(), queue.EmailJob{To: "a@b.com", Subject: "s", Body: "b"})
	assert.Equal(t, types.ErrCodeEmailBlocked, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
}

func TestHandlers_SyncStudents(t *testing.T) {
	t.Run("default batch size", func(t *testing.T) {
		f := newFakes()
		f.syncer.result = external.SyncResult{Synced: 100}
		_, err := run(t, f.handlers(), queue.SyncStudentsJob{})
		require.NoError(t, err)
		assert.Equal(t, []external.SyncRequest{{BatchSize: 100}}, f.syncer.Requests())
	})

	t.Run("job batch size and source", func(t *testing.T) {
		f := newFakes()
		_, err := run(t, f.handlers(), queue.SyncStudentsJob{BatchSize: 25, Source: "sis"})
		require.NoError(t, err)
		assert.Equal(t, []external.SyncRequest{{BatchSize: 25, Source: "sis"}}, f.syncer.Requests())
	})

	t.Run("partial failure succeeds", func(t *testing.T) {
		f := newFakes()
		f.syncer.result = external.SyncResult{Synced: 8, Failed: 2, Errors: []string{"bad email", "dup"}}
		_, err := run(t, f.handlers(), queue.SyncStudentsJob{})
		assert.NoError(t, err)
	})

	t.Run("error propagates", func(t *testing.T) {
		f := newFakes()
		f.syncer.err = types.NewAppError(types.ErrCodeUpstreamSync, "directory down", nil)
		_, err := run(t, f.handlers(), queue.SyncStudentsJob{})
		assert.Equal(t, types.ErrCodeUpstreamSync, types.CodeOf(err))
		assert.True(t, types.IsRetryable(err))
	})
}

func TestHandlers_ScoreAssessment(t *testing.T) {
	f := newFakes()
	h := f.handlers()
	scoredAt := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return scoredAt }

	env, err := run(t, h, queue.ScoreAssessmentJob{
		AssessmentID: "asm-1",
		UserID:       "u-1",
		Answers:      answers(true, true, false, true),
	})
	require.NoError(t, err)

	got, ok := f.results.Get("asm-1", "u-1")
	require.True(t, ok)
	assert.Equal(t, types.AssessmentResult{
		AssessmentID: "asm-1",
		UserID:       "u-1",
		Score:        75,
		Correct:      3,
		Total:        4,
		JobID:        env.ID,
		ScoredAt:     scoredAt,
	}, got)
}

func TestHandlers_ScoreAssessmentStoreError(t *testing.T) {
	f := newFakes()
	f.results.err = types.NewAppError(types.ErrCodeInternalDB, "pool exhausted", nil)

	_, err := run(t, f.handlers(), queue.ScoreAssessmentJob{AssessmentID: "a", UserID: "u"})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestHandlers_SendNotificationIsIdempotent(t *testing.T) {
	f := newFakes()
	h := f.handlers()
	handler, err := h.ForQueue(queue.NotificationsQueue)
	require.NoError(t, err)

	env := envelopeFor(t, queue.NotificationJob{UserID: "u-1", Title: "Shortlisted", Message: "You made the shortlist", Link: "https://jobs.example/a/1"})
	require.NoError(t, handler(context.Background(), env))
	require.NoError(t, handler(context.Background(), env))

	assert.Equal(t, 1, f.notifications.Len())
	n := f.notifications.rows[env.ID]
	assert.Equal(t, "u-1", n.UserID)
	assert.Equal(t, "https://jobs.example/a/1", n.Link)
	assert.Equal(t, env.CreatedAt, n.CreatedAt)
}

func TestHandlers_GenerateReport(t *testing.T) {
	f := newFakes()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	env, err := run(t, f.handlers(), queue.GenerateReportJob{ReportType: queue.ReportApplications, RequestedBy: "admin", From: &from, To: &to})
	require.NoError(t, err)

	reqs := f.reports.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, env.ID, reqs[0].JobID)
	assert.Equal(t, queue.ReportApplications, reqs[0].ReportType)
	assert.True(t, reqs[0].Window.From.Equal(from))
	assert.True(t, reqs[0].Window.To.Equal(to))

	f.reports.err = errors.New("s3 unavailable")
	_, err = run(t, f.handlers(), queue.GenerateReportJob{ReportType: queue.ReportApplications, RequestedBy: "admin"})
	assert.EqualError(t, err, "s3 unavailable")
}

func TestHandlers_RejectsJobOnWrongQueue(t *testing.T) {
	f := newFakes()
	handler, err := f.handlers().ForQueue(queue.ReportsQueue)
	require.NoError(t, err)

	err = handler(context.Background(), envelopeFor(t, queue.EmailJob{To: "a@b.com", Subject: "s", Body: "b"}))
	assert.Equal(t, types.ErrCodeJobUnknownType, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
	assert.Empty(t, f.mailer.Sent())
}

func TestHandlers_RejectsInvalidPayload(t *testing.T) {
	f := newFakes()
	handler, err := f.handlers().ForQueue(queue.EmailQueue)
	require.NoError(t, err)

	env := envelopeFor(t, queue.EmailJob{To: "not-an-email", Subject: "s", Body: "b"})
	err = handler(context.Background(), env)
	assert.Equal(t, types.ErrCodeJobInvalidPayload, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
}

func TestHandlers_ForQueueUnknown(t *testing.T) {
	h := newFakes().handlers()
	for _, q := range []string{"bogus_queue", queue.DeadLetterQueue} {
		_, err := h.ForQueue(q)
		assert.ErrorIs(t, err, queue.ErrQueueUnknown, q)
	}
}
