package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/types"
)

func TestKindQueue(t *testing.T) {
	want := map[JobKind]string{
		KindSendEmail:        EmailQueue,
		KindSyncStudents:     StudentSyncQueue,
		KindScoreAssessment:  AssessmentScoringQueue,
		KindSendNotification: NotificationsQueue,
		KindGenerateReport:   ReportsQueue,
	}
	for _, kind := range Kinds() {
		q, err := KindQueue(kind)
		require.NoError(t, err)
		assert.Equal(t, want[kind], q)
		assert.True(t, Known(q))
	}

	_, err := KindQueue("resize_image")
	assert.ErrorIs(t, err, ErrUnknownJobKind)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{
		"email_queue", "student_sync_queue", "assessment_scoring_queue",
		"notifications_queue", "reports_queue", "dead_letter_queue",
	}, Names())
	assert.Len(t, WorkQueues(), 5)
	assert.True(t, Known(DeadLetterQueue))
	assert.False(t, Known("jobs_queue"))
}

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		kind JobKind
		data string
		want Job
	}{
		{KindSendEmail, `{"to":"a@b.com","subject":"Hi","body":"<p>hi</p>"}`, EmailJob{To: "a@b.com", Subject: "Hi", Body: "<p>hi</p>"}},
		{KindSyncStudents, `{"batchSize":50}`, SyncStudentsJob{BatchSize: 50}},
		{KindSyncStudents, ``, SyncStudentsJob{}},
		{KindScoreAssessment, `{"assessmentId":"x","userId":"y","answers":[{"isCorrect":true}]}`,
			ScoreAssessmentJob{AssessmentID: "x", UserID: "y", Answers: []Answer{{IsCorrect: true}}}},
		{KindSendNotification, `{"userId":"u","title":"t","message":"m"}`, NotificationJob{UserID: "u", Title: "t", Message: "m"}},
		{KindGenerateReport, `{"reportType":"notifications","requestedBy":"admin"}`, GenerateReportJob{ReportType: "notifications", RequestedBy: "admin"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			job, err := DecodeJob(Envelope{Type: tt.kind, Data: json.RawMessage(tt.data)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, job)
		})
	}
}

func TestDecodeJobUnknownKind(t *testing.T) {
	_, err := DecodeJob(Envelope{Type: "resize_image", Data: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownJobKind))
	assert.Equal(t, types.ErrCodeJobUnknownType, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
}

func TestDecodeJobInvalidPayload(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	cases := map[string]Envelope{
		"bad email":        {Type: KindSendEmail, Data: json.RawMessage(`{"to":"nope","subject":"s","body":"b"}`)},
		"missing subject":  {Type: KindSendEmail, Data: json.RawMessage(`{"to":"a@b.com","body":"b"}`)},
		"wrong json type":  {Type: KindScoreAssessment, Data: json.RawMessage(`{"assessmentId":1}`)},
		"missing user":     {Type: KindScoreAssessment, Data: json.RawMessage(`{"assessmentId":"x"}`)},
		"bad report type":  {Type: KindGenerateReport, Data: json.RawMessage(`{"reportType":"salaries","requestedBy":"a"}`)},
		"negative batch":   {Type: KindSyncStudents, Data: json.RawMessage(`{"batchSize":-1}`)},
		"bad link":         {Type: KindSendNotification, Data: json.RawMessage(`{"userId":"u","title":"t","message":"m","link":"::"}`)},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJob(env)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeJobInvalidPayload, types.CodeOf(err))
			assert.False(t, types.IsRetryable(err))
		})
	}

	err := ValidateJob(GenerateReportJob{ReportType: ReportNotifications, RequestedBy: "a", From: &from, To: &to})
	assert.Equal(t, types.ErrCodeJobInvalidPayload, types.CodeOf(err))
}
