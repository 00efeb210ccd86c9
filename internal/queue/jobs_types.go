package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"jobboard/internal/types"
)

// JobKind tags the payload carried by an envelope.
type JobKind string

const (
	KindSendEmail        JobKind = "send_email"
	KindSyncStudents     JobKind = "sync_students"
	KindScoreAssessment  JobKind = "score_assessment"
	KindSendNotification JobKind = "send_notification"
	KindGenerateReport   JobKind = "generate_report"
)

// Kinds lists every job kind.
func Kinds() []JobKind {
	return []JobKind{KindSendEmail, KindSyncStudents, KindScoreAssessment, KindSendNotification, KindGenerateReport}
}

// KindQueue returns the queue that carries kind.
func KindQueue(kind JobKind) (string, error) {
	switch kind {
	case KindSendEmail:
		return EmailQueue, nil
	case KindSyncStudents:
		return StudentSyncQueue, nil
	case KindScoreAssessment:
		return AssessmentScoringQueue, nil
	case KindSendNotification:
		return NotificationsQueue, nil
	case KindGenerateReport:
		return ReportsQueue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
}

// Job is implemented by every typed payload.
type Job interface {
	Kind() JobKind
}

// EmailJob sends one HTML email.
type EmailJob struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
	Text    string `json:"text,omitempty"`
}

func (EmailJob) Kind() JobKind { return KindSendEmail }

// SyncStudentsJob pulls student records from the external directory.
// Zero BatchSize uses the configured default.
type SyncStudentsJob struct {
	BatchSize int    `json:"batchSize,omitempty" validate:"gte=0,lte=10000"`
	Source    string `json:"source,omitempty"`
}

func (SyncStudentsJob) Kind() JobKind { return KindSyncStudents }

// Answer is one submitted assessment answer.
type Answer struct {
	QuestionID string `json:"questionId,omitempty"`
	IsCorrect  bool   `json:"isCorrect"`
}

// ScoreAssessmentJob scores a submitted assessment.
type ScoreAssessmentJob struct {
	AssessmentID string   `json:"assessmentId" validate:"required"`
	UserID       string   `json:"userId" validate:"required"`
	Answers      []Answer `json:"answers"`
}

func (ScoreAssessmentJob) Kind() JobKind { return KindScoreAssessment }

// NotificationJob records an in-app notification for a user.
type NotificationJob struct {
	UserID  string `json:"userId" validate:"required"`
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
	Type    string `json:"type,omitempty"`
	Link    string `json:"link,omitempty" validate:"omitempty,uri"`
}

func (NotificationJob) Kind() JobKind { return KindSendNotification }

// Report types accepted by GenerateReportJob.
const (
	ReportAssessmentResults = "assessment_results"
	ReportNotifications     = "notifications"
	ReportApplications      = "applications"
)

// GenerateReportJob builds a report archive over an optional time window.
type GenerateReportJob struct {
	ReportType  string     `json:"reportType" validate:"required,oneof=assessment_results notifications applications"`
	RequestedBy string     `json:"requestedBy" validate:"required"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
}

func (GenerateReportJob) Kind() JobKind { return KindGenerateReport }

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateJob checks a payload's field rules.
func ValidateJob(job Job) error {
	if err := validate.Struct(job); err != nil {
		return types.NewAppError(types.ErrCodeJobInvalidPayload, fmt.Sprintf("invalid %s payload", job.Kind()), err)
	}
	if r, ok := job.(GenerateReportJob); ok && r.From != nil && r.To != nil && !r.To.After(*r.From) {
		return types.NewAppError(types.ErrCodeJobInvalidPayload, "report window must end after it starts", nil)
	}
	return nil
}

// DecodeJob decodes and validates the typed payload of env. Unknown kinds
// wrap ErrUnknownJobKind; bad payloads are non-retryable AppErrors.
func DecodeJob(env Envelope) (Job, error) {
	switch env.Type {
	case KindSendEmail:
		return decodeAs[EmailJob](env)
	case KindSyncStudents:
		return decodeAs[SyncStudentsJob](env)
	case KindScoreAssessment:
		return decodeAs[ScoreAssessmentJob](env)
	case KindSendNotification:
		return decodeAs[NotificationJob](env)
	case KindGenerateReport:
		return decodeAs[GenerateReportJob](env)
	default:
		return nil, types.NewAppError(types.ErrCodeJobUnknownType, fmt.Sprintf("no handler for job type %q", env.Type),
			fmt.Errorf("%w: %q", ErrUnknownJobKind, env.Type))
	}
}

func decodeAs[T Job](env Envelope) (Job, error) {
	var job T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &job); err != nil {
			return nil, types.NewAppError(types.ErrCodeJobInvalidPayload, fmt.Sprintf("malformed %s payload", env.Type), err)
		}
	}
	if err := ValidateJob(job); err != nil {
		return nil, err
	}
	return job, nil
}
