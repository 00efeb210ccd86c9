package types

import "time"

// AssessmentResult is the score a worker derived for one submission. It is
// keyed by (AssessmentID, UserID); a redelivered job overwrites its own row.
type AssessmentResult struct {
	AssessmentID string    `json:"assessmentId"`
	UserID       string    `json:"userId"`
	Score        int       `json:"score"`
	Correct      int       `json:"correct"`
	Total        int       `json:"total"`
	JobID        string    `json:"jobId"`
	ScoredAt     time.Time `json:"scoredAt"`
}

// Notification is an in-app notification row. ID is the id of the job that
// produced it so redelivery cannot create a duplicate.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReportWindow bounds report rows by creation time. Nil ends are open.
type ReportWindow struct {
	From *time.Time
	To   *time.Time
}
