package external

import "context"

// Email is one rendered message. Text is optional; providers send HTML only
// when it is empty.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers transactional email.
type Mailer interface {
	// Send transmits email and returns the provider's message id when it
	// reports one. Errors are AppErrors; ErrCodeEmailBlocked is permanent.
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// SyncResult summarizes one student directory sync.
type SyncResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// SyncRequest selects how much of the directory to pull.
type SyncRequest struct {
	BatchSize int    `json:"batchSize"`
	Source    string `json:"source,omitempty"`
}

// StudentSyncer pulls and merges student records from the external directory.
type StudentSyncer interface {
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
}
