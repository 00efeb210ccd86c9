package external

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobboard/internal/types"
)

// Stub implementations let workers boot locally without provider
// credentials. They log every call and return predictable values.

// StubMailer implements Mailer by logging calls and returning a fake id.
// Used when EMAIL_PROVIDER=stub.
type StubMailer struct {
	logger *slog.Logger
}

// NewStubMailer creates a StubMailer.
func NewStubMailer(logger *slog.Logger) *StubMailer {
	return &StubMailer{logger: logger}
}

func (s *StubMailer) Send(ctx context.Context, email Email) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send called",
		"to", types.RedactEmail(email.To),
		"subject", email.Subject,
		"html_bytes", len(email.HTML),
	)
	return fmt.Sprintf("stub-%d", time.Now().UnixNano()), nil
}

// StubStudentSyncer implements StudentSyncer by logging calls. Used when
// STUDENT_SYNC_URL is unset.
type StubStudentSyncer struct {
	logger *slog.Logger
}

// NewStubStudentSyncer creates a StubStudentSyncer.
func NewStubStudentSyncer(logger *slog.Logger) *StubStudentSyncer {
	return &StubStudentSyncer{logger: logger}
}

func (s *StubStudentSyncer) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	s.logger.InfoContext(ctx, "stub: Sync called", "batch_size", req.BatchSize, "source", req.Source)
	return SyncResult{}, nil
}

var (
	_ Mailer        = (*StubMailer)(nil)
	_ StudentSyncer = (*StubStudentSyncer)(nil)
)
