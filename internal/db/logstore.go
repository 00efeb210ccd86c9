package db

import (
	"context"
	"encoding/json"
	"log/slog"

	"jobboard/internal/types"
)

// LogStore stands in for the repositories when DATABASE_URL is unset. It
// logs writes and produces empty reports.
type LogStore struct {
	logger *slog.Logger
}

// NewLogStore creates a LogStore.
func NewLogStore(logger *slog.Logger) *LogStore {
	return &LogStore{logger: logger}
}

func (s *LogStore) SaveAssessmentResult(ctx context.Context, res types.AssessmentResult) error {
	s.logger.InfoContext(ctx, "stub: SaveAssessmentResult called",
		"assessment_id", res.AssessmentID,
		"user_id", res.UserID,
		"score", res.Score,
	)
	return nil
}

func (s *LogStore) DispatchNotification(ctx context.Context, n types.Notification) (bool, error) {
	s.logger.InfoContext(ctx, "stub: DispatchNotification called",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"title", n.Title,
	)
	return true, nil
}

func (s *LogStore) StreamReport(ctx context.Context, reportType string, _ types.ReportWindow, _ func(json.RawMessage) error) (int, error) {
	s.logger.InfoContext(ctx, "stub: StreamReport called", "report_type", reportType)
	return 0, nil
}
