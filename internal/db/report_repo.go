package db

import (
	"context"
	"encoding/json"
	"fmt"

	"jobboard/internal/types"
)

// reportQueries select one JSON object per row. $1 and $2 are the optional
// window bounds; a NULL bound is open.
var reportQueries = map[string]string{
	"assessment_results": `SELECT row_to_json(t) FROM (
		SELECT assessment_id, user_id, score, correct, total, scored_at
		FROM assessment_results
		WHERE ($1::timestamptz IS NULL OR scored_at >= $1)
		  AND ($2::timestamptz IS NULL OR scored_at < $2)
		ORDER BY scored_at, assessment_id, user_id
	) t`,
	"notifications": `SELECT row_to_json(t) FROM (
		SELECT id, user_id, title, type, read_at IS NOT NULL AS read, created_at
		FROM notifications
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at, id
	) t`,
	"applications": `SELECT row_to_json(t) FROM (
		SELECT id, job_id, user_id, status, created_at
		FROM applications
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at, id
	) t`,
}

// ReportRepository streams report rows.
type ReportRepository struct {
	db DBTX
}

// NewReportRepository creates a ReportRepository.
func NewReportRepository(db DBTX) *ReportRepository {
	return &ReportRepository{db: db}
}

// StreamReport calls yield with each row of reportType inside window, in a
// stable order, and returns the row count. An error from yield stops the
// scan and is returned as-is.
func (r *ReportRepository) StreamReport(ctx context.Context, reportType string, window types.ReportWindow, yield func(json.RawMessage) error) (int, error) {
	query, ok := reportQueries[reportType]
	if !ok {
		return 0, types.NewAppError(types.ErrCodeJobInvalidPayload, fmt.Sprintf("unknown report type %q", reportType), nil)
	}

	rows, err := r.db.Query(ctx, query, window.From, window.To)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to query report rows", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var row []byte
		if err := rows.Scan(&row); err != nil {
			return n, types.NewAppError(types.ErrCodeInternalDB, "failed to scan report row", err)
		}
		if err := yield(row); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, types.NewAppError(types.ErrCodeInternalDB, "report row iteration failed", err)
	}
	return n, nil
}
