package db

import (
	"context"

	"jobboard/internal/types"
)

// AssessmentResultRepository stores assessment scores.
type AssessmentResultRepository struct {
	db DBTX
}

// NewAssessmentResultRepository creates an AssessmentResultRepository.
func NewAssessmentResultRepository(db DBTX) *AssessmentResultRepository {
	return &AssessmentResultRepository{db: db}
}

// SaveAssessmentResult upserts the score for (assessment, user). Rescoring
// the same submission replaces the previous row.
func (r *AssessmentResultRepository) SaveAssessmentResult(ctx context.Context, res types.AssessmentResult) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO assessment_results
		 (assessment_id, user_id, score, correct, total, job_id, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (assessment_id, user_id) DO UPDATE SET
		   score = EXCLUDED.score,
		   correct = EXCLUDED.correct,
		   total = EXCLUDED.total,
		   job_id = EXCLUDED.job_id,
		   scored_at = EXCLUDED.scored_at`,
		res.AssessmentID,
		res.UserID,
		res.Score,
		res.Correct,
		res.Total,
		res.JobID,
		res.ScoredAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save assessment result", err)
	}
	return nil
}
