package repository

import (
	"context"

	"gavel/internal/common/db"
	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
)

// SubmissionRepository defines submission persistence used by the judge
// subsystem. Creating submissions is the web application's business; the
// coordinator only reads them and writes verdicts back.
type SubmissionRepository interface {
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	SetStatus(ctx context.Context, submissionID string, status model.Status) error
	ApplyVerdict(ctx context.Context, verdict *model.Verdict) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

// GetByID loads one submission.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	query := `
		SELECT submission_id, problem_id, user_id, language, source_code, status, created_at
		FROM submissions WHERE submission_id = ?
	`
	var sub model.Submission
	var status string
	err := r.db.QueryRow(ctx, query, submissionID).Scan(
		&sub.ID,
		&sub.ProblemID,
		&sub.UserID,
		&sub.Language,
		&sub.SourceCode,
		&status,
		&sub.CreatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission failed")
	}
	sub.Status = model.Status(status)
	return &sub, nil
}

// SetStatus updates only the lifecycle status (Pending/Judging).
func (r *MySQLSubmissionRepository) SetStatus(ctx context.Context, submissionID string, status model.Status) error {
	query := `UPDATE submissions SET status = ? WHERE submission_id = ?`
	if _, err := r.db.Exec(ctx, query, string(status), submissionID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission status failed")
	}
	return nil
}

// ApplyVerdict persists the final verdict and replaces per-test result rows
// in one transaction. Re-applying a verdict overwrites the previous one, so
// duplicate reports and rejudges are last-write-wins.
func (r *MySQLSubmissionRepository) ApplyVerdict(ctx context.Context, verdict *model.Verdict) error {
	if verdict == nil {
		return appErr.ValidationError("verdict", "required")
	}
	if verdict.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}

	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		update := `
			UPDATE submissions
			SET status = ?, score = ?, time_ms = ?, memory_kb = ?, compile_message = ?, judged_at = NOW()
			WHERE submission_id = ?
		`
		if _, err := tx.Exec(
			ctx,
			update,
			string(verdict.Status),
			verdict.Score,
			verdict.TimeMS,
			verdict.MemoryKB,
			verdict.CompileMessage,
			verdict.SubmissionID,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM submission_results WHERE submission_id = ?`, verdict.SubmissionID); err != nil {
			return err
		}
		insert := `
			INSERT INTO submission_results
			(submission_id, test_order, status, time_ms, memory_kb, score, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		for _, c := range verdict.Cases {
			if _, err := tx.Exec(
				ctx,
				insert,
				verdict.SubmissionID,
				c.Order,
				string(c.Status),
				c.TimeMS,
				c.MemoryKB,
				c.Score,
				c.Message,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.TransactionFailed, "apply verdict failed")
	}
	return nil
}
