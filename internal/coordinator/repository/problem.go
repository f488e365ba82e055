package repository

import (
	"context"

	"gavel/internal/common/db"
	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
)

// ProblemRepository reads judging-relevant problem data and maintains the
// accepted counter.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)
	ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
	IncrementAccepted(ctx context.Context, problemID int64) error
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(database db.Database) *MySQLProblemRepository {
	return &MySQLProblemRepository{db: database}
}

// GetByID loads one problem.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	query := `
		SELECT problem_id, time_limit_ms, memory_limit_kb, verify_mode, checker_source, accepted_count
		FROM problems WHERE problem_id = ?
	`
	var p model.Problem
	var mode string
	err := r.db.QueryRow(ctx, query, problemID).Scan(
		&p.ID,
		&p.TimeLimitMS,
		&p.MemoryLimitKB,
		&mode,
		&p.CheckerSource,
		&p.AcceptedCount,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query problem failed")
	}
	p.Mode = model.VerifyMode(mode)
	return &p, nil
}

// ListTestCases returns the problem's test cases in execution order.
func (r *MySQLProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	query := `
		SELECT problem_id, test_order, input_key, output_key, score
		FROM test_cases WHERE problem_id = ? ORDER BY test_order
	`
	rows, err := r.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list test cases failed")
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ProblemID, &tc.Order, &tc.InputKey, &tc.OutputKey, &tc.Score); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed")
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases failed")
	}
	return cases, nil
}

// IncrementAccepted bumps the problem's accepted counter.
func (r *MySQLProblemRepository) IncrementAccepted(ctx context.Context, problemID int64) error {
	query := `UPDATE problems SET accepted_count = accepted_count + 1 WHERE problem_id = ?`
	if _, err := r.db.Exec(ctx, query, problemID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "increment accepted count failed")
	}
	return nil
}
