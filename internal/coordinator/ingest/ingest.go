// Package ingest persists judge verdicts reported by worker nodes.
package ingest

import (
	"context"

	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/model"
	"gavel/internal/coordinator/repository"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Ingester applies reported verdicts to storage and settles the dispatch
// bookkeeping for the finished task.
type Ingester struct {
	dispatcher  *dispatch.Dispatcher
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
}

// New creates an ingester.
func New(dispatcher *dispatch.Dispatcher, submissions repository.SubmissionRepository, problems repository.ProblemRepository) *Ingester {
	return &Ingester{
		dispatcher:  dispatcher,
		submissions: submissions,
		problems:    problems,
	}
}

// Report handles a verdict reported by a node for an assigned task. The task
// is settled first so the node's capacity slot frees even if persistence
// fails; a report for a task no longer in flight (reclaimed, or a duplicate)
// is still persisted, last write wins.
func (i *Ingester) Report(ctx context.Context, nodeID, taskID string, verdict *model.Verdict) error {
	if verdict == nil || verdict.SubmissionID == "" {
		return appErr.Newf(appErr.ValidationFailed, "verdict missing submission id")
	}
	if !verdict.Status.Terminal() {
		return appErr.Newf(appErr.ValidationFailed, "verdict status %q is not terminal", verdict.Status)
	}

	task := i.dispatcher.Complete(taskID, nodeID)
	if task == nil {
		logger.Warn(ctx, "verdict for task not in flight",
			zap.String("task_id", taskID),
			zap.String("node_id", nodeID),
			zap.String("submission_id", verdict.SubmissionID),
		)
	}

	if err := i.persist(ctx, verdict); err != nil {
		return err
	}

	logger.Info(ctx, "verdict ingested",
		zap.String("submission_id", verdict.SubmissionID),
		zap.String("status", string(verdict.Status)),
		zap.Int("score", verdict.Score),
		zap.String("node_id", nodeID),
	)
	return nil
}

// SystemFail records a terminal system error for a task that could not be
// judged, typically because its retry budget ran out.
func (i *Ingester) SystemFail(ctx context.Context, task *model.JudgeTask, message string) error {
	verdict := &model.Verdict{
		SubmissionID:   task.SubmissionID,
		Status:         model.StatusSystemError,
		CompileMessage: message,
	}
	logger.Error(ctx, "task failed terminally",
		zap.String("task_id", task.ID),
		zap.String("submission_id", task.SubmissionID),
		zap.String("reason", message),
	)
	return i.persist(ctx, verdict)
}

func (i *Ingester) persist(ctx context.Context, verdict *model.Verdict) error {
	// Prior status read before the verdict overwrites it: a duplicate report
	// or an accepted-to-accepted rejudge must not count twice.
	countAccept := false
	var problemID int64
	if verdict.Status == model.StatusAccepted {
		sub, err := i.submissions.GetByID(ctx, verdict.SubmissionID)
		if err != nil {
			logger.Warn(ctx, "load submission for accept counter failed",
				zap.String("submission_id", verdict.SubmissionID), zap.Error(err))
		} else if sub.Status != model.StatusAccepted {
			countAccept = true
			problemID = sub.ProblemID
		}
	}

	if err := i.submissions.ApplyVerdict(ctx, verdict); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "apply verdict for submission %s", verdict.SubmissionID).
			WithDetail("submission_id", verdict.SubmissionID)
	}
	if countAccept {
		if err := i.problems.IncrementAccepted(ctx, problemID); err != nil {
			logger.Warn(ctx, "increment accepted counter failed",
				zap.Int64("problem_id", problemID), zap.Error(err))
		}
	}
	return nil
}
