// Package dispatch owns the pending task queue and the assignment of tasks
// to judger nodes.
package dispatch

import (
	"container/list"
	"context"
	"sync"
	"time"

	"gavel/internal/coordinator/model"
	"gavel/internal/coordinator/registry"
	"gavel/internal/coordinator/repository"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

// Dispatcher queues judge tasks and hands them to nodes under the registry's
// capacity accounting. A task is in flight for exactly one node at a time;
// the queue, the in-flight set, and the capacity increment are guarded so
// concurrent fetches can never double-assign.
type Dispatcher struct {
	reg         *registry.Registry
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository

	mu       sync.Mutex
	queue    *list.List               // of *model.JudgeTask, head = next to dispatch
	inFlight map[string]*model.JudgeTask // task id -> assigned task

	maxRetries int
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxRetries overrides the retry ceiling for reclaimed tasks.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

// New creates a dispatcher.
func New(reg *registry.Registry, submissions repository.SubmissionRepository, problems repository.ProblemRepository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:         reg,
		submissions: submissions,
		problems:    problems,
		queue:       list.New(),
		inFlight:    make(map[string]*model.JudgeTask),
		maxRetries:  defaultMaxRetries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue resolves the submission's problem and test cases now, so the queued
// task is self-contained and immune to later problem edits, and appends it to
// the queue tail. Rejudges go through the same path and therefore do not jump
// ahead of newer submissions.
func (d *Dispatcher) Enqueue(ctx context.Context, submissionID string) (*model.JudgeTask, error) {
	sub, err := d.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	problem, err := d.problems.GetByID(ctx, sub.ProblemID)
	if err != nil {
		return nil, err
	}
	cases, err := d.problems.ListTestCases(ctx, sub.ProblemID)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, appErr.New(appErr.TestCaseNotFound).WithDetail("problem_id", sub.ProblemID)
	}

	specs := make([]model.TestCaseSpec, 0, len(cases))
	for _, tc := range cases {
		specs = append(specs, model.TestCaseSpec{
			Order:     tc.Order,
			InputKey:  tc.InputKey,
			OutputKey: tc.OutputKey,
			Score:     tc.Score,
		})
	}

	mode := problem.Mode
	if mode == "" {
		mode = model.VerifyStandard
	}
	task := &model.JudgeTask{
		ID:            uuid.NewString(),
		SubmissionID:  sub.ID,
		ProblemID:     problem.ID,
		SourceCode:    sub.SourceCode,
		Language:      sub.Language,
		TimeLimitMS:   problem.TimeLimitMS,
		MemoryLimitKB: problem.MemoryLimitKB,
		Mode:          mode,
		CheckerSource: problem.CheckerSource,
		TestCases:     specs,
		CreatedAt:     d.now(),
	}

	if err := d.submissions.SetStatus(ctx, sub.ID, model.StatusPending); err != nil {
		logger.Warn(ctx, "mark submission pending failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	d.mu.Lock()
	d.queue.PushBack(task)
	d.mu.Unlock()

	logger.Info(ctx, "task enqueued",
		zap.String("task_id", task.ID),
		zap.String("submission_id", task.SubmissionID),
		zap.Int("test_cases", len(specs)),
	)
	return task, nil
}

// Fetch hands the node the oldest queued task it can judge, or nil when the
// node is at capacity or nothing suitable is pending. Capacity check plus
// increment and queue pop happen as one indivisible step.
func (d *Dispatcher) Fetch(ctx context.Context, nodeID string) (*model.JudgeTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var elem *list.Element
	for e := d.queue.Front(); e != nil; e = e.Next() {
		task := e.Value.(*model.JudgeTask)
		if d.reg.Supports(nodeID, task.Language) {
			elem = e
			break
		}
	}
	if elem == nil {
		return nil, nil
	}

	if !d.reg.TryAcquire(nodeID) {
		return nil, nil
	}

	task := d.queue.Remove(elem).(*model.JudgeTask)
	task.AssignedNode = nodeID
	task.AssignedAt = d.now()
	d.inFlight[task.ID] = task

	logger.Info(ctx, "task assigned",
		zap.String("task_id", task.ID),
		zap.String("submission_id", task.SubmissionID),
		zap.String("node_id", nodeID),
	)
	return task, nil
}

// Complete removes a reported task from the in-flight set and releases the
// node's capacity slot. Duplicate completions are harmless: the second call
// finds nothing in flight and leaves the counters alone.
func (d *Dispatcher) Complete(taskID, nodeID string) *model.JudgeTask {
	d.mu.Lock()
	task, ok := d.inFlight[taskID]
	if ok {
		delete(d.inFlight, taskID)
	}
	d.mu.Unlock()

	if ok {
		d.reg.Release(nodeID)
		return task
	}
	return nil
}

// Requeue puts a reclaimed task back on the queue tail with its retry counter
// bumped. Returns false once the retry ceiling is reached; the task is then
// dropped and the caller must surface a terminal failure.
func (d *Dispatcher) Requeue(task *model.JudgeTask) bool {
	task.AssignedNode = ""
	task.AssignedAt = time.Time{}
	task.Retries++
	if task.Retries >= d.maxRetries {
		return false
	}

	d.mu.Lock()
	d.queue.PushBack(task)
	d.mu.Unlock()
	return true
}

// TakeNext pops the queue head without capacity accounting. The broker
// dispatch path uses it; there the consumer group decides which node runs
// the task.
func (d *Dispatcher) TakeNext() *model.JudgeTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.queue.Front()
	if e == nil {
		return nil
	}
	return d.queue.Remove(e).(*model.JudgeTask)
}

// Restore puts a task back at the queue head without touching its retry
// counter. Used when handing a popped task onward fails.
func (d *Dispatcher) Restore(task *model.JudgeTask) {
	d.mu.Lock()
	d.queue.PushFront(task)
	d.mu.Unlock()
}

// TakeAssigned removes and returns every in-flight task assigned to the node.
// Used by the health monitor when a node goes stale.
func (d *Dispatcher) TakeAssigned(nodeID string) []*model.JudgeTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	var tasks []*model.JudgeTask
	for id, task := range d.inFlight {
		if task.AssignedNode == nodeID {
			tasks = append(tasks, task)
			delete(d.inFlight, id)
		}
	}
	return tasks
}

// PendingCount is the queue depth. Operator visibility only; it plays no
// part in admission control.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// InFlightCount is the number of tasks currently assigned to nodes.
func (d *Dispatcher) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
