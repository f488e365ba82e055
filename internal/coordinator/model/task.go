package model

import "time"

// VerifyMode selects how a test case output is judged.
type VerifyMode string

const (
	// VerifyStandard compares output line by line, ignoring trailing
	// whitespace per line and trailing blank lines.
	VerifyStandard VerifyMode = "standard"
	// VerifySpecial runs an external checker program; exit 0 means correct.
	VerifySpecial VerifyMode = "special"
)

// TestCaseSpec is one test case snapshot inside a task. Immutable once the
// task is built; Order is 1-based and defines execution order.
type TestCaseSpec struct {
	Order     int    `json:"order"`
	InputKey  string `json:"input_key"`
	OutputKey string `json:"output_key"`
	Score     int    `json:"score"`
}

// JudgeTask is one queued judging unit. It snapshots everything the worker
// needs at enqueue time so later problem edits cannot change a queued task.
type JudgeTask struct {
	ID            string         `json:"task_id"`
	SubmissionID  string         `json:"submission_id"`
	ProblemID     int64          `json:"problem_id"`
	SourceCode    string         `json:"source_code"`
	Language      string         `json:"language"`
	TimeLimitMS   int64          `json:"time_limit_ms"`
	MemoryLimitKB int64          `json:"memory_limit_kb"`
	Mode          VerifyMode     `json:"mode"`
	CheckerSource string         `json:"checker_source,omitempty"`
	TestCases     []TestCaseSpec `json:"test_cases"`

	AssignedNode string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
	AssignedAt   time.Time `json:"-"`
	Retries      int       `json:"-"`
}
