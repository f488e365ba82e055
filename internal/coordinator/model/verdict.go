package model

// Status is the outcome classification of a submission or test case.
type Status string

const (
	StatusPending             Status = "Pending"
	StatusJudging             Status = "Judging"
	StatusAccepted            Status = "Accepted"
	StatusWrongAnswer         Status = "WrongAnswer"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusCompileError        Status = "CompileError"
	StatusPartiallyAccepted   Status = "PartiallyAccepted"
	StatusSystemError         Status = "SystemError"
)

// Terminal reports whether a status ends the judging state machine.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusJudging:
		return false
	}
	return true
}

// TestCaseResult is one per-test outcome inside a verdict.
type TestCaseResult struct {
	Order    int    `json:"order"`
	Status   Status `json:"status"`
	TimeMS   int64  `json:"time_ms"`
	MemoryKB int64  `json:"memory_kb"`
	Score    int    `json:"score"`
	Message  string `json:"message,omitempty"`
}

// Verdict is the outcome a worker reports for one task.
type Verdict struct {
	SubmissionID   string           `json:"submission_id"`
	Status         Status           `json:"status"`
	Score          int              `json:"score"`
	TimeMS         int64            `json:"time_ms"`
	MemoryKB       int64            `json:"memory_kb"`
	CompileMessage string           `json:"compile_message,omitempty"`
	Cases          []TestCaseResult `json:"cases,omitempty"`
}

// Aggregate folds per-test results into an overall verdict following the
// scoring rules: Accepted only when every case is accepted; a non-zero
// partial score yields PartiallyAccepted; otherwise the first non-accepted
// status in test order wins. Time and memory are maxima across cases.
func Aggregate(submissionID string, cases []TestCaseResult) Verdict {
	v := Verdict{
		SubmissionID: submissionID,
		Status:       StatusAccepted,
		Cases:        cases,
	}
	for _, c := range cases {
		v.Score += c.Score
		if c.TimeMS > v.TimeMS {
			v.TimeMS = c.TimeMS
		}
		if c.MemoryKB > v.MemoryKB {
			v.MemoryKB = c.MemoryKB
		}
		if c.Status != StatusAccepted && v.Status == StatusAccepted {
			v.Status = c.Status
		}
	}
	if v.Status != StatusAccepted && v.Score > 0 {
		v.Status = StatusPartiallyAccepted
	}
	return v
}
