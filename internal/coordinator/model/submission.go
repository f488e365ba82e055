package model

import "time"

// Submission is the durable record a task originates from and the place its
// final verdict lands. Everything else about submissions is owned by the
// surrounding web application.
type Submission struct {
	ID             string
	ProblemID      int64
	UserID         int64
	Language       string
	SourceCode     string
	Status         Status
	Score          int
	TimeMS         int64
	MemoryKB       int64
	CompileMessage string
	CreatedAt      time.Time
}

// Problem carries the judging-relevant fields of a problem record.
type Problem struct {
	ID            int64
	TimeLimitMS   int64
	MemoryLimitKB int64
	Mode          VerifyMode
	CheckerSource string
	AcceptedCount int64
}

// TestCase is the durable per-problem test case row; blobs live in the
// blob store under InputKey/OutputKey.
type TestCase struct {
	ProblemID int64
	Order     int
	InputKey  string
	OutputKey string
	Score     int
}
