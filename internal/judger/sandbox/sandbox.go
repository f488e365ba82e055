// Package sandbox executes untrusted programs under resource limits. Two
// backends exist: an isolate-based one with real isolation, and a plain
// process backend for machines without isolate. The process backend enforces
// limits but not isolation; it exists so development machines can run the
// full pipeline.
package sandbox

import (
	"context"
	"os/exec"

	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Command describes one bounded execution.
type Command struct {
	Args []string
	Env  []string
	Dir  string // host directory holding the program and its files

	StdinPath  string // optional, read from Dir-relative or absolute path
	StdoutPath string // optional, redirect stdout to this host path

	CPUTimeMS  int64
	WallTimeMS int64
	MemoryKB   int64

	StdoutLimit int64 // capture cap in bytes when StdoutPath is empty
	StderrLimit int64
}

// Result reports what the program did and what it cost.
type Result struct {
	ExitCode int
	TimeMS   int64
	WallMS   int64
	MemoryKB int64

	Stdout []byte
	Stderr []byte

	TimedOut     bool // CPU limit hit
	WallTimedOut bool // wall clock limit hit
	OOMKilled    bool
	Truncated    bool // stdout capture hit StdoutLimit
}

// Runner executes commands under limits.
type Runner interface {
	Name() string
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Config selects the backend.
type Config struct {
	Backend     string // auto, isolate, process
	IsolatePath string
	Boxes       int // isolate box pool size
}

// New picks a runner per the config. With backend auto it prefers isolate
// and falls back to the process runner when the binary is not usable.
func New(ctx context.Context, cfg Config) (Runner, error) {
	switch cfg.Backend {
	case "isolate":
		return NewIsolateRunner(cfg.IsolatePath, cfg.Boxes)
	case "process":
		return NewProcessRunner(), nil
	case "", "auto":
		if isolateUsable(cfg.IsolatePath) {
			return NewIsolateRunner(cfg.IsolatePath, cfg.Boxes)
		}
		logger.Warn(ctx, "isolate not usable, running without isolation",
			zap.String("isolate_path", cfg.IsolatePath))
		return NewProcessRunner(), nil
	default:
		return nil, appErr.Newf(appErr.ConfigError, "unknown sandbox backend %q", cfg.Backend)
	}
}

func isolateUsable(path string) bool {
	if path == "" {
		path = "isolate"
	}
	return exec.Command(path, "--version").Run() == nil
}
