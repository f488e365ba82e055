package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	appErr "gavel/pkg/errors"

	"golang.org/x/sys/unix"
)

const defaultCaptureLimit = 64 * 1024

// ProcessRunner runs programs as ordinary child processes in their own
// process group. It enforces time, memory, and output limits but provides no
// filesystem or network isolation.
type ProcessRunner struct{}

// NewProcessRunner creates the fallback runner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

func (r *ProcessRunner) Name() string { return "process" }

// Run executes the command. Enforcement is a wall clock timer that kills the
// whole process group, so programs that fork or sleep cannot outlive it; CPU
// and memory excess are detected from rusage after exit.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, appErr.ValidationError("args", "required")
	}

	wallLimit := time.Duration(cmd.WallTimeMS) * time.Millisecond
	if wallLimit <= 0 && cmd.CPUTimeMS > 0 {
		wallLimit = 2 * time.Duration(cmd.CPUTimeMS) * time.Millisecond
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if wallLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, wallLimit)
		defer cancel()
	}

	execCmd := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = cmd.Env
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cmd.StdinPath != "" {
		stdin, err := os.Open(cmd.StdinPath)
		if err != nil {
			return Result{}, appErr.Wrapf(err, appErr.SandboxSetupFailed, "open stdin %s", cmd.StdinPath)
		}
		defer stdin.Close()
		execCmd.Stdin = stdin
	}

	stdoutCap := cmd.StdoutLimit
	if stdoutCap <= 0 {
		stdoutCap = defaultCaptureLimit
	}
	stderrCap := cmd.StderrLimit
	if stderrCap <= 0 {
		stderrCap = defaultCaptureLimit
	}

	stdout := newCappedBuffer(stdoutCap)
	stderr := newCappedBuffer(stderrCap)
	execCmd.Stderr = stderr

	var stdoutFile *os.File
	if cmd.StdoutPath != "" {
		f, err := os.Create(cmd.StdoutPath)
		if err != nil {
			return Result{}, appErr.Wrapf(err, appErr.SandboxSetupFailed, "create stdout %s", cmd.StdoutPath)
		}
		stdoutFile = f
		defer stdoutFile.Close()
		execCmd.Stdout = stdoutFile
	} else {
		execCmd.Stdout = stdout
	}

	start := time.Now()
	if err := execCmd.Start(); err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxSetupFailed, "start %s", cmd.Args[0])
	}
	pgid := execCmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- execCmd.Wait() }()

	var waitErr error
	wallKilled := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		wallKilled = true
		killGroup(pgid)
		waitErr = <-done
	}
	wallMS := time.Since(start).Milliseconds()

	res := Result{
		Stdout:       stdout.Bytes(),
		Stderr:       stderr.Bytes(),
		WallMS:       wallMS,
		WallTimedOut: wallKilled && errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Truncated:    stdout.Truncated(),
	}

	state := execCmd.ProcessState
	if state != nil {
		res.ExitCode = state.ExitCode()
		if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
			res.TimeMS = usage.Utime.Sec*1000 + int64(usage.Utime.Usec)/1000 +
				usage.Stime.Sec*1000 + int64(usage.Stime.Usec)/1000
			res.MemoryKB = maxRSSKB(usage.Maxrss)
		}
	}
	if cmd.CPUTimeMS > 0 && res.TimeMS > cmd.CPUTimeMS {
		res.TimedOut = true
	}
	if res.WallTimedOut {
		res.TimedOut = true
	}
	if cmd.MemoryKB > 0 && res.MemoryKB > cmd.MemoryKB {
		res.OOMKilled = true
	}

	if waitErr != nil && state == nil {
		return res, appErr.Wrap(waitErr, appErr.SandboxSetupFailed)
	}
	return res, nil
}

func killGroup(pgid int) {
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// maxRSSKB normalizes Maxrss, which is bytes on darwin and kilobytes on
// linux.
func maxRSSKB(maxrss int64) int64 {
	if runtime.GOOS == "darwin" {
		return maxrss / 1024
	}
	return maxrss
}

// cappedBuffer keeps at most limit bytes and silently discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
