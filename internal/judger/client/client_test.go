package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gavel/internal/coordinator/model"
)

type fakeTransport struct {
	mu           sync.Mutex
	tasks        []*model.JudgeTask
	reports      map[string]*model.Verdict
	reportCounts map[string]int
	connects     int
	connectErr   error
	fetchErr     error
	reportErrs   int
}

func newFakeTransport(tasks ...*model.JudgeTask) *fakeTransport {
	return &fakeTransport{
		tasks:        tasks,
		reports:      make(map[string]*model.Verdict),
		reportCounts: make(map[string]int),
	}
}

func (f *fakeTransport) Connect(_ context.Context) (*ConnectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &ConnectInfo{Name: "node-test", MaxConcurrent: 2}, nil
}

func (f *fakeTransport) Heartbeat(_ context.Context) error { return nil }

func (f *fakeTransport) Fetch(_ context.Context) (*model.JudgeTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.tasks) == 0 {
		return nil, nil
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, nil
}

func (f *fakeTransport) Report(_ context.Context, taskID string, verdict *model.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCounts[taskID]++
	if f.reportErrs > 0 {
		f.reportErrs--
		return errors.New("transient report failure")
	}
	f.reports[taskID] = verdict
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) reported(taskID string) *model.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[taskID]
}

func (f *fakeTransport) reportCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportCounts[taskID]
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeJudge struct {
	mu      sync.Mutex
	judged  []string
	verdict func(task *model.JudgeTask) *model.Verdict
}

func (j *fakeJudge) Judge(_ context.Context, task *model.JudgeTask) *model.Verdict {
	j.mu.Lock()
	j.judged = append(j.judged, task.ID)
	j.mu.Unlock()
	if j.verdict != nil {
		return j.verdict(task)
	}
	return &model.Verdict{SubmissionID: task.SubmissionID, Status: model.StatusAccepted, Score: 100}
}

func fastIntervals() Option {
	return WithIntervals(10*time.Millisecond, 5*time.Millisecond, 10*time.Millisecond)
}

func runFor(t *testing.T, c *Client, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}
}

func TestClientJudgesAndReports(t *testing.T) {
	t.Parallel()
	task := &model.JudgeTask{ID: "task-1", SubmissionID: "sub-1"}
	transport := newFakeTransport(task)
	judge := &fakeJudge{}
	c := New(transport, judge, fastIntervals())

	runFor(t, c, 300*time.Millisecond)

	verdict := transport.reported("task-1")
	if verdict == nil || verdict.Status != model.StatusAccepted {
		t.Fatalf("verdict not reported: %+v", verdict)
	}
	if n := transport.reportCount("task-1"); n != 1 {
		t.Fatalf("reported %d times, want exactly 1", n)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state after run = %d", c.State())
	}
}

func TestClientRetriesReport(t *testing.T) {
	t.Parallel()
	task := &model.JudgeTask{ID: "task-1", SubmissionID: "sub-1"}
	transport := newFakeTransport(task)
	transport.reportErrs = 2
	c := New(transport, &fakeJudge{}, fastIntervals())

	// Report retry delay is fixed at seconds scale, so allow for two retries.
	runFor(t, c, 5*time.Second)

	if verdict := transport.reported("task-1"); verdict == nil {
		t.Fatalf("verdict lost despite retry budget")
	}
	if n := transport.reportCount("task-1"); n != 3 {
		t.Fatalf("reported %d times, want 3 (two failures then success)", n)
	}
}

func TestClientPanickingJudgeReportsSystemError(t *testing.T) {
	t.Parallel()
	task := &model.JudgeTask{ID: "task-1", SubmissionID: "sub-1"}
	transport := newFakeTransport(task)
	judge := &fakeJudge{verdict: func(*model.JudgeTask) *model.Verdict { panic("boom") }}
	c := New(transport, judge, fastIntervals())

	runFor(t, c, 300*time.Millisecond)

	verdict := transport.reported("task-1")
	if verdict == nil || verdict.Status != model.StatusSystemError {
		t.Fatalf("expected SystemError verdict, got %+v", verdict)
	}
}

func TestClientReconnectsOnAuthFailure(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.fetchErr = ErrUnauthorized
	c := New(transport, &fakeJudge{}, fastIntervals())

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if transport.connectCount() >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := transport.connectCount(); got < 3 {
		t.Fatalf("expected repeated reconnects on auth failure, got %d connects", got)
	}
}

func TestClientConnectBackoff(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.connectErr = errors.New("coordinator down")
	c := New(transport, &fakeJudge{}, fastIntervals())

	runFor(t, c, 100*time.Millisecond)

	if got := transport.connectCount(); got < 2 {
		t.Fatalf("expected connect retries, got %d", got)
	}
}

func TestClientBoundsConcurrentJudges(t *testing.T) {
	t.Parallel()
	var tasks []*model.JudgeTask
	for i := 0; i < 6; i++ {
		tasks = append(tasks, &model.JudgeTask{ID: "task-" + string(rune('a'+i)), SubmissionID: "sub"})
	}
	transport := newFakeTransport(tasks...)

	var mu sync.Mutex
	running, peak := 0, 0
	judge := &fakeJudge{verdict: func(task *model.JudgeTask) *model.Verdict {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return &model.Verdict{SubmissionID: task.SubmissionID, Status: model.StatusAccepted}
	}}
	c := New(transport, judge, fastIntervals())

	runFor(t, c, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("judge concurrency peaked at %d, limit is 2", peak)
	}
	if len(transport.reports) != 6 {
		t.Fatalf("reported %d verdicts, want 6", len(transport.reports))
	}
}
