package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gavel/internal/common/mq"
	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/ingest"
	"gavel/internal/coordinator/model"
	"gavel/internal/coordinator/registry"
	appErr "gavel/pkg/errors"
)

type fakeQueue struct {
	mu        sync.Mutex
	published map[string][]*mq.Message
	handlers  map[string]mq.HandlerFunc
	pubErr    error
	started   bool
	stopped   bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][]*mq.Message),
		handlers:  make(map[string]mq.HandlerFunc),
	}
}

func (q *fakeQueue) Publish(_ context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pubErr != nil {
		return q.pubErr
	}
	q.published[topic] = append(q.published[topic], message)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, topic string, handler mq.HandlerFunc, _ *mq.SubscribeOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
	return nil
}

func (q *fakeQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	return nil
}

func (q *fakeQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	return nil
}

func (q *fakeQueue) Ping(_ context.Context) error { return nil }
func (q *fakeQueue) Close() error                 { return nil }

func (q *fakeQueue) publishedTo(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mq.Message(nil), q.published[topic]...)
}

// deliver simulates the broker pushing a message to a subscriber.
func (q *fakeQueue) deliver(ctx context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	handler := q.handlers[topic]
	q.mu.Unlock()
	if handler == nil {
		return appErr.Newf(appErr.ServiceUnavailable, "no handler for %s", topic)
	}
	return handler(ctx, message)
}

type fakeNodeRepo struct {
	mu    sync.Mutex
	nodes map[string]*model.JudgerNode
}

func (f *fakeNodeRepo) Create(_ context.Context, node *model.JudgerNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *node
	f.nodes[node.ID] = &clone
	return nil
}

func (f *fakeNodeRepo) GetByID(_ context.Context, nodeID string) (*model.JudgerNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[nodeID]
	if !ok {
		return nil, appErr.New(appErr.NodeNotFound)
	}
	clone := *node
	return &clone, nil
}

func (f *fakeNodeRepo) List(_ context.Context) ([]*model.JudgerNode, error)  { return nil, nil }
func (f *fakeNodeRepo) SetEnabled(_ context.Context, _ string, _ bool) error { return nil }
func (f *fakeNodeRepo) SoftDelete(_ context.Context, _ string) error         { return nil }

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[string]*model.Submission
	verdicts    map[string]*model.Verdict
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, submissionID string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[submissionID]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	clone := *sub
	return &clone, nil
}

func (f *fakeSubmissionRepo) SetStatus(_ context.Context, _ string, _ model.Status) error {
	return nil
}

func (f *fakeSubmissionRepo) ApplyVerdict(_ context.Context, verdict *model.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *verdict
	f.verdicts[verdict.SubmissionID] = &clone
	return nil
}

type fakeProblemRepo struct{}

func (fakeProblemRepo) GetByID(_ context.Context, problemID int64) (*model.Problem, error) {
	return &model.Problem{ID: problemID, TimeLimitMS: 1000, MemoryLimitKB: 65536}, nil
}

func (fakeProblemRepo) ListTestCases(_ context.Context, problemID int64) ([]model.TestCase, error) {
	return []model.TestCase{{ProblemID: problemID, Order: 1, InputKey: "in", OutputKey: "out", Score: 100}}, nil
}

func (fakeProblemRepo) IncrementAccepted(_ context.Context, _ int64) error { return nil }

type testDeps struct {
	queue       *fakeQueue
	dispatcher  *dispatch.Dispatcher
	bridge      *Bridge
	submissions *fakeSubmissionRepo
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	reg := registry.New(&fakeNodeRepo{nodes: make(map[string]*model.JudgerNode)})
	subs := &fakeSubmissionRepo{
		submissions: map[string]*model.Submission{
			"sub-1": {ID: "sub-1", ProblemID: 1, Language: "cpp", SourceCode: "int main() {}"},
		},
		verdicts: make(map[string]*model.Verdict),
	}
	d := dispatch.New(reg, subs, fakeProblemRepo{})
	ing := ingest.New(d, subs, fakeProblemRepo{})
	queue := newFakeQueue()
	bridge := New(Config{
		Queue:       queue,
		Dispatcher:  d,
		Ingester:    ing,
		TaskTopic:   "test.tasks",
		ResultTopic: "test.results",
	})
	return &testDeps{queue: queue, dispatcher: d, bridge: bridge, submissions: subs}
}

func TestBridgePublishesQueuedTasks(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task, err := deps.dispatcher.Enqueue(ctx, "sub-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := deps.bridge.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer deps.bridge.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var messages []*mq.Message
	for time.Now().Before(deadline) {
		messages = deps.queue.publishedTo("test.tasks")
		if len(messages) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}

	var published model.JudgeTask
	if err := json.Unmarshal(messages[0].Body, &published); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if published.ID != task.ID || published.SubmissionID != "sub-1" {
		t.Fatalf("published task = %+v", published)
	}
	if messages[0].Headers["x-task-id"] != task.ID {
		t.Fatalf("missing task header")
	}
	if deps.dispatcher.PendingCount() != 0 {
		t.Fatalf("task must leave the queue once published")
	}
}

func TestBridgeKeepsTaskOnPublishFailure(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps.queue.pubErr = appErr.New(appErr.ServiceUnavailable)

	if _, err := deps.dispatcher.Enqueue(ctx, "sub-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := deps.bridge.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	deps.bridge.Stop()

	if deps.dispatcher.PendingCount() != 1 {
		t.Fatalf("task must stay queued while the broker is down")
	}
}

func TestBridgeIngestsVerdictMessages(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := deps.bridge.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer deps.bridge.Stop()

	body, _ := json.Marshal(verdictMessage{
		TaskID: "task-1",
		Verdict: &model.Verdict{
			SubmissionID: "sub-1",
			Status:       model.StatusAccepted,
			Score:        100,
		},
	})
	message := mq.NewMessage(body)
	message.Headers["x-node-id"] = "node-1"

	if err := deps.queue.deliver(ctx, "test.results", message); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	deps.submissions.mu.Lock()
	verdict := deps.submissions.verdicts["sub-1"]
	deps.submissions.mu.Unlock()
	if verdict == nil || verdict.Status != model.StatusAccepted {
		t.Fatalf("verdict not ingested: %+v", verdict)
	}
}

func TestBridgeRejectsMalformedVerdict(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := deps.bridge.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer deps.bridge.Stop()

	message := mq.NewMessage([]byte("not json"))
	if err := deps.queue.deliver(ctx, "test.results", message); err == nil {
		t.Fatalf("malformed message must error for broker redelivery")
	}
}
