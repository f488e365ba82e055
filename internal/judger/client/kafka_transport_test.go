package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gavel/internal/common/mq"
	"gavel/internal/coordinator/model"
)

type fakeBrokerQueue struct {
	mu        sync.Mutex
	published map[string][]*mq.Message
}

func newFakeBrokerQueue() *fakeBrokerQueue {
	return &fakeBrokerQueue{published: make(map[string][]*mq.Message)}
}

func (q *fakeBrokerQueue) Publish(_ context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[topic] = append(q.published[topic], message)
	return nil
}

func (q *fakeBrokerQueue) Subscribe(_ context.Context, _ string, _ mq.HandlerFunc, _ *mq.SubscribeOptions) error {
	return nil
}

func (q *fakeBrokerQueue) Start() error                 { return nil }
func (q *fakeBrokerQueue) Stop() error                  { return nil }
func (q *fakeBrokerQueue) Ping(_ context.Context) error { return nil }
func (q *fakeBrokerQueue) Close() error                 { return nil }

func (q *fakeBrokerQueue) publishedTo(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published[topic]
}

func taskMessage(t *testing.T, taskID string) *mq.Message {
	t.Helper()
	body, err := json.Marshal(&model.JudgeTask{
		ID:           taskID,
		SubmissionID: "sub-" + taskID,
		Language:     "cpp",
	})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return mq.NewMessage(body)
}

// The handler must not return (which acknowledges the broker offset) until
// the task's verdict has been published; a worker crash in between has to
// leave the message for redelivery.
func TestKafkaTransportHoldsMessageUntilReported(t *testing.T) {
	t.Parallel()
	queue := newFakeBrokerQueue()
	transport := NewKafkaTransport(KafkaTransportConfig{
		Queue:       queue,
		TaskTopic:   "judge.tasks",
		ResultTopic: "judge.results",
		NodeID:      "node-1",
	})

	ctx := context.Background()
	handlerDone := make(chan error, 1)
	go func() {
		handlerDone <- transport.handleTask(ctx, taskMessage(t, "task-1"))
	}()

	// Buffered but not yet fetched: the handler must still be holding the
	// message open.
	select {
	case err := <-handlerDone:
		t.Fatalf("handler returned %v with the task unjudged", err)
	case <-time.After(50 * time.Millisecond):
	}

	task, err := transport.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task == nil || task.ID != "task-1" {
		t.Fatalf("fetched %+v, want task-1", task)
	}

	// Fetched but not reported: still held.
	select {
	case err := <-handlerDone:
		t.Fatalf("handler returned %v before the verdict was reported", err)
	case <-time.After(50 * time.Millisecond):
	}

	verdict := &model.Verdict{SubmissionID: task.SubmissionID, Status: model.StatusAccepted, Score: 100}
	if err := transport.Report(ctx, task.ID, verdict); err != nil {
		t.Fatalf("report: %v", err)
	}

	select {
	case err := <-handlerDone:
		if err != nil {
			t.Fatalf("handler after report: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after report")
	}

	results := queue.publishedTo("judge.results")
	if len(results) != 1 {
		t.Fatalf("published %d results, want 1", len(results))
	}
	if results[0].Headers["x-node-id"] != "node-1" || results[0].Headers["x-task-id"] != "task-1" {
		t.Fatalf("result headers = %v", results[0].Headers)
	}
}

func TestKafkaTransportHandlerUnwindsOnCancel(t *testing.T) {
	t.Parallel()
	transport := NewKafkaTransport(KafkaTransportConfig{
		Queue:       newFakeBrokerQueue(),
		TaskTopic:   "judge.tasks",
		ResultTopic: "judge.results",
	})

	ctx, cancel := context.WithCancel(context.Background())
	handlerDone := make(chan error, 1)
	go func() {
		handlerDone <- transport.handleTask(ctx, taskMessage(t, "task-2"))
	}()

	if _, err := transport.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cancel()

	select {
	case err := <-handlerDone:
		if err == nil {
			t.Fatal("cancelled handler must return an error so the offset stays uncommitted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not unwind on cancel")
	}
}

func TestKafkaTransportMalformedTask(t *testing.T) {
	t.Parallel()
	transport := NewKafkaTransport(KafkaTransportConfig{
		Queue:     newFakeBrokerQueue(),
		TaskTopic: "judge.tasks",
	})
	if err := transport.handleTask(context.Background(), mq.NewMessage([]byte("{not json"))); err == nil {
		t.Fatal("malformed body must surface an error for broker retry")
	}
}
