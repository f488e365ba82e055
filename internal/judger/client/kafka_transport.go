package client

import (
	"context"
	"encoding/json"
	"sync"

	"gavel/internal/common/mq"
	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

// KafkaTransport consumes tasks from the task topic and publishes verdicts
// to the result topic. Control traffic (connect, heartbeat) still goes over
// HTTP so node liveness and auth work the same on both transports; the
// broker replaces only the polling data plane.
//
// The message handler blocks until the task's verdict has been published,
// so the broker offset is only committed for judged tasks. A crash before
// Report leaves the offset unacknowledged and the broker redelivers.
type KafkaTransport struct {
	ctrl        *HTTPTransport
	queue       mq.MessageQueue
	taskTopic   string
	resultTopic string
	group       string
	nodeID      string

	taskCh  chan *pendingTask
	started bool

	mu       sync.Mutex
	inflight map[string]*pendingTask
}

type pendingTask struct {
	task *model.JudgeTask
	done chan struct{}
}

// KafkaTransportConfig wires a KafkaTransport.
type KafkaTransportConfig struct {
	Control       *HTTPTransport
	Queue         mq.MessageQueue
	TaskTopic     string
	ResultTopic   string
	ConsumerGroup string
	NodeID        string
	Buffer        int
}

// NewKafkaTransport creates the transport. Consumption starts on Connect.
func NewKafkaTransport(cfg KafkaTransportConfig) *KafkaTransport {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1
	}
	return &KafkaTransport{
		ctrl:        cfg.Control,
		queue:       cfg.Queue,
		taskTopic:   cfg.TaskTopic,
		resultTopic: cfg.ResultTopic,
		group:       cfg.ConsumerGroup,
		nodeID:      cfg.NodeID,
		taskCh:      make(chan *pendingTask, buffer),
		inflight:    make(map[string]*pendingTask),
	}
}

func (t *KafkaTransport) Connect(ctx context.Context) (*ConnectInfo, error) {
	info, err := t.ctrl.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if !t.started {
		opts := &mq.SubscribeOptions{
			ConsumerGroup: t.group,
			// Handlers block for the whole judge; one worker per buffer
			// slot keeps consumption going while tasks run.
			Concurrency: cap(t.taskCh),
		}
		opts.SetDefaults()
		if err := t.queue.Subscribe(ctx, t.taskTopic, t.handleTask, opts); err != nil {
			return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "subscribe %s", t.taskTopic)
		}
		if err := t.queue.Start(); err != nil {
			return nil, appErr.Wrap(err, appErr.ServiceUnavailable)
		}
		t.started = true
	}
	return info, nil
}

// handleTask hands the task to the fetch loop, then holds the message
// unacknowledged until Report has published the verdict.
func (t *KafkaTransport) handleTask(ctx context.Context, message *mq.Message) error {
	var task model.JudgeTask
	if err := json.Unmarshal(message.Body, &task); err != nil {
		logger.Error(ctx, "malformed task message",
			zap.String("message_id", message.ID), zap.Error(err))
		// Unparseable forever; let the retry/DLQ path dispose of it.
		return err
	}

	pending := &pendingTask{task: &task, done: make(chan struct{})}
	select {
	case t.taskCh <- pending:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-pending.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *KafkaTransport) Heartbeat(ctx context.Context) error {
	return t.ctrl.Heartbeat(ctx)
}

// Fetch drains the consumer buffer without blocking; the broker has already
// assigned the message to this node's consumer group member.
func (t *KafkaTransport) Fetch(ctx context.Context) (*model.JudgeTask, error) {
	select {
	case pending := <-t.taskCh:
		t.mu.Lock()
		t.inflight[pending.task.ID] = pending
		t.mu.Unlock()
		return pending.task, nil
	default:
		return nil, nil
	}
}

func (t *KafkaTransport) Report(ctx context.Context, taskID string, verdict *model.Verdict) error {
	body, err := json.Marshal(reportBody{TaskID: taskID, Verdict: verdict})
	if err != nil {
		return err
	}
	message := mq.NewMessage(body)
	message.Headers["x-node-id"] = t.nodeID
	message.Headers["x-task-id"] = taskID
	if err := t.queue.Publish(ctx, t.resultTopic, message); err != nil {
		return err
	}
	t.ack(taskID)
	return nil
}

// ack releases the blocked handler so the broker offset gets committed.
func (t *KafkaTransport) ack(taskID string) {
	t.mu.Lock()
	pending, ok := t.inflight[taskID]
	if ok {
		delete(t.inflight, taskID)
	}
	t.mu.Unlock()
	if ok {
		close(pending.done)
	}
}

func (t *KafkaTransport) Close() error {
	if t.started {
		_ = t.queue.Stop()
	}
	return t.queue.Close()
}
