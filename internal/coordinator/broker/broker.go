// Package broker bridges the dispatcher to Kafka for nodes that consume
// tasks from the broker instead of HTTP polling.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gavel/internal/common/mq"
	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/ingest"
	"gavel/internal/coordinator/model"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultPumpInterval = 200 * time.Millisecond

// Bridge publishes queued tasks to the task topic and feeds verdicts from
// the result topic into the ingester. Which node runs a task is the consumer
// group's decision, so the bridge skips the registry's per-node capacity
// accounting; self-limiting workers and broker redelivery cover that role.
type Bridge struct {
	queue       mq.MessageQueue
	dispatcher  *dispatch.Dispatcher
	ingester    *ingest.Ingester
	taskTopic   string
	resultTopic string
	group       string

	pumpInterval time.Duration
	stopOnce     sync.Once
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// Config wires a Bridge.
type Config struct {
	Queue       mq.MessageQueue
	Dispatcher  *dispatch.Dispatcher
	Ingester    *ingest.Ingester
	TaskTopic   string
	ResultTopic string
	Group       string
}

// New creates a bridge. Call Start to begin moving messages.
func New(cfg Config) *Bridge {
	group := cfg.Group
	if group == "" {
		group = "gavel-coordinator"
	}
	return &Bridge{
		queue:        cfg.Queue,
		dispatcher:   cfg.Dispatcher,
		ingester:     cfg.Ingester,
		taskTopic:    cfg.TaskTopic,
		resultTopic:  cfg.ResultTopic,
		group:        group,
		pumpInterval: defaultPumpInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start subscribes to the result topic and launches the task pump.
func (b *Bridge) Start(ctx context.Context) error {
	opts := &mq.SubscribeOptions{ConsumerGroup: b.group}
	opts.SetDefaults()
	if err := b.queue.Subscribe(ctx, b.resultTopic, b.handleVerdict, opts); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "subscribe %s", b.resultTopic)
	}
	if err := b.queue.Start(); err != nil {
		return appErr.Wrap(err, appErr.ServiceUnavailable)
	}

	go b.pump(ctx)
	return nil
}

// Stop halts the pump and the consumer.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	_ = b.queue.Stop()
}

func (b *Bridge) pump(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

func (b *Bridge) drain(ctx context.Context) {
	for {
		task := b.dispatcher.TakeNext()
		if task == nil {
			return
		}
		if err := b.publishTask(ctx, task); err != nil {
			b.dispatcher.Restore(task)
			logger.Warn(ctx, "publish task failed, keeping it queued",
				zap.String("task_id", task.ID), zap.Error(err))
			return
		}
	}
}

func (b *Bridge) publishTask(ctx context.Context, task *model.JudgeTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	message := mq.NewMessage(body)
	message.ID = task.ID
	message.Headers["x-task-id"] = task.ID
	return b.queue.Publish(ctx, b.taskTopic, message)
}

type verdictMessage struct {
	TaskID  string         `json:"task_id"`
	Verdict *model.Verdict `json:"verdict"`
}

func (b *Bridge) handleVerdict(ctx context.Context, message *mq.Message) error {
	var report verdictMessage
	if err := json.Unmarshal(message.Body, &report); err != nil {
		logger.Error(ctx, "malformed verdict message",
			zap.String("message_id", message.ID), zap.Error(err))
		return err
	}
	nodeID := message.Headers["x-node-id"]
	return b.ingester.Report(ctx, nodeID, report.TaskID, report.Verdict)
}
