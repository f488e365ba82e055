// Package health watches node liveness and reclaims tasks from dead nodes.
package health

import (
	"context"
	"sync"
	"time"

	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/ingest"
	"gavel/internal/coordinator/registry"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSweepInterval   = 30 * time.Second
	defaultLivenessTimeout = 60 * time.Second
)

// Monitor periodically sweeps the registry for nodes whose last heartbeat is
// older than the liveness timeout, marks them offline, and requeues their
// in-flight tasks. A task that has exhausted its retry budget is settled as a
// system error instead of going back on the queue.
type Monitor struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	ingester   *ingest.Ingester

	sweepInterval   time.Duration
	livenessTimeout time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSweepInterval overrides how often the monitor scans for stale nodes.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithLivenessTimeout overrides how long a node may go silent before it is
// considered dead.
func WithLivenessTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.livenessTimeout = d
		}
	}
}

// New creates a monitor. Call Start to begin sweeping.
func New(reg *registry.Registry, dispatcher *dispatch.Dispatcher, ingester *ingest.Ingester, opts ...Option) *Monitor {
	m := &Monitor{
		reg:             reg,
		dispatcher:      dispatcher,
		ingester:        ingester,
		sweepInterval:   defaultSweepInterval,
		livenessTimeout: defaultLivenessTimeout,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sweep loop in a goroutine. It runs until Stop is called
// or the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop shuts down the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// Sweep runs a single liveness pass. Exported so operators can trigger it
// out of cycle and so tests can drive the monitor without timers.
func (m *Monitor) Sweep(ctx context.Context) {
	stale := m.reg.StaleNodes(m.livenessTimeout)
	for _, nodeID := range stale {
		m.reclaim(ctx, nodeID)
	}
}

func (m *Monitor) reclaim(ctx context.Context, nodeID string) {
	m.reg.MarkOffline(nodeID)
	tasks := m.dispatcher.TakeAssigned(nodeID)
	logger.Warn(ctx, "node marked offline",
		zap.String("node_id", nodeID),
		zap.Int("reclaimed_tasks", len(tasks)),
	)

	for _, task := range tasks {
		if m.dispatcher.Requeue(task) {
			logger.Info(ctx, "task requeued",
				zap.String("task_id", task.ID),
				zap.String("submission_id", task.SubmissionID),
				zap.Int("retries", task.Retries),
			)
			continue
		}
		if err := m.ingester.SystemFail(ctx, task, "judging failed repeatedly, please contact an administrator"); err != nil {
			logger.Error(ctx, "record terminal failure",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}
