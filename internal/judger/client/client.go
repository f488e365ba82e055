package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gavel/internal/coordinator/model"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

// State is the client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPollInterval      = time.Second
	defaultReconnectBackoff  = 5 * time.Second
	reportRetries            = 3
	reportRetryDelay         = 2 * time.Second
)

// Judge turns a task into a verdict. Implemented by the pipeline.
type Judge interface {
	Judge(ctx context.Context, task *model.JudgeTask) *model.Verdict
}

// Client runs a judger node's control loops: connect with backoff, heartbeat,
// fetch, judge on bounded goroutines, report. An authentication failure on
// any call drops the client back to connecting; the coordinator may have
// disabled or removed this node, and reconnecting surfaces the definitive
// answer.
type Client struct {
	transport Transport
	judge     Judge

	heartbeatInterval time.Duration
	pollInterval      time.Duration
	reconnectBackoff  time.Duration

	state atomic.Int32
	wg    sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithIntervals overrides the loop cadences. Zero values keep defaults.
func WithIntervals(heartbeat, poll, backoff time.Duration) Option {
	return func(c *Client) {
		if heartbeat > 0 {
			c.heartbeatInterval = heartbeat
		}
		if poll > 0 {
			c.pollInterval = poll
		}
		if backoff > 0 {
			c.reconnectBackoff = backoff
		}
	}
}

// New creates a client.
func New(transport Transport, judge Judge, opts ...Option) *Client {
	c := &Client{
		transport:         transport,
		judge:             judge,
		heartbeatInterval: defaultHeartbeatInterval,
		pollInterval:      defaultPollInterval,
		reconnectBackoff:  defaultReconnectBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Run drives the client until the context is cancelled. It blocks.
func (c *Client) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateDisconnected))
	for {
		info, err := c.connect(ctx)
		if err != nil {
			return err
		}
		if err := c.session(ctx, info); err != nil {
			return err
		}
		// Session ended on an auth failure; go around and reconnect.
	}
}

// connect retries the handshake until it succeeds or the context ends.
func (c *Client) connect(ctx context.Context) (*ConnectInfo, error) {
	c.state.Store(int32(StateConnecting))
	for {
		info, err := c.transport.Connect(ctx)
		if err == nil {
			c.state.Store(int32(StateConnected))
			logger.Info(ctx, "connected to coordinator",
				zap.String("node_name", info.Name),
				zap.Int("max_concurrent", info.MaxConcurrent),
			)
			return info, nil
		}
		logger.Warn(ctx, "connect failed, retrying",
			zap.Duration("backoff", c.reconnectBackoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.reconnectBackoff):
		}
	}
}

// session runs heartbeat and fetch loops until the context ends (returns
// ctx.Err()) or the coordinator rejects our credentials (returns nil so the
// caller reconnects).
func (c *Client) session(ctx context.Context, info *ConnectInfo) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxConcurrent(info))
	authFail := make(chan struct{}, 2)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		c.heartbeatLoop(sessionCtx, authFail)
	}()
	go func() {
		defer loops.Done()
		c.fetchLoop(sessionCtx, sem, authFail)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-authFail:
		logger.Warn(ctx, "credentials rejected, reconnecting")
		c.state.Store(int32(StateConnecting))
	}
	cancel()
	loops.Wait()
	c.wg.Wait() // in-flight judges finish and report before we return
	return err
}

func (c *Client) heartbeatLoop(ctx context.Context, authFail chan<- struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.transport.Heartbeat(ctx); err != nil {
				if errors.Is(err, ErrUnauthorized) {
					signalAuthFail(authFail)
					return
				}
				logger.Warn(ctx, "heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) fetchLoop(ctx context.Context, sem chan struct{}, authFail chan<- struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Reserve a slot before fetching so we never hold a task we
		// cannot start.
		select {
		case sem <- struct{}{}:
		default:
			continue
		}

		task, err := c.transport.Fetch(ctx)
		if err != nil {
			<-sem
			if errors.Is(err, ErrUnauthorized) {
				signalAuthFail(authFail)
				return
			}
			logger.Warn(ctx, "fetch failed", zap.Error(err))
			continue
		}
		if task == nil {
			<-sem
			continue
		}

		c.wg.Add(1)
		go func(task *model.JudgeTask) {
			defer c.wg.Done()
			defer func() { <-sem }()
			c.handleTask(ctx, task, authFail)
		}(task)
	}
}

// handleTask judges one task and reports exactly once. A pipeline panic
// becomes a system error verdict; the coordinator must hear back either way
// or the task sits assigned until the health monitor reclaims it.
func (c *Client) handleTask(ctx context.Context, task *model.JudgeTask, authFail chan<- struct{}) {
	verdict := c.safeJudge(ctx, task)
	c.report(ctx, task.ID, verdict, authFail)
}

func (c *Client) safeJudge(ctx context.Context, task *model.JudgeTask) (verdict *model.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked",
				zap.String("task_id", task.ID), zap.Any("panic", r))
			verdict = &model.Verdict{
				SubmissionID:   task.SubmissionID,
				Status:         model.StatusSystemError,
				CompileMessage: "internal judge failure",
			}
		}
	}()
	return c.judge.Judge(ctx, task)
}

func (c *Client) report(ctx context.Context, taskID string, verdict *model.Verdict, authFail chan<- struct{}) {
	for attempt := 0; attempt < reportRetries; attempt++ {
		// Reports must go out even while the session is tearing down, so
		// they use the background context with their own timeout.
		reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.transport.Report(reportCtx, taskID, verdict)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			signalAuthFail(authFail)
			return
		}
		logger.Warn(ctx, "report failed",
			zap.String("task_id", taskID), zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(reportRetryDelay)
	}
	logger.Error(ctx, "verdict dropped after report retries",
		zap.String("task_id", taskID), zap.String("submission_id", verdict.SubmissionID))
}

func maxConcurrent(info *ConnectInfo) int {
	if info.MaxConcurrent > 0 {
		return info.MaxConcurrent
	}
	return 1
}

func signalAuthFail(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
