// Package client connects a judger node to the coordinator: authenticate,
// heartbeat, fetch tasks, report verdicts.
package client

import (
	"context"
	"errors"

	"gavel/internal/coordinator/model"
)

// ErrUnauthorized signals that the coordinator rejected our credentials.
// The client reacts by dropping to the connecting state and retrying the
// handshake; the node may have been disabled or removed.
var ErrUnauthorized = errors.New("coordinator rejected node credentials")

// ConnectInfo is what the coordinator tells a node about itself.
type ConnectInfo struct {
	Name          string
	MaxConcurrent int
	Languages     []string
}

// Transport moves control and task traffic between node and coordinator.
type Transport interface {
	Connect(ctx context.Context) (*ConnectInfo, error)
	Heartbeat(ctx context.Context) error
	// Fetch returns the next task or nil when nothing is available.
	Fetch(ctx context.Context) (*model.JudgeTask, error)
	Report(ctx context.Context, taskID string, verdict *model.Verdict) error
	Close() error
}
