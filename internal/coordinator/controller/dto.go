package controller

import (
	"time"

	"gavel/internal/coordinator/model"
)

// RegisterNodeRequest is the operator request to register a judger node.
// An omitted or empty language list means the node judges all languages.
type RegisterNodeRequest struct {
	Name          string   `json:"name" binding:"required"`
	MaxConcurrent int      `json:"max_concurrent" binding:"required,min=1"`
	Languages     []string `json:"languages"`
}

// RegisterNodeResponse carries the node id, its secret, and a ready-to-run
// worker config. The secret is shown exactly once; it is stored only as a
// hash.
type RegisterNodeResponse struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
	Config string `json:"config,omitempty"`
}

// SetEnabledRequest toggles whether a node may authenticate.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ConnectResponse tells a freshly connected node its registered settings.
type ConnectResponse struct {
	NodeID        string    `json:"node_id"`
	Name          string    `json:"name"`
	MaxConcurrent int       `json:"max_concurrent"`
	Languages     []string  `json:"languages"`
	ServerTime    time.Time `json:"server_time"`
}

// FetchResponse wraps a dispatched task. Task is null when nothing is
// available for the node.
type FetchResponse struct {
	Task *model.JudgeTask `json:"task"`
}

// ReportRequest is a node's verdict for a finished task.
type ReportRequest struct {
	TaskID  string        `json:"task_id" binding:"required"`
	Verdict model.Verdict `json:"verdict" binding:"required"`
}

// QueueStatusResponse is the operator view of dispatch backlog.
type QueueStatusResponse struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
}

// RejudgeResponse confirms a submission went back on the queue.
type RejudgeResponse struct {
	SubmissionID string `json:"submission_id"`
	TaskID       string `json:"task_id"`
}
