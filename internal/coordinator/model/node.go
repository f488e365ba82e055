package model

import "time"

// NodeStatus is the runtime liveness state of a judger node.
type NodeStatus string

const (
	NodeOffline NodeStatus = "Offline"
	NodeOnline  NodeStatus = "Online"
	NodeBusy    NodeStatus = "Busy"
)

// JudgerNode is the durable record of a worker node. Nodes are never hard
// deleted; Deleted marks them invisible to authentication and dispatch.
type JudgerNode struct {
	ID            string
	Name          string
	SecretHash    string
	MaxConcurrent int
	Enabled       bool
	// Languages the node can judge. Empty means all languages.
	Languages []string
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Supports reports whether the node can judge the given language.
func (n *JudgerNode) Supports(language string) bool {
	if len(n.Languages) == 0 {
		return true
	}
	for _, l := range n.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// NodeRuntime is the in-memory runtime state derived from a JudgerNode.
// Rebuilt from durable state on process start; all nodes begin Offline.
type NodeRuntime struct {
	NodeID        string     `json:"node_id"`
	Name          string     `json:"name"`
	MaxConcurrent int        `json:"max_concurrent"`
	CurrentTasks  int        `json:"current_tasks"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Languages     []string   `json:"languages,omitempty"`
}
