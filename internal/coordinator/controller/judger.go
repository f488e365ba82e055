package controller

import (
	"strings"
	"time"

	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/ingest"
	"gavel/internal/coordinator/middleware"
	"gavel/internal/coordinator/registry"
	"gavel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgerController handles the worker-facing endpoints. All routes sit
// behind NodeAuthMiddleware, so handlers trust the node id on the context.
type JudgerController struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	ingester   *ingest.Ingester
}

// NewJudgerController creates a new JudgerController.
func NewJudgerController(reg *registry.Registry, dispatcher *dispatch.Dispatcher, ingester *ingest.Ingester) *JudgerController {
	return &JudgerController{reg: reg, dispatcher: dispatcher, ingester: ingester}
}

// Connect authenticates the node and returns its registered settings. Nodes
// call this once at startup and again after any authentication failure.
func (h *JudgerController) Connect(c *gin.Context) {
	nodeID := middleware.NodeID(c)
	secret := strings.TrimSpace(c.GetHeader("X-Judger-Secret"))

	runtime, err := h.reg.Authenticate(c.Request.Context(), nodeID, secret)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, ConnectResponse{
		NodeID:        runtime.NodeID,
		Name:          runtime.Name,
		MaxConcurrent: runtime.MaxConcurrent,
		Languages:     runtime.Languages,
		ServerTime:    time.Now(),
	})
}

// Heartbeat refreshes the node's liveness stamp and tells the node how much
// work is waiting.
func (h *JudgerController) Heartbeat(c *gin.Context) {
	nodeID := middleware.NodeID(c)
	if err := h.reg.Heartbeat(c.Request.Context(), nodeID); err != nil {
		response.Error(c, err)
		return
	}
	current := 0
	if rt, ok := h.reg.Runtime(nodeID); ok {
		current = rt.CurrentTasks
	}
	response.Success(c, gin.H{
		"pending":       h.dispatcher.PendingCount(),
		"current_tasks": current,
	})
}

// Fetch hands the node at most one pending task. A null task means nothing
// suitable is queued or the node is already at capacity.
func (h *JudgerController) Fetch(c *gin.Context) {
	nodeID := middleware.NodeID(c)

	task, err := h.dispatcher.Fetch(c.Request.Context(), nodeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, FetchResponse{Task: task})
}

// Report ingests a verdict for a task the node judged.
func (h *JudgerController) Report(c *gin.Context) {
	nodeID := middleware.NodeID(c)

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if err := h.ingester.Report(c.Request.Context(), nodeID, req.TaskID, &req.Verdict); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
