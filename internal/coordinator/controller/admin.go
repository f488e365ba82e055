package controller

import (
	"gavel/internal/coordinator/confgen"
	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/registry"
	"gavel/pkg/utils/logger"
	"gavel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminController handles the operator endpoints for node lifecycle and
// queue visibility.
type AdminController struct {
	reg            *registry.Registry
	dispatcher     *dispatch.Dispatcher
	coordinatorURL string
}

// NewAdminController creates a new AdminController. coordinatorURL is the
// externally reachable base URL embedded in generated worker configs.
func NewAdminController(reg *registry.Registry, dispatcher *dispatch.Dispatcher, coordinatorURL string) *AdminController {
	return &AdminController{reg: reg, dispatcher: dispatcher, coordinatorURL: coordinatorURL}
}

// RegisterNode registers a judger node and returns its secret plus a worker
// config rendered for it. The secret cannot be recovered later; losing it
// means re-registering the node.
func (h *AdminController) RegisterNode(c *gin.Context) {
	var req RegisterNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	node, secret, err := h.reg.Register(c.Request.Context(), req.Name, req.MaxConcurrent, req.Languages)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := RegisterNodeResponse{
		NodeID: node.ID,
		Name:   node.Name,
		Secret: secret,
	}
	if blob, err := confgen.Generate(confgen.Params{
		NodeID:         node.ID,
		Secret:         secret,
		CoordinatorURL: h.coordinatorURL,
	}); err == nil {
		resp.Config = string(blob)
	} else {
		logger.Warn(c.Request.Context(), "render worker config failed",
			zap.String("node_id", node.ID), zap.Error(err))
	}

	logger.Info(c.Request.Context(), "node registered",
		zap.String("node_id", node.ID),
		zap.String("name", node.Name),
		zap.Int("max_concurrent", node.MaxConcurrent),
	)
	response.Success(c, resp)
}

// ListNodes returns the runtime view of every registered node.
func (h *AdminController) ListNodes(c *gin.Context) {
	nodes, err := h.reg.ListRuntime(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nodes)
}

// SetEnabled toggles whether a node may authenticate. Disabling does not
// interrupt in-flight tasks; they finish or get reclaimed by the health
// monitor.
func (h *AdminController) SetEnabled(c *gin.Context) {
	nodeID := c.Param("id")
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.reg.SetEnabled(c.Request.Context(), nodeID, *req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	logger.Info(c.Request.Context(), "node enabled state changed",
		zap.String("node_id", nodeID), zap.Bool("enabled", *req.Enabled))
	response.Success(c, nil)
}

// RemoveNode soft-deletes a node. Its id never authenticates again.
func (h *AdminController) RemoveNode(c *gin.Context) {
	nodeID := c.Param("id")
	if nodeID == "" {
		response.BadRequest(c, "Invalid node id")
		return
	}
	if err := h.reg.Remove(c.Request.Context(), nodeID); err != nil {
		response.Error(c, err)
		return
	}
	logger.Info(c.Request.Context(), "node removed", zap.String("node_id", nodeID))
	response.Success(c, nil)
}

// QueueStatus reports the dispatch backlog.
func (h *AdminController) QueueStatus(c *gin.Context) {
	response.Success(c, QueueStatusResponse{
		Pending:  h.dispatcher.PendingCount(),
		InFlight: h.dispatcher.InFlightCount(),
	})
}

// Rejudge puts a submission back on the queue tail through the normal
// enqueue path.
func (h *AdminController) Rejudge(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	task, err := h.dispatcher.Enqueue(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RejudgeResponse{
		SubmissionID: submissionID,
		TaskID:       task.ID,
	})
}
