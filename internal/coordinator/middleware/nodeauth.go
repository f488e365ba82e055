package middleware

import (
	"context"
	"strings"

	"gavel/internal/coordinator/registry"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/contextkey"
	"gavel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	nodeIDHeader     = "X-Judger-Id"
	nodeSecretHeader = "X-Judger-Secret"
)

// NodeAuthMiddleware authenticates judger nodes by their registered secret.
// Every request re-checks the node's durable record, so disabling or removing
// a node takes effect on its next call.
func NodeAuthMiddleware(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID := strings.TrimSpace(c.GetHeader(nodeIDHeader))
		secret := strings.TrimSpace(c.GetHeader(nodeSecretHeader))
		if nodeID == "" || secret == "" {
			response.AbortWithErrorCode(c, appErr.NodeAuthFailed, "missing node credentials")
			return
		}

		if err := reg.Verify(c.Request.Context(), nodeID, secret); err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set("node_id", nodeID)
		ctx := context.WithValue(c.Request.Context(), contextkey.NodeID, nodeID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// NodeID returns the authenticated node id stored by NodeAuthMiddleware.
func NodeID(c *gin.Context) string {
	return c.GetString("node_id")
}
