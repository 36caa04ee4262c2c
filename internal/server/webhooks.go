package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxCallbackBody bounds the callback payload; real Daraja callbacks are a
// few hundred bytes.
const maxCallbackBody = 64 << 10

// MpesaCallback receives the Daraja result for an STK push. Every outcome
// the reconciler can classify is acknowledged with 200 so the provider stops
// redelivering; only a storage failure returns 5xx to force a retry.
func (s *Server) MpesaCallback(c *gin.Context) {
	tenantID, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil || tenantID == 0 {
		// Nothing to reconcile against; ack so the provider gives up.
		s.log.Warn("callback for unparseable tenant", zap.String("tenant_id", c.Param("tenant_id")))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reconciler.HandleCallback(s.requestContext(c), tenantID, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"resolution": result.Resolution,
	})
}
