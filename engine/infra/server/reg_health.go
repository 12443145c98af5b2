package server

import (
	"net/http"

	"github.com/comfyflow/agentmode/engine/infra/monitoring"
	"github.com/gin-gonic/gin"
)

// Health endpoint
//
//	@Summary	Get server health
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}	"Service is healthy"
//	@Router		/healthz [get]
func healthHandler(mon *monitoring.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := false
		if mon != nil {
			metrics = mon.IsInitialized()
		}
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{
				"status":  "healthy",
				"version": monitoring.Version,
				"metrics": metrics,
			},
			"message": "Success",
		})
	}
}
