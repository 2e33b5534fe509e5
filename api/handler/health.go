package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/models"
	"github.com/use-agent/contextpool/pool"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of contexts are
// in use, mirroring the page-pool utilisation check the original health
// endpoint made against tab count.
func Health(sup *pool.Supervisor, maxContexts int, version string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := poolStatusResponse(sup, maxContexts)

		health := "healthy"
		if status.MaxSize > 0 && status.InUseCount > int(float64(status.MaxSize)*0.8) {
			health = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  health,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Pool:    status,
			Version: version,
		})
	}
}
