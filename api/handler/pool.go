package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/models"
	"github.com/use-agent/contextpool/pool"
)

// PoolStatus returns a handler for GET /api/v1/pool (spec.md §6 "Pool state
// projection").
func PoolStatus(sup *pool.Supervisor, maxContexts int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, poolStatusResponse(sup, maxContexts))
	}
}

func poolStatusResponse(sup *pool.Supervisor, maxContexts int) models.PoolStatusResponse {
	reg := sup.Registry()
	size := reg.Size()
	available := reg.AvailableCount()
	return models.PoolStatusResponse{
		Size:        size,
		MaxSize:     maxContexts,
		InUseCount:  size - available,
		QueueLength: sup.Queue().Len(),
		CDPEndpoint: sup.CDPEndpoint(),
	}
}
