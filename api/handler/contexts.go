package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/models"
	"github.com/use-agent/contextpool/pool"
)

// CreateContext returns a handler for POST /api/v1/contexts (spec.md §4.4
// create_context, exposed at the edge).
func CreateContext(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ContextCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()})
			return
		}

		ctx, err := sup.Registry().CreateContext(c.Request.Context(), req.Proxy, req.Persistent, req.Tags)
		if err != nil {
			detail, status := models.FromPoolError(err)
			c.JSON(status, detail)
			return
		}
		c.JSON(http.StatusCreated, toContextResponse(ctx.Snapshot()))
	}
}

// ListContexts returns a handler for GET /api/v1/contexts. An optional
// ?tags=a,b filter restricts the listing to contexts carrying every
// named tag, matching select_context's subset semantics.
func ListContexts(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		required := tagSetFromQuery(c, "tags")
		snapshots := sup.Registry().ListContexts(required)
		out := make([]models.ContextResponse, 0, len(snapshots))
		for _, snap := range snapshots {
			out = append(out, toContextResponse(snap))
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetContext returns a handler for GET /api/v1/contexts/:id.
func GetContext(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx, ok := sup.Registry().GetContext(id)
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorDetail{Code: models.ErrCodeContextNotFound, Message: id})
			return
		}
		c.JSON(http.StatusOK, toContextResponse(ctx.Snapshot()))
	}
}

// RemoveContext returns a handler for DELETE /api/v1/contexts/:id (spec.md
// §4.4 remove_context / invariant 7).
func RemoveContext(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		removed, err := sup.Registry().RemoveContext(c.Request.Context(), id)
		if err != nil {
			detail, status := models.FromPoolError(err)
			c.JSON(status, detail)
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, models.ErrorDetail{Code: models.ErrCodeContextNotFound, Message: id})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// PatchContextTags returns a handler for PATCH /api/v1/contexts/:id/tags.
func PatchContextTags(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req models.ContextPatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()})
			return
		}
		if len(req.Add) > 0 {
			if err := sup.Registry().AddTags(id, req.Add); err != nil {
				detail, status := models.FromPoolError(err)
				c.JSON(status, detail)
				return
			}
		}
		if len(req.Remove) > 0 {
			if err := sup.Registry().RemoveTags(id, req.Remove); err != nil {
				detail, status := models.FromPoolError(err)
				c.JSON(status, detail)
				return
			}
		}
		ctx, ok := sup.Registry().GetContext(id)
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorDetail{Code: models.ErrCodeContextNotFound, Message: id})
			return
		}
		c.JSON(http.StatusOK, toContextResponse(ctx.Snapshot()))
	}
}

// AcquireContext returns a handler for POST /api/v1/contexts/:id/acquire,
// letting an edge caller hold a context across a manual flow (e.g. a CAPTCHA
// solve) outside the normal select_context path.
func AcquireContext(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx, err := sup.Registry().AcquireContext(id)
		if err != nil {
			detail, status := models.FromPoolError(err)
			c.JSON(status, detail)
			return
		}
		c.JSON(http.StatusOK, toContextResponse(ctx.Snapshot()))
	}
}

// ReleaseContext returns a handler for POST /api/v1/contexts/:id/release.
func ReleaseContext(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		sup.Registry().ReleaseContext(c.Request.Context(), id)
		c.Status(http.StatusNoContent)
	}
}

// GetContextCDP returns a handler for GET /api/v1/contexts/:id/cdp, exposing
// the per-context CDP target URL for direct protocol attachment.
func GetContextCDP(sup *pool.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx, ok := sup.Registry().GetContext(id)
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorDetail{Code: models.ErrCodeContextNotFound, Message: id})
			return
		}
		snap := ctx.Snapshot()
		c.JSON(http.StatusOK, models.CDPResponse{ContextID: snap.ID, CDPTargetURL: snap.CDPTargetURL})
	}
}

func toContextResponse(snap pool.Snapshot) models.ContextResponse {
	resp := models.ContextResponse{
		ID:                snap.ID,
		Proxy:             snap.Proxy,
		Persistent:        snap.Persistent,
		Tags:              snap.Tags,
		InUse:             snap.InUse,
		CreatedAt:         snap.CreatedAt.Format(timeLayout),
		TotalRequests:     snap.TotalRequests,
		ErrorCount:        snap.ErrorCount,
		ConsecutiveErrors: snap.ConsecutiveErrors,
	}
	if !snap.LastUsedAt.IsZero() {
		resp.LastUsedAt = snap.LastUsedAt.Format(timeLayout)
	}
	return resp
}

func tagSetFromQuery(c *gin.Context, key string) map[string]struct{} {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
