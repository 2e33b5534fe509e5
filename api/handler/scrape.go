package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/cache"
	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/metrics"
	"github.com/use-agent/contextpool/models"
	"github.com/use-agent/contextpool/pool"
)

// Scrape returns a handler for POST /api/v1/scrape. It translates the wire
// request into a pool.ScrapeRequest, runs it through the coordinator, and
// maps the result (or a classified pool.Error) back onto the wire. mc may
// be nil, in which case outcomes simply aren't recorded.
func Scrape(sup *pool.Supervisor, cl *cleaner.Cleaner, cc *cache.Cache, mc *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		req.Defaults()

		var cacheKey string
		if cc != nil && req.MaxAge > 0 {
			cacheKey = cache.Key(req.URL, req.Tags)
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		poolReq := pool.ScrapeRequest{
			URL:                 req.URL,
			Tags:                req.Tags,
			Proxy:               req.Proxy,
			WaitUntil:           pool.WaitUntil(req.WaitUntil),
			Timeout:             time.Duration(req.TimeoutMs) * time.Millisecond,
			GetContent:          req.GetContent == nil || *req.GetContent,
			Script:              req.Script,
			Screenshot:          req.Screenshot,
			ScreenshotFullPage:  req.ScreenshotFullPage,
			DomainDelayOverride: time.Duration(req.DomainDelayMs) * time.Millisecond,
		}

		start := time.Now()
		result, err := sup.Coordinator().Scrape(c.Request.Context(), poolReq)
		if err != nil {
			if mc != nil {
				mc.RecordScrape(false, time.Since(start).Seconds(), 0)
			}
			detail, status := models.FromPoolError(err)
			c.JSON(status, models.ScrapeResponse{Success: false, Error: detail})
			return
		}
		if mc != nil {
			mc.RecordScrape(result.Success, time.Since(start).Seconds(), result.QueueWait.Seconds())
		}

		resp := models.ScrapeResponse{
			Success:      result.Success,
			URL:          result.URL,
			Status:       result.Status,
			ScriptResult: result.ScriptResult,
			ContextID:    result.ContextID,
			QueueWaitMs:  result.QueueWait.Milliseconds(),
		}

		if result.Error != "" {
			resp.Error = &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: result.Error}
		}

		if result.HasContent {
			resp.Content = renderContent(cl, result.Content, req)
		}
		if len(result.Screenshot) > 0 {
			resp.Screenshot = base64.StdEncoding.EncodeToString(result.Screenshot)
		}

		if cc != nil && req.MaxAge > 0 && result.Success {
			cc.Set(cacheKey, &resp)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// renderContent runs the core's raw HTML through the optional edge-side
// cleaner; a cleaning failure falls back to the raw HTML rather than
// failing an otherwise-successful scrape.
func renderContent(cl *cleaner.Cleaner, rawHTML string, req models.ScrapeRequest) string {
	if cl == nil {
		return rawHTML
	}
	cleaned, err := cl.Clean(rawHTML, req.URL, req.Format, req.ExtractMode, cleaner.CleanOptions{
		IncludeTags: req.IncludeTags,
		ExcludeTags: req.ExcludeTags,
		CSSSelector: req.CSSSelector,
		Citations:   req.Citations,
	})
	if err != nil {
		return rawHTML
	}
	return cleaned.Content
}
