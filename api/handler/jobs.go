package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/jobqueue"
	"github.com/use-agent/contextpool/models"
	"github.com/use-agent/contextpool/pool"
)

// SubmitJob returns a handler for POST /api/v1/jobs: accepts a scrape
// request, enqueues it, and returns immediately with a job ID to poll
// (the async counterpart to the synchronous POST /scrape).
func SubmitJob(jq *jobqueue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.JobSubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()})
			return
		}
		req.Defaults()

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

		renderOpts := cleaner.CleanOptions{
			IncludeTags: req.IncludeTags,
			ExcludeTags: req.ExcludeTags,
			CSSSelector: req.CSSSelector,
			Citations:   req.Citations,
		}
		job := jq.Submit(poolReq, req.Format, req.ExtractMode, renderOpts, req.WebhookURL, req.WebhookSecret)
		c.JSON(http.StatusAccepted, toJobResponse(job, nil))
	}
}

// GetJob returns a handler for GET /api/v1/jobs/:id.
func GetJob(jq *jobqueue.Queue, cl *cleaner.Cleaner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jq.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorDetail{Code: models.ErrCodeContextNotFound, Message: jobqueue.ErrJobNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, toJobResponse(job, cl))
	}
}

// renderJobContent mirrors renderContent for the async path, where the
// render options travel on the Job rather than a live models.ScrapeRequest.
func renderJobContent(cl *cleaner.Cleaner, rawHTML string, job *jobqueue.Job) string {
	if cl == nil {
		return rawHTML
	}
	cleaned, err := cl.Clean(rawHTML, job.Request.URL, job.Format, job.ExtractMode, job.RenderOpts)
	if err != nil {
		return rawHTML
	}
	return cleaned.Content
}

func toJobResponse(job *jobqueue.Job, cl *cleaner.Cleaner) models.JobResponse {
	resp := models.JobResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(timeLayout),
	}
	if !job.FinishedAt.IsZero() {
		resp.FinishedAt = job.FinishedAt.Format(timeLayout)
	}
	if job.Result != nil {
		result := job.Result
		sr := &models.ScrapeResponse{
			Success:      result.Success,
			URL:          result.URL,
			Status:       result.Status,
			ScriptResult: result.ScriptResult,
			ContextID:    result.ContextID,
			QueueWaitMs:  result.QueueWait.Milliseconds(),
		}
		if result.HasContent {
			sr.Content = renderJobContent(cl, result.Content, job)
		}
		if len(result.Screenshot) > 0 {
			sr.Screenshot = base64.StdEncoding.EncodeToString(result.Screenshot)
		}
		resp.Result = sr
	}
	return resp
}
