package models

// ScrapeResponse is the response for POST /api/v1/scrape (spec.md §6
// "Scrape output").
type ScrapeResponse struct {
	Success      bool         `json:"success"`
	URL          string       `json:"url"`
	Status       int          `json:"status"`
	Content      string       `json:"content,omitempty"`
	ScriptResult any          `json:"script_result,omitempty"`
	Screenshot   string       `json:"screenshot,omitempty"` // base64 at the edge
	ContextID    string       `json:"context_id"`
	QueueWaitMs  int64        `json:"queue_wait_ms"`
	Error        *ErrorDetail `json:"error,omitempty"`
}

// ContextResponse projects one pool context for the control surface.
type ContextResponse struct {
	ID                string   `json:"id"`
	Proxy             string   `json:"proxy,omitempty"`
	Persistent        bool     `json:"persistent"`
	Tags              []string `json:"tags"`
	InUse             bool     `json:"in_use"`
	CreatedAt         string   `json:"created_at"`
	LastUsedAt        string   `json:"last_used_at,omitempty"`
	TotalRequests     int      `json:"total_requests"`
	ErrorCount        int      `json:"error_count"`
	ConsecutiveErrors int      `json:"consecutive_errors"`
}

// PoolStatusResponse is the response for GET /api/v1/pool (spec.md §6
// "Pool state projection").
type PoolStatusResponse struct {
	Size        int    `json:"size"`
	MaxSize     int    `json:"max_size"`
	InUseCount  int    `json:"in_use_count"`
	QueueLength int    `json:"queue_length"`
	CDPEndpoint string `json:"cdp_endpoint"`
}

// CDPResponse is the response for GET /api/v1/contexts/:id/cdp.
type CDPResponse struct {
	ContextID    string `json:"context_id"`
	CDPTargetURL string `json:"cdp_target_url"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string             `json:"status"` // "healthy" or "degraded"
	Uptime  string             `json:"uptime"`
	Pool    PoolStatusResponse `json:"pool"`
	Version string             `json:"version"`
}

// JobResponse projects one async job for POST /api/v1/jobs (202 Accepted)
// and GET /api/v1/jobs/:id (poll).
type JobResponse struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Result     *ScrapeResponse `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	FinishedAt string          `json:"finished_at,omitempty"`
}
