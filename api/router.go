package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/contextpool/api/handler"
	"github.com/use-agent/contextpool/api/middleware"
	"github.com/use-agent/contextpool/cache"
	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/config"
	"github.com/use-agent/contextpool/jobqueue"
	"github.com/use-agent/contextpool/metrics"
	"github.com/use-agent/contextpool/pool"
)

// Version is stamped into the health response; overridden at build time
// via -ldflags where the deployment pipeline wants a real build identifier.
var Version = "0.1.0"

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics endpoints are intentionally outside auth so monitoring
// probes always work. jq may be nil, in which case /jobs routes are not
// registered; mc may be nil, in which case /metrics is not registered.
func NewRouter(sup *pool.Supervisor, cl *cleaner.Cleaner, cc *cache.Cache, jq *jobqueue.Queue, mc *metrics.Collector, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	// Health — no auth required.
	r.GET("/api/v1/health", handler.Health(sup, cfg.Pool.MaxContexts, Version, startTime))

	if cfg.Metrics.Enabled && mc != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(mc.Handler()))
	}

	v1 := r.Group("/api/v1")

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Scrape
	protected.POST("/scrape", handler.Scrape(sup, cl, cc, mc))

	// Context control surface
	protected.POST("/contexts", handler.CreateContext(sup))
	protected.GET("/contexts", handler.ListContexts(sup))
	protected.GET("/contexts/:id", handler.GetContext(sup))
	protected.DELETE("/contexts/:id", handler.RemoveContext(sup))
	protected.PATCH("/contexts/:id/tags", handler.PatchContextTags(sup))
	protected.POST("/contexts/:id/acquire", handler.AcquireContext(sup))
	protected.POST("/contexts/:id/release", handler.ReleaseContext(sup))
	protected.GET("/contexts/:id/cdp", handler.GetContextCDP(sup))

	// Pool state projection
	protected.GET("/pool", handler.PoolStatus(sup, cfg.Pool.MaxContexts))

	// Async job submission (supplemental, grounded on the original's
	// queue-backed scrape path).
	if jq != nil {
		protected.POST("/jobs", handler.SubmitJob(jq))
		protected.GET("/jobs/:id", handler.GetJob(jq, cl))
	}

	return r
}
