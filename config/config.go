package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/contextpool/pool"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Metrics   MetricsConfig
	JobQueue  JobQueueConfig
}

// ServerConfig controls the HTTP control-surface server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the single shared browser process C7 owns.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// CDPPort is the fixed remote-debugging port the driver launches on.
	CDPPort int // default: 9222

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// UseVirtualDisplay runs Xvfb so a non-headless browser can start
	// without a physical display (spec.md §5 concurrency/resource model).
	UseVirtualDisplay bool // default: false

	// VirtualDisplaySize is the Xvfb screen resolution, width then height.
	VirtualDisplaySize [2]int // default: [1920, 1080]

	// BlockedResourceTypes lists CDP resource types the driver hijacks
	// away on every page (images, fonts, ...).
	BlockedResourceTypes []string // default: ["Image", "Stylesheet", "Font", "Media"]
}

// PoolConfig mirrors pool.Config's fields as environment-configurable
// values; ToPoolConfig converts it into the value the core actually uses.
type PoolConfig struct {
	MaxContexts            int           // default: 5
	DefaultDomainDelay     time.Duration // default: 1s
	MaxQueueWait           time.Duration // default: 30s
	MaxConsecutiveErrors   int           // default: 3
	EvictionWeightIdle     float64       // default: 1.0
	EvictionWeightError    float64       // default: 1.0
	EvictionWeightAge      float64       // default: 1.0
	PersistentContextsPath string        // default: "./persistent_contexts"
}

// ToPoolConfig builds the pool package's own Config value from the
// environment-sourced fields above.
func (p PoolConfig) ToPoolConfig() pool.Config {
	return pool.Config{
		MaxContexts:          p.MaxContexts,
		DefaultDomainDelay:   p.DefaultDomainDelay,
		MaxQueueWait:         p.MaxQueueWait,
		MaxConsecutiveErrors: p.MaxConsecutiveErrors,
		EvictionWeights: pool.EvictionWeights{
			Idle:  p.EvictionWeightIdle,
			Error: p.EvictionWeightError,
			Age:   p.EvictionWeightAge,
		},
		PersistentContextsPath: p.PersistentContextsPath,
	}
}

// ToPoolBrowserConfig builds the pool package's BrowserConfig value from
// the environment-sourced fields above.
func (b BrowserConfig) ToPoolBrowserConfig() pool.BrowserConfig {
	return pool.BrowserConfig{
		Headless:           b.Headless,
		CDPPort:            b.CDPPort,
		UseVirtualDisplay:  b.UseVirtualDisplay,
		VirtualDisplaySize: b.VirtualDisplaySize,
	}
}

// CacheConfig controls the scrape response cache.
type CacheConfig struct {
	MaxEntries int // default: 1000
}

// JobQueueConfig controls the async job path's worker pool.
type JobQueueConfig struct {
	Workers int           // default: 2
	MaxAge  time.Duration // default: 1h; jobs older than this are pruned
}

// AuthConfig controls API key authentication on the control surface.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting, independent of C1's
// per-context-per-domain delay.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// MetricsConfig controls the /metrics Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   // default: true
	Path    string // default: "/metrics"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	weights := envFloatSliceOr("CONTEXTPOOL_EVICTION_WEIGHTS", [3]float64{1, 1, 1})
	return &Config{
		Server: ServerConfig{
			Host: envOr("CONTEXTPOOL_HOST", "0.0.0.0"),
			Port: envIntOr("CONTEXTPOOL_PORT", 8080),
			Mode: envOr("CONTEXTPOOL_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("CONTEXTPOOL_HEADLESS", true),
			CDPPort:           envIntOr("CONTEXTPOOL_CDP_PORT", 9222),
			NoSandbox:         envBoolOr("CONTEXTPOOL_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("CONTEXTPOOL_BROWSER_BIN"),
			UseVirtualDisplay: envBoolOr("CONTEXTPOOL_VIRTUAL_DISPLAY", false),
			VirtualDisplaySize: envIntPairOr("CONTEXTPOOL_VIRTUAL_DISPLAY_SIZE", [2]int{1920, 1080}),
			BlockedResourceTypes: envSliceOr("CONTEXTPOOL_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Pool: PoolConfig{
			MaxContexts:            envIntOr("CONTEXTPOOL_MAX_CONTEXTS", 5),
			DefaultDomainDelay:     envDurationOr("CONTEXTPOOL_DEFAULT_DOMAIN_DELAY", 1*time.Second),
			MaxQueueWait:           envDurationOr("CONTEXTPOOL_MAX_QUEUE_WAIT", 30*time.Second),
			MaxConsecutiveErrors:   envIntOr("CONTEXTPOOL_MAX_CONSECUTIVE_ERRORS", 3),
			PersistentContextsPath: envOr("CONTEXTPOOL_PERSISTENT_CONTEXTS_PATH", "./persistent_contexts"),
			EvictionWeightIdle:     weights[0],
			EvictionWeightError:    weights[1],
			EvictionWeightAge:      weights[2],
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CONTEXTPOOL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CONTEXTPOOL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CONTEXTPOOL_RATE_RPS", 5.0),
			Burst:             envIntOr("CONTEXTPOOL_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("CONTEXTPOOL_LOG_LEVEL", "info"),
			Format: envOr("CONTEXTPOOL_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: envBoolOr("CONTEXTPOOL_METRICS_ENABLED", true),
			Path:    envOr("CONTEXTPOOL_METRICS_PATH", "/metrics"),
		},
		JobQueue: JobQueueConfig{
			Workers: envIntOr("CONTEXTPOOL_JOB_WORKERS", 2),
			MaxAge:  envDurationOr("CONTEXTPOOL_JOB_MAX_AGE", time.Hour),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envFloatSliceOr parses a fixed-length comma-separated triad of weights,
// e.g. "2.0,1.5,0.5" for idle/error/age. Falls back wholesale if the count
// doesn't match — a partial override would silently misweight scoring.
func envFloatSliceOr(key string, fallback [3]float64) [3]float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return fallback
	}
	var out [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fallback
		}
		out[i] = f
	}
	return out
}

// envIntPairOr parses a "WIDTHxHEIGHT" or "WIDTH,HEIGHT" pair.
func envIntPairOr(key string, fallback [2]int) [2]int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	sep := ","
	if strings.Contains(v, "x") {
		sep = "x"
	}
	parts := strings.Split(v, sep)
	if len(parts) != 2 {
		return fallback
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil {
		return fallback
	}
	return [2]int{w, h}
}
