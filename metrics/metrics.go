// Package metrics exposes the pool's internal state as Prometheus
// collectors, for scraping by /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contextpool"

// Collector wraps the pre-registered collectors. The pool gauges are set
// by SetPoolState, which cmd/contextpoold polls on a ticker; scrape
// outcomes are recorded by the scrape handler and the job queue; evictions
// and recreations arrive from the registry through the pool.Events hook.
type Collector struct {
	PoolSize      prometheus.Gauge
	InUseCount    prometheus.Gauge
	QueueDepth    prometheus.Gauge
	Evictions     prometheus.Counter
	Recreations   prometheus.Counter
	ScrapesTotal  *prometheus.CounterVec
	ScrapeLatency prometheus.Histogram
	QueueWait     prometheus.Histogram
}

// New builds and registers a Collector against the given registerer. Pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry()
// in tests to avoid collisions across repeated construction.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_size", Help: "Number of live browser contexts.",
		}),
		InUseCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_in_use", Help: "Number of contexts currently in use.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Number of requests waiting for a context.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total", Help: "Total contexts evicted to make room for a new one.",
		}),
		Recreations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recreations_total", Help: "Total contexts recreated after crossing the consecutive-error threshold.",
		}),
		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scrapes_total", Help: "Total scrape requests by outcome.",
		}, []string{"outcome"}),
		ScrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scrape_duration_seconds", Help: "Scrape request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "queue_wait_seconds", Help: "Time a request spent waiting for a context.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	reg.MustRegister(
		c.PoolSize, c.InUseCount, c.QueueDepth,
		c.Evictions, c.Recreations,
		c.ScrapesTotal, c.ScrapeLatency, c.QueueWait,
	)
	return c
}

// Handler returns the HTTP handler to mount at the configured metrics path.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScrape records one completed scrape's latency, queue wait, and
// outcome ("success" or "failure").
func (c *Collector) RecordScrape(success bool, latencySeconds, queueWaitSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.ScrapesTotal.WithLabelValues(outcome).Inc()
	c.ScrapeLatency.Observe(latencySeconds)
	if queueWaitSeconds > 0 {
		c.QueueWait.Observe(queueWaitSeconds)
	}
}

// RecordEviction increments the eviction counter.
func (c *Collector) RecordEviction() { c.Evictions.Inc() }

// RecordRecreation increments the recreation counter.
func (c *Collector) RecordRecreation() { c.Recreations.Inc() }

// Eviction and Recreation satisfy pool.Events, letting the registry report
// these events without importing this package.
func (c *Collector) Eviction()   { c.RecordEviction() }
func (c *Collector) Recreation() { c.RecordRecreation() }

// SetPoolState updates the point-in-time gauges from a pool state snapshot.
func (c *Collector) SetPoolState(size, inUse, queueDepth int) {
	c.PoolSize.Set(float64(size))
	c.InUseCount.Set(float64(inUse))
	c.QueueDepth.Set(float64(queueDepth))
}
