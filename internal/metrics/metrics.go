// Package metrics holds the proxy's Prometheus instrumentation and access
// logging.
package metrics

import (
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemo_http_requests_total",
		Help: "HTTP requests handled by the proxy, by method and status.",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mnemo_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// MemoriesIngested counts memories stored via the ingestion pipeline.
	MemoriesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnemo_memories_ingested_total",
		Help: "Memories stored via the ingestion pipeline.",
	})

	// MemoriesEvicted counts memories removed under storage pressure.
	MemoriesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnemo_memories_evicted_total",
		Help: "Memories evicted with tombstones.",
	})
)

// RequestMiddleware records request counts and latency.
func RequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// AccessLogMiddleware logs each request with method, path, status, and
// duration. Paths listed in skipPaths pass through silently.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
