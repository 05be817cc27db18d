package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftmail_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	dmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "driftmail_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dmConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftmail_confirmations_issued_total",
		Help: "Token issuance decisions by intent and action.",
	}, []string{"intent", "action"})

	dmRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftmail_redemptions_total",
		Help: "Redemption attempts by result.",
	}, []string{"result"})
)

// RecordIssue counts one token issuance decision.
func RecordIssue(intent, action string) {
	dmConfirmationsTotal.WithLabelValues(intent, action).Inc()
}

// RecordRedeem counts one redemption attempt.
func RecordRedeem(result string) {
	dmRedemptionsTotal.WithLabelValues(result).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		dmRequestsTotal.WithLabelValues(method, path, status).Inc()
		dmRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
