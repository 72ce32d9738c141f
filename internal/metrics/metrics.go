package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FixesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navi_fixes_processed_total",
			Help: "Position fixes run through a navigation session, by source.",
		},
		[]string{"source"},
	)

	StepAdvances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "navi_step_advances_total",
			Help: "Step advancements across all sessions.",
		},
	)

	SimulatorSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "navi_simulator_samples_total",
			Help: "Synthetic fixes emitted by the route simulator.",
		},
	)

	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navi_source_errors_total",
			Help: "Errors reported to navigation sessions, by code.",
		},
		[]string{"code"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "navi_active_sessions",
			Help: "Navigation sessions currently held in memory.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navi_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "navi_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		FixesProcessed,
		StepAdvances,
		SimulatorSamples,
		SourceErrors,
		ActiveSessions,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and duration, labelled by the matched
// route template so path parameters do not create new series.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := routeLabel(c.FullPath())
		code := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(path, c.Request.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func routeLabel(fullPath string) string {
	if fullPath == "" {
		return "other"
	}
	return fullPath
}
