// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instruments for the voice pipeline
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts accepted uploads.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "v2d_jobs_created_total",
		Help: "Voice jobs accepted for processing",
	})

	// JobsCompleted counts jobs that produced a decision.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "v2d_jobs_completed_total",
		Help: "Voice jobs that completed successfully",
	})

	// JobsFailed counts failed jobs by stable error code.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v2d_jobs_failed_total",
		Help: "Voice jobs that failed, by error code",
	}, []string{"code"})

	// UploadsRejected counts requests refused before a job was created.
	UploadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v2d_uploads_rejected_total",
		Help: "Upload requests rejected before job creation, by reason",
	}, []string{"reason"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "v2d_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "v2d_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "v2d_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})
)

// ObserveStageDuration records the wall time of one pipeline stage.
func ObserveStageDuration(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Middleware records request duration and in-flight counts. The chi route
// pattern is used as the path label to keep cardinality bounded.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			httpRequestDuration.WithLabelValues(
				r.Method, path, strconv.Itoa(ww.Status()),
			).Observe(time.Since(start).Seconds())
		})
	}
}
