// Package metrics holds the process-wide Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelforge"

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Render jobs that reached a terminal state, by status",
	}, []string{"status"})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Render jobs currently encoding",
	})

	JobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_queued",
		Help:      "Render jobs waiting for a slot",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "render_duration_seconds",
		Help:      "Wall time of finished renders",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "compile_duration_seconds",
		Help:      "Time spent building ffmpeg invocations",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	CompileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compile_errors_total",
		Help:      "Compositions that failed to compile",
	})

	HWAccelVendor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hwaccel_vendor",
		Help:      "Selected hardware encoder vendor (1 for the active one)",
	}, []string{"vendor"})
)

// SetVendor marks vendor as the active encoder family
func SetVendor(vendor string, all []string) {
	for _, v := range all {
		HWAccelVendor.WithLabelValues(v).Set(0)
	}
	HWAccelVendor.WithLabelValues(vendor).Set(1)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
