package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmittedTotal, jobsProcessedTotal, conversionDuration, resultWaitsTotal, pendingStaleEntries)
}

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgconv_jobs_submitted_total",
			Help: "Total number of conversion jobs appended to the stream.",
		},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgconv_jobs_processed_total",
			Help: "Total number of jobs processed by workers, labeled by status.",
		},
		[]string{"status"}, // 'succeeded', 'failed', 'malformed'
	)

	conversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgconv_conversion_duration_seconds",
			Help:    "Time spent in the conversion executor per target format.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"format"},
	)

	resultWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgconv_result_waits_total",
			Help: "Result waits by outcome.",
		},
		[]string{"outcome"}, // 'received', 'timeout', 'canceled', 'error'
	)

	pendingStaleEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgconv_pending_stale_entries",
			Help: "Pending stream entries idle past the monitor threshold at the last scan.",
		},
	)
)

func IncSubmitted() { jobsSubmittedTotal.Inc() }

func IncProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveConversion(format string, d time.Duration) {
	conversionDuration.WithLabelValues(norm(format)).Observe(d.Seconds())
}

func IncResultWait(outcome string) {
	resultWaitsTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetPendingStale(n int) { pendingStaleEntries.Set(float64(n)) }

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
