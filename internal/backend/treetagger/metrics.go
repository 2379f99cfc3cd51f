package treetagger

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for request outcome.
const (
	statusOK    = "ok"
	statusError = "error"
)

var (
	activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpool_treetagger_active_processes",
			Help: "Number of currently running tagger processes.",
		},
	)

	processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpool_treetagger_process_starts_total",
			Help: "Total number of tagger processes started.",
		},
	)

	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagpool_treetagger_request_seconds",
			Help:    "Time from writing a text to the tagger until its end marker is read back, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_treetagger_requests_total",
			Help: "Total number of tagging requests sent to tagger processes.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(activeProcesses)
	prometheus.MustRegister(processStarts)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(requestsTotal)

	requestsTotal.WithLabelValues(statusOK)
	requestsTotal.WithLabelValues(statusError)
}
