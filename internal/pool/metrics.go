package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/tagpool/internal/model"
)

// Metric label values for job outcome.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_jobs_submitted_total",
			Help: "Total number of jobs accepted by a pool.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_jobs_finished_total",
			Help: "Total number of jobs that reached a final state.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagpool_job_duration_seconds",
			Help:    "Time from a worker picking up a job until its result is delivered, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpool_jobs_in_flight",
			Help: "Number of accepted jobs not yet finished.",
		},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpool_active_workers",
			Help: "Number of running pool workers.",
		},
	)

	workerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpool_worker_restarts_total",
			Help: "Total number of worker processes restarted after exiting.",
		},
	)

	protocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpool_protocol_errors_total",
			Help: "Total number of results received for unknown jobs.",
		},
	)
)

var opKinds = []model.OpKind{model.KindTagText, model.KindTagFile, model.KindTagFileTo}

func init() {
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(workerRestarts)
	prometheus.MustRegister(protocolErrors)

	// Pre-initialize label combinations so they appear with value 0 from startup.
	for _, k := range opKinds {
		jobsSubmitted.WithLabelValues(string(k))
		jobsFinished.WithLabelValues(string(k), statusCompleted)
		jobsFinished.WithLabelValues(string(k), statusFailed)
	}
}

// MetricsObserver records pool events in the default Prometheus registry.
func MetricsObserver() Observer {
	return ObserverFunc(recordMetrics)
}

func recordMetrics(e Event) {
	kind := string(e.Kind)
	switch e.Type {
	case EventJobSubmitted:
		jobsSubmitted.WithLabelValues(kind).Inc()
		jobsInFlight.Inc()
	case EventJobFinished:
		jobsFinished.WithLabelValues(kind, statusCompleted).Inc()
		jobDuration.WithLabelValues(kind).Observe(e.Duration.Seconds())
		jobsInFlight.Dec()
	case EventJobFailed:
		jobsFinished.WithLabelValues(kind, statusFailed).Inc()
		jobDuration.WithLabelValues(kind).Observe(e.Duration.Seconds())
		jobsInFlight.Dec()
	case EventWorkerStarted:
		activeWorkers.Inc()
	case EventWorkerExited:
		activeWorkers.Dec()
	case EventWorkerRestarted:
		workerRestarts.Inc()
	case EventProtocolError:
		protocolErrors.Inc()
	}
}
