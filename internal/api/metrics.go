package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/tagpool/internal/model"
)

// Label values.
const (
	routeUnmatched = "unmatched"

	submitAccepted    = "accepted"
	submitRejected    = "rejected"
	submitUnavailable = "unavailable"

	fetchReady    = "ready"
	fetchPending  = "pending"
	fetchGone     = "gone"
	fetchNotFound = "not_found"

	// kindUnknown labels submissions whose kind could not be decoded.
	kindUnknown = "unknown"
)

var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_http_requests_total",
			Help: "Total number of API requests by route and status class.",
		},
		[]string{"route", "class"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagpool_http_request_duration_seconds",
			Help:    "API request duration by route in seconds, excluding event streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	jobSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_api_submissions_total",
			Help: "Total number of job submissions received over HTTP by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	resultFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpool_api_result_fetches_total",
			Help: "Total number of result requests by outcome.",
		},
		[]string{"outcome"},
	)

	resultWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagpool_api_result_wait_seconds",
			Help:    "Time a result request spent waiting for its job to finish, in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 25},
		},
	)

	eventStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpool_api_event_streams",
			Help: "Number of open job event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(apiRequests)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(jobSubmissions)
	prometheus.MustRegister(resultFetches)
	prometheus.MustRegister(resultWait)
	prometheus.MustRegister(eventStreams)

	for _, k := range []model.OpKind{model.KindTagText, model.KindTagFile, model.KindTagFileTo} {
		for _, o := range []string{submitAccepted, submitRejected, submitUnavailable} {
			jobSubmissions.WithLabelValues(string(k), o)
		}
	}
	for _, o := range []string{fetchReady, fetchPending, fetchGone, fetchNotFound} {
		resultFetches.WithLabelValues(o)
	}
}

// metricsMiddleware counts requests per chi route pattern and status class.
// Event streams are counted but kept out of the duration histogram.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		apiRequests.WithLabelValues(route, statusClass(ww.Status())).Inc()
		if route != eventsRoute {
			apiRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// eventsRoute is the full chi pattern of the SSE endpoint.
const eventsRoute = "/v1/jobs/{id}/events"

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return routeUnmatched
}

// statusClass maps 404 to "4xx" and so on. A handler that never wrote a
// header answered 200.
func statusClass(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return string("012345"[min(status/100, 5)]) + "xx"
}

func recordSubmission(kind model.OpKind, outcome string) {
	k := string(kind)
	switch kind {
	case model.KindTagText, model.KindTagFile, model.KindTagFileTo:
	default:
		k = kindUnknown
	}
	jobSubmissions.WithLabelValues(k, outcome).Inc()
}

func recordFetch(outcome string) {
	resultFetches.WithLabelValues(outcome).Inc()
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
