package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intent_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intent_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_layer",
			Subsystem: "resolution",
			Name:      "intents_total",
			Help:      "Total number of resolution attempts by outcome.",
		},
		[]string{"status"},
	)

	batchSizes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "intent_layer",
			Subsystem: "resolution",
			Name:      "batch_size",
			Help:      "Tuples per committed batch.",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		},
	)

	auctionsSettled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "intent_layer",
			Subsystem: "auction",
			Name:      "settled_total",
			Help:      "Total number of settled auctions.",
		},
	)

	slashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "intent_layer",
			Subsystem: "reputation",
			Name:      "slashes_total",
			Help:      "Total number of reputation slashes.",
		},
	)

	flashloans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_layer",
			Subsystem: "treasury",
			Name:      "flashloans_total",
			Help:      "Total flashloan routing attempts by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		resolutions,
		batchSizes,
		auctionsSettled,
		slashes,
		flashloans,
	)
}

// ObserveResolution counts one resolution attempt.
func ObserveResolution(status string) {
	resolutions.WithLabelValues(status).Inc()
}

// ObserveBatch records a committed batch size.
func ObserveBatch(tuples int) {
	batchSizes.Observe(float64(tuples))
}

// ObserveSettlement counts one settled auction.
func ObserveSettlement() {
	auctionsSettled.Inc()
}

// ObserveSlash counts one reputation slash.
func ObserveSlash() {
	slashes.Inc()
}

// ObserveFlashloan counts one flashloan routing attempt.
func ObserveFlashloan(status string) {
	flashloans.WithLabelValues(status).Inc()
}

// Handler serves the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
