package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Token ring ----
	TokenHops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "token_hops_total",
			Help:      "Tokens processed by this process, by token kind.",
		},
		[]string{"kind"},
	)

	MessagesInjected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "messages_injected_total",
			Help:      "Application envelopes loaded onto the token.",
		},
	)

	MessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "messages_delivered_total",
			Help:      "Application envelopes taken off the token by their target.",
		},
	)

	JoinRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "join_requests_total",
			Help:      "Join requests handled, by outcome (inserted, forwarded, replayed, dropped).",
		},
		[]string{"outcome"},
	)

	CountLaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "count_laps_total",
			Help:      "Ring count laps that returned short of the expected size.",
		},
	)

	RingPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "drivethru",
			Name:      "ring_phase",
			Help:      "Protocol phase per node (0 joining, 1 counting, 2 discovery, 3 circulating).",
		},
		[]string{"node"},
	)

	// ---- Kitchen ----
	EquipmentWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drivethru",
			Name:      "equipment_wait_seconds",
			Help:      "Time a chef waited for a piece of equipment.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"equipment"},
	)

	// ---- HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drivethru",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drivethru",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// Orders wait on the kitchen, so this reaches well past a minute.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 17),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "drivethru",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "drivethru",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "drivethru",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		TokenHops, MessagesInjected, MessagesDelivered, JoinRequests, CountLaps, RingPhase,
		EquipmentWait,
		RequestsTotal, RequestDuration, InFlight,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("POST /orders", telemetry.Instrument("order", http.HandlerFunc(f.PlaceOrder)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
