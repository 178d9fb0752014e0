package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_sessions_active",
			Help: "Number of live terminal sessions",
		},
	)

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_sessions_started_total",
			Help: "Total number of sessions started",
		},
	)

	ContainersManaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_containers_managed",
			Help: "Number of containers currently tracked per user",
		},
	)

	ContainersReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_containers_reaped_total",
			Help: "Total number of orphaned containers removed",
		},
	)

	ContainersHealed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_containers_healed_total",
			Help: "Total number of unhealthy containers removed and recreated",
		},
	)

	// FS-event intake metrics
	FSEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_fs_events_total",
			Help: "Total number of intercepted shell verbs by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	// Notification bus metrics
	NotifySubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_notify_subscribers",
			Help: "Number of open update-subscription WebSockets",
		},
	)

	NotifyEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_notify_events_total",
			Help: "Total number of file-update events published",
		},
	)

	// PTY bridge metrics
	TerminalBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_terminal_bytes_total",
			Help: "Bytes pumped through terminal bridges by direction",
		},
		[]string{"direction"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(ContainersManaged)
	prometheus.MustRegister(ContainersReaped)
	prometheus.MustRegister(ContainersHealed)
	prometheus.MustRegister(FSEventsTotal)
	prometheus.MustRegister(NotifySubscribers)
	prometheus.MustRegister(NotifyEventsTotal)
	prometheus.MustRegister(TerminalBytes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
