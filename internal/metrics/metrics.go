package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Timer engine metrics
	TimerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_timer_transitions_total",
			Help: "Timer state transitions applied by the engine",
		},
		[]string{"transition", "type"},
	)

	TimerInvalidTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_timer_invalid_transitions_total",
			Help: "Timer operations rejected because of the current state",
		},
		[]string{"operation", "from"},
	)

	TimerPersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_timer_persistence_failures_total",
			Help: "Failed attempts to write timer sessions to the session store",
		},
		[]string{"operation"},
	)

	TimerClockAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_timer_clock_anomalies_total",
			Help: "Wall-clock readings that fell outside the planned session window",
		},
		[]string{"direction"},
	)

	// Session store API metrics
	SessionWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_session_writes_total",
			Help: "Session store writes handled by the API",
		},
		[]string{"operation", "result"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarttodos_auth_attempts_total",
			Help: "Registration and login attempts by outcome",
		},
		[]string{"action", "result"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smarttodos_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TimerTransitionsTotal,
		TimerInvalidTransitionsTotal,
		TimerPersistenceFailuresTotal,
		TimerClockAnomaliesTotal,
		SessionWritesTotal,
		AuthAttemptsTotal,
		HTTPRequestDuration,
	)
}

// Handler exposes the default registry for the API router.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
