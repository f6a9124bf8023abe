// Package metrics provides Prometheus instrumentation for the chat server and
// the small ops HTTP surface that exposes it.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of open TCP connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_connections",
		Help: "Current number of open client connections",
	})

	// SessionsOnline tracks how many users are signed in.
	SessionsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_sessions_online",
		Help: "Current number of signed-in users",
	})

	// UsersRegistered tracks how many usernames have ever signed in.
	UsersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_users_registered",
		Help: "Number of registered users",
	})

	// CommandsTotal counts processed request lines by command and reply code.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_commands_total",
		Help: "Total number of commands processed",
	}, []string{"command", "result"})

	// MessagesTotal counts stored messages by kind: "broadcast", "private"
	// or "delayed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_messages_total",
		Help: "Total number of messages stored",
	}, []string{"kind"})

	// ReportsTotal counts accepted reports by outcome.
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_reports_total",
		Help: "Total number of accepted user reports",
	}, []string{"outcome"})

	// ScheduledPending tracks delayed messages waiting to fire.
	ScheduledPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_scheduled_pending",
		Help: "Current number of delayed messages waiting to be delivered",
	})

	// CommandLatency records the time spent dispatching one request line.
	CommandLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linechat_command_latency_seconds",
		Help:    "Command dispatch latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		SessionsOnline,
		UsersRegistered,
		CommandsTotal,
		MessagesTotal,
		ReportsTotal,
		ScheduledPending,
		CommandLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Router serves GET /metrics and GET /health. conns reports the live
// connection count for the health payload.
func Router(conns func() int) http.Handler {
	startedAt := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		resp := struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
			Uptime      string `json:"uptime"`
		}{
			Status:      "ok",
			Connections: conns(),
			Uptime:      time.Since(startedAt).Round(time.Second).String(),
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
