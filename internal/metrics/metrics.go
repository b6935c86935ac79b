// Package metrics exposes the relay's internal counters via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Roles used as label values on connection counters.
const (
	RoleDApp   = "dapp"
	RoleMobile = "mobile"
)

// Metrics is the relay's counter registry. It owns a private Prometheus
// registry so tests can run in parallel without collisions on the default
// global one.
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreated    prometheus.Counter
	SessionsExpired    prometheus.Counter
	SessionsTerminated prometheus.Counter
	CreateRateLimited  prometheus.Counter
	CreateAtCapacity   prometheus.Counter

	WSConnections   *prometheus.CounterVec
	FramesForwarded prometheus.Counter
	ForwardNoPeer   prometheus.Counter
	ForwardErrors   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_sessions_created_total",
			Help: "Sessions created via POST /session.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_sessions_expired_total",
			Help: "Sessions removed by the expiration sweeper.",
		}),
		SessionsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_sessions_terminated_total",
			Help: "Sessions terminated explicitly.",
		}),
		CreateRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_session_creates_rate_limited_total",
			Help: "Session creations rejected by the per-IP rate limit.",
		}),
		CreateAtCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_session_creates_at_capacity_total",
			Help: "Session creations rejected because the store was full.",
		}),
		WSConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_relay_ws_connections_total",
			Help: "Accepted WebSocket attachments by role.",
		}, []string{"role"}),
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_frames_forwarded_total",
			Help: "Frames forwarded between paired peers.",
		}),
		ForwardNoPeer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_forward_no_peer_total",
			Help: "Frames that arrived while the opposite peer was absent.",
		}),
		ForwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_relay_forward_errors_total",
			Help: "Frames whose delivery to the peer failed at the transport.",
		}),
	}
	reg.MustRegister(
		m.SessionsCreated,
		m.SessionsExpired,
		m.SessionsTerminated,
		m.CreateRateLimited,
		m.CreateAtCapacity,
		m.WSConnections,
		m.FramesForwarded,
		m.ForwardNoPeer,
		m.ForwardErrors,
	)
	return m
}

// Handler exposes the registry in Prometheus' text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
