// Package prom exports observability.SessionObserver events as Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/c8ylp/c8ylp-go/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports proxy session metrics to Prometheus.
type SessionObserver struct {
	stateTransitions *prometheus.CounterVec
	reconnectTotal   *prometheus.CounterVec
	clientsAccepted  prometheus.Counter
	clientsRejected  prometheus.Counter
	bytesTotal       *prometheus.CounterVec
	pingTotal        prometheus.Counter
	pongTotal        prometheus.Counter
	closeTotal       *prometheus.CounterVec
	sessionUptime    prometheus.Histogram
}

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "c8ylp_state_transitions_total",
			Help: "Proxy session state machine transitions by from/to state.",
		}, []string{"from", "to"}),
		reconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "c8ylp_reconnect_attempts_total",
			Help: "Tunnel (re)connect attempts by reason.",
		}, []string{"reason"}),
		clientsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c8ylp_tcp_clients_accepted_total",
			Help: "Local TCP clients accepted by the listener.",
		}),
		clientsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c8ylp_tcp_clients_rejected_total",
			Help: "Local TCP clients rejected while one was already attached.",
		}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "c8ylp_bytes_total",
			Help: "Bytes moved through the duplex pump by direction.",
		}, []string{"direction"}),
		pingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c8ylp_ping_total",
			Help: "Keepalive pings sent on the open tunnel.",
		}),
		pongTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c8ylp_pong_total",
			Help: "Keepalive pongs received on the open tunnel.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "c8ylp_session_close_total",
			Help: "Terminal session close reasons.",
		}, []string{"reason"}),
		sessionUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "c8ylp_session_uptime_seconds",
			Help:    "Wall-clock duration from session start to terminal close.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		o.stateTransitions,
		o.reconnectTotal,
		o.clientsAccepted,
		o.clientsRejected,
		o.bytesTotal,
		o.pingTotal,
		o.pongTotal,
		o.closeTotal,
		o.sessionUptime,
	)
	return o
}

func (o *SessionObserver) StateTransition(from, to string) {
	o.stateTransitions.WithLabelValues(from, to).Inc()
}

func (o *SessionObserver) ReconnectAttempt(_ int, reason observability.ReconnectReason) {
	o.reconnectTotal.WithLabelValues(string(reason)).Inc()
}

func (o *SessionObserver) ClientAccepted() { o.clientsAccepted.Inc() }
func (o *SessionObserver) ClientRejected() { o.clientsRejected.Inc() }

func (o *SessionObserver) BytesTransferred(dir observability.Direction, n int64) {
	o.bytesTotal.WithLabelValues(string(dir)).Add(float64(n))
}

func (o *SessionObserver) Ping() { o.pingTotal.Inc() }
func (o *SessionObserver) Pong() { o.pongTotal.Inc() }

func (o *SessionObserver) SessionClosed(reason observability.CloseReason, uptime time.Duration) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
	o.sessionUptime.Observe(uptime.Seconds())
}
