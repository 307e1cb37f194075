package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "copad", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "copad", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "copad", Name: "ws_connections", Help: "Currently open websocket connections."},
	)
	UpdatesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "copad", Name: "updates_relayed_total", Help: "document-change frames relayed to rooms."},
	)
	SavesBroadcast = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "copad", Name: "saves_broadcast_total", Help: "document-saved acknowledgments broadcast to rooms."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(WSConnections)
	reg.MustRegister(UpdatesRelayed)
	reg.MustRegister(SavesBroadcast)
}
