// Package metrics exposes the gateway's prometheus counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChatRequests   *prometheus.CounterVec
	StreamEvents   *prometheus.CounterVec
	PointsDebited  prometheus.Counter
	UpstreamErrors prometheus.Counter
	RateLimited    prometheus.Counter
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the process-wide metrics set, registering the collectors
// on first use.
func Global() *Metrics {
	globalOnce.Do(func() {
		global = newMetrics(prometheus.DefaultRegisterer)
	})
	return global
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "chat_requests_total",
			Help:      "Chat requests by backend kind (own or shared).",
		}, []string{"backend"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "stream_events_total",
			Help:      "Stream events relayed to clients by kind.",
		}, []string{"kind"}),
		PointsDebited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "points_debited_total",
			Help:      "Points debited for shared-backend chat requests.",
		}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "upstream_errors_total",
			Help:      "Upstream failures surfaced as inline stream errors.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "rate_limited_total",
			Help:      "Chat requests rejected by the hourly rate limit.",
		}),
	}
}
