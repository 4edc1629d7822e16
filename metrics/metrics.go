// Package metrics exposes Prometheus collectors for a service center.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rpc-center/message"
)

const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Metrics groups the collectors one Center reports to.
type Metrics struct {
	Connections  prometheus.Gauge
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	BroadcastFan prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests free of global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpc_center",
			Name:      "connections",
			Help:      "Live peer connections attached to the center.",
		}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpc_center",
			Name:      "calls_total",
			Help:      "Calls by direction, kind and outcome.",
		}, []string{"direction", "kind", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpc_center",
			Name:      "call_duration_seconds",
			Help:      "Call latency by direction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		BroadcastFan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rpc_center",
			Name:      "broadcast_peers",
			Help:      "Number of peers a broadcast fanned out to.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Calls, m.CallDuration, m.BroadcastFan)
	}
	return m
}

// ObserveCall records one finished call.
func (m *Metrics) ObserveCall(direction string, notification bool, err error, d time.Duration) {
	kind := "request"
	if notification {
		kind = "notification"
	}
	m.Calls.WithLabelValues(direction, kind, outcome(err)).Inc()
	m.CallDuration.WithLabelValues(direction).Observe(d.Seconds())
}

func outcome(err error) string {
	var re *message.RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &re):
		return "remote_error"
	default:
		return "error"
	}
}
