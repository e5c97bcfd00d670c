package controlplane

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters kept by Service.
type Metrics struct {
	Registrations *prometheus.CounterVec
	Heartbeats    *prometheus.CounterVec
	ActiveStreams prometheus.Gauge
}

// NewMetrics creates the service counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Name:      "registrations_total",
			Help:      "RegisterNode calls by result.",
		}, []string{"result"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Name:      "heartbeats_total",
			Help:      "Heartbeats received, by whether they were applied or ignored.",
		}, []string{"result"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "controlplane",
			Name:      "heartbeat_streams_active",
			Help:      "Open heartbeat streams.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Registrations, m.Heartbeats, m.ActiveStreams)
	}
	return m
}
