// Package metrics holds the Prometheus collectors for the tunnel. A nil
// *Tunnel is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "c4x"

// Direction labels.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Tunnel counts traffic through one tunnel endpoint.
type Tunnel struct {
	frames     prometheus.Counter
	discards   *prometheus.CounterVec
	envelopes  *prometheus.CounterVec
	ignored    *prometheus.CounterVec
	pending    prometheus.Gauge
	heartbeats prometheus.Counter
	sendErrors prometheus.Counter
}

// New creates the collectors for role ("controller" or "peer") and registers
// them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer, role string) (*Tunnel, error) {
	labels := prometheus.Labels{"role": role}
	m := &Tunnel{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "frame",
			Name:        "candidates_total",
			Help:        "Candidate payloads extracted from the codec stream",
			ConstLabels: labels,
		}),
		discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "frame",
			Name:        "discarded_total",
			Help:        "Lines dropped by the frame extractor",
			ConstLabels: labels,
		}, []string{"reason"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "envelope",
			Name:        "messages_total",
			Help:        "Envelopes handled by type and direction",
			ConstLabels: labels,
		}, []string{"type", "direction"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "envelope",
			Name:        "ignored_total",
			Help:        "Candidates ignored during decode, by cause",
			ConstLabels: labels,
		}, []string{"cause"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "correlation",
			Name:        "pending",
			Help:        "Requests awaiting a reply",
			ConstLabels: labels,
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "keepalive",
			Name:        "announcements_total",
			Help:        "Peripheral heartbeat announcements written",
			ConstLabels: labels,
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "link",
			Name:        "write_errors_total",
			Help:        "Failed writes to the codec channel",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.frames, m.discards, m.envelopes, m.ignored, m.pending, m.heartbeats, m.sendErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Tunnel) Candidate() {
	if m != nil {
		m.frames.Inc()
	}
}

func (m *Tunnel) Discard(reason string) {
	if m != nil {
		m.discards.WithLabelValues(reason).Inc()
	}
}

func (m *Tunnel) Envelope(typ, direction string) {
	if m != nil {
		m.envelopes.WithLabelValues(typ, direction).Inc()
	}
}

func (m *Tunnel) Ignored(cause string) {
	if m != nil {
		m.ignored.WithLabelValues(cause).Inc()
	}
}

// SetPending records the size of the correlation table.
func (m *Tunnel) SetPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Tunnel) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Tunnel) WriteError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}
