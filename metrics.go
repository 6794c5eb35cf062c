package smb2core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects PDU lifecycle counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	submitted     *prometheus.CounterVec
	completed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	outboundBytes *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// Outcome labels for smb2core_pdus_completed_total.
const (
	outcomeSuccess    = "success"
	outcomeStatus     = "status"
	outcomeBadMessage = "bad_message"
)

// Stage labels for smb2core_pdus_failed_total.
const (
	stageAllocate = "allocate"
	stageEncode   = "encode"
	stageQueue    = "queue"
	stageFreed    = "freed"
)

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smb2core",
			Name:      "pdus_submitted_total",
			Help:      "PDUs handed to the transport, by command.",
		}, []string{"command"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smb2core",
			Name:      "pdus_completed_total",
			Help:      "PDUs whose callback fired, by command and outcome.",
		}, []string{"command", "outcome"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smb2core",
			Name:      "pdus_failed_total",
			Help:      "PDUs dropped without a callback, by command and stage.",
		}, []string{"command", "stage"}),
		outboundBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smb2core",
			Name:      "outbound_bytes_total",
			Help:      "Encoded request payload bytes queued, by command.",
		}, []string{"command"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smb2core",
			Name:      "pdus_in_flight",
			Help:      "PDUs allocated and not yet freed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.completed, m.failed, m.outboundBytes, m.inFlight)
	}
	return m
}

func (m *Metrics) pduAllocated() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) pduReleased() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) pduQueued(cmd Command, n int) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(cmd.String()).Inc()
	m.outboundBytes.WithLabelValues(cmd.String()).Add(float64(n))
}

func (m *Metrics) pduCompleted(cmd Command, outcome string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(cmd.String(), outcome).Inc()
}

func (m *Metrics) pduFailed(cmd Command, stage string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(cmd.String(), stage).Inc()
}
