// Package metrics exposes the jitter buffer and RTCP codec's operational
// counters as Prometheus collectors, following the promauto registration
// style used throughout the example corpus for per-subsystem metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one registry. Construct with New; a nil
// *Metrics is valid and every method on it is a no-op, so instrumentation
// call sites never need a presence check.
type Metrics struct {
	queueDepth      *prometheus.GaugeVec
	skewUS          *prometheus.GaugeVec
	jitterUS        *prometheus.GaugeVec
	packetsReleased *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	rtcpErrors      *prometheus.CounterVec
	twccReports     *prometheus.CounterVec
}

// New registers the module's collectors under namespace/subsystem in reg.
// Pass prometheus.DefaultRegisterer to use the global registry.
func New(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_queue_depth",
			Help:      "Number of packets currently queued in the jitter buffer.",
		}, []string{"stream"}),

		skewUS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_skew_us",
			Help:      "Current smoothed clock-skew estimate, in microseconds.",
		}, []string{"stream"}),

		jitterUS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_estimate_us",
			Help:      "Current smoothed interarrival jitter estimate, in microseconds.",
		}, []string{"stream"}),

		packetsReleased: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_packets_released_total",
			Help:      "Packets released by the jitter buffer's Process call.",
		}, []string{"stream"}),

		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_packets_dropped_total",
			Help:      "Packets dropped on enqueue without being queued.",
		}, []string{"stream", "reason"}),

		rtcpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rtcp_subpacket_errors_total",
			Help:      "RTCP compound sub-packets that failed to parse, by packet type.",
		}, []string{"type"}),

		twccReports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "twcc_reports_total",
			Help:      "Transport-wide congestion-control feedback reports processed.",
		}, []string{"direction"}),
	}
}

// SetQueueDepth records the jitter buffer's current queue length for stream.
func (m *Metrics) SetQueueDepth(stream string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream).Set(float64(depth))
}

// SetEstimates records the jitter buffer's current skew and jitter
// estimates for stream.
func (m *Metrics) SetEstimates(stream string, skewUS int64, jitterUS uint32) {
	if m == nil {
		return
	}
	m.skewUS.WithLabelValues(stream).Set(float64(skewUS))
	m.jitterUS.WithLabelValues(stream).Set(float64(jitterUS))
}

// IncPacketsReleased counts one packet released by Process for stream.
func (m *Metrics) IncPacketsReleased(stream string) {
	if m == nil {
		return
	}
	m.packetsReleased.WithLabelValues(stream).Inc()
}

// IncPacketsDropped counts one packet dropped on enqueue for stream, with
// reason one of "old" or "duplicate".
func (m *Metrics) IncPacketsDropped(stream, reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(stream, reason).Inc()
}

// IncRTCPError counts one failed RTCP sub-packet parse, by packet type
// name (see rtcp.TypeString).
func (m *Metrics) IncRTCPError(typ string) {
	if m == nil {
		return
	}
	m.rtcpErrors.WithLabelValues(typ).Inc()
}

// IncTWCCReport counts one transport-wide-cc report processed, direction
// being "sent" or "received".
func (m *Metrics) IncTWCCReport(direction string) {
	if m == nil {
		return
	}
	m.twccReports.WithLabelValues(direction).Inc()
}
