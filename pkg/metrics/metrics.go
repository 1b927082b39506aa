// Package metrics exposes Prometheus counters for the mesh protocol engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for a network manager. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	messagesSent     prometheus.Counter
	messagesFailed   *prometheus.CounterVec
	messagesReceived prometheus.Counter
	ackRetries       prometheus.Counter
	segmentsSent     prometheus.Counter
	segmentsResent   prometheus.Counter
	segmentsReceived prometheus.Counter
	segmentAcks      *prometheus.CounterVec
	pdusDropped      *prometheus.CounterVec
	pendingAcks      prometheus.Gauge
	busyDestinations prometheus.Gauge
	activeReassembly prometheus.Gauge
	beaconsReceived  *prometheus.CounterVec
}

// NewRecorder registers metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_messages_sent_total",
			Help: "Access messages handed to the bearer",
		}),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_messages_failed_total",
			Help: "Access messages that failed, grouped by reason",
		}, []string{"reason"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_messages_received_total",
			Help: "Access messages delivered to handlers",
		}),
		ackRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_acknowledged_retries_total",
			Help: "Retransmissions of acknowledged messages awaiting a response",
		}),
		segmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_segments_sent_total",
			Help: "Lower transport segments transmitted for the first time",
		}),
		segmentsResent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_segments_retransmitted_total",
			Help: "Lower transport segments retransmitted",
		}),
		segmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_segments_received_total",
			Help: "Lower transport segments received",
		}),
		segmentAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_segment_acks_sent_total",
			Help: "Segment acknowledgements sent, grouped by kind",
		}, []string{"kind"}),
		pdusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_pdus_dropped_total",
			Help: "Inbound PDUs discarded, grouped by reason",
		}, []string{"reason"}),
		pendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_acknowledgment_contexts",
			Help: "Outstanding acknowledged requests",
		}),
		busyDestinations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_busy_destinations",
			Help: "Destinations with a message in flight",
		}),
		activeReassembly: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_reassemblies_active",
			Help: "Segmented messages being reassembled",
		}),
		beaconsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_beacons_received_total",
			Help: "Network beacons received, grouped by type",
		}, []string{"type"}),
	}

	reg.MustRegister(
		r.messagesSent,
		r.messagesFailed,
		r.messagesReceived,
		r.ackRetries,
		r.segmentsSent,
		r.segmentsResent,
		r.segmentsReceived,
		r.segmentAcks,
		r.pdusDropped,
		r.pendingAcks,
		r.busyDestinations,
		r.activeReassembly,
		r.beaconsReceived,
	)
	return r
}

// Handler serves the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveMessageSent counts a sent access message.
func (r *Recorder) ObserveMessageSent() {
	if r == nil {
		return
	}
	r.messagesSent.Inc()
}

// ObserveMessageFailed counts a failed access message.
func (r *Recorder) ObserveMessageFailed(reason string) {
	if r == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	r.messagesFailed.WithLabelValues(reason).Inc()
}

func (r *Recorder) ObserveMessageReceived() {
	if r == nil {
		return
	}
	r.messagesReceived.Inc()
}

func (r *Recorder) ObserveAckRetry() {
	if r == nil {
		return
	}
	r.ackRetries.Inc()
}

// ObserveSegmentsSent counts n segments; retransmit selects the counter.
func (r *Recorder) ObserveSegmentsSent(n int, retransmit bool) {
	if r == nil {
		return
	}
	if retransmit {
		r.segmentsResent.Add(float64(n))
		return
	}
	r.segmentsSent.Add(float64(n))
}

func (r *Recorder) ObserveSegmentReceived() {
	if r == nil {
		return
	}
	r.segmentsReceived.Inc()
}

// ObserveSegmentAck counts a sent segment acknowledgement.
func (r *Recorder) ObserveSegmentAck(busy bool) {
	if r == nil {
		return
	}
	kind := "normal"
	if busy {
		kind = "busy"
	}
	r.segmentAcks.WithLabelValues(kind).Inc()
}

// ObservePDUDropped counts a discarded inbound PDU.
func (r *Recorder) ObservePDUDropped(reason string) {
	if r == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	r.pdusDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetPendingAcks(n int) {
	if r == nil {
		return
	}
	r.pendingAcks.Set(float64(n))
}

func (r *Recorder) SetBusyDestinations(n int) {
	if r == nil {
		return
	}
	r.busyDestinations.Set(float64(n))
}

func (r *Recorder) SetActiveReassemblies(n int) {
	if r == nil {
		return
	}
	r.activeReassembly.Set(float64(n))
}

// ObserveBeacon counts a received beacon of the given type.
func (r *Recorder) ObserveBeacon(kind string) {
	if r == nil {
		return
	}
	r.beaconsReceived.WithLabelValues(kind).Inc()
}
