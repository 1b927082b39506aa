// Package params holds the network parameters that drive Segmentation and
// Reassembly (SAR) timing and the acknowledged message retry policy.
//
// Every setter clamps its input to the legal range instead of rejecting it.
// Step values are stored raw, as they travel in the SAR Configuration
// messages, and converted to durations by the getters.
package params

import "time"

// Defaults (Mesh Protocol 1.1, SAR Configuration).
const (
	DefaultTTL = 5

	DefaultDiscardTimeout                          = 1  // 10 s
	DefaultAcknowledgementDelayIncrement           = 1  // 2.5 segments
	DefaultSegmentReceptionInterval                = 5  // 60 ms
	DefaultSegmentsThreshold                       = 3
	DefaultAcknowledgementRetransmissionsCount     = 0
	DefaultSegmentTransmissionInterval             = 5 // 60 ms
	DefaultUnicastRetransmissionsCount             = 2
	DefaultUnicastRetransmissionsWithoutProgress   = 2
	DefaultUnicastRetransmissionsIntervalStep      = 7 // 200 ms
	DefaultUnicastRetransmissionsIntervalIncrement = 1 // 50 ms
	DefaultMulticastRetransmissionsCount           = 2
	DefaultMulticastRetransmissionsIntervalStep    = 8 // 225 ms

	DefaultAcknowledgementMessageTimeout  = 30 * time.Second
	DefaultAcknowledgementMessageInterval = 2 * time.Second
)

// Legal ranges.
const (
	MinTTL = 2
	MaxTTL = 127

	maxStep4 = 15
	maxStep3 = 7
	maxStep2 = 3
	maxStep5 = 31

	MinAcknowledgementMessageTimeout  = 30 * time.Second
	MinAcknowledgementMessageInterval = 2 * time.Second

	// perHopDelay and perSegmentDelay extend the acknowledged message
	// retry interval.
	perHopDelay     = 50 * time.Millisecond
	perSegmentDelay = 50 * time.Millisecond
)

// NetworkParameters is the SAR and reliability configuration. The zero value
// is not valid; use Default.
type NetworkParameters struct {
	defaultTTL uint8

	discardTimeout                          uint8
	acknowledgementDelayIncrement           uint8
	segmentReceptionInterval                uint8
	segmentsThreshold                       uint8
	acknowledgementRetransmissionsCount     uint8
	segmentTransmissionInterval             uint8
	unicastRetransmissionsCount             uint8
	unicastRetransmissionsWithoutProgress   uint8
	unicastRetransmissionsIntervalStep      uint8
	unicastRetransmissionsIntervalIncrement uint8
	multicastRetransmissionsCount           uint8
	multicastRetransmissionsIntervalStep    uint8

	acknowledgementMessageTimeout  time.Duration
	acknowledgementMessageInterval time.Duration
}

// Default returns the default network parameters.
func Default() NetworkParameters {
	return NetworkParameters{
		defaultTTL:                              DefaultTTL,
		discardTimeout:                          DefaultDiscardTimeout,
		acknowledgementDelayIncrement:           DefaultAcknowledgementDelayIncrement,
		segmentReceptionInterval:                DefaultSegmentReceptionInterval,
		segmentsThreshold:                       DefaultSegmentsThreshold,
		acknowledgementRetransmissionsCount:     DefaultAcknowledgementRetransmissionsCount,
		segmentTransmissionInterval:             DefaultSegmentTransmissionInterval,
		unicastRetransmissionsCount:             DefaultUnicastRetransmissionsCount,
		unicastRetransmissionsWithoutProgress:   DefaultUnicastRetransmissionsWithoutProgress,
		unicastRetransmissionsIntervalStep:      DefaultUnicastRetransmissionsIntervalStep,
		unicastRetransmissionsIntervalIncrement: DefaultUnicastRetransmissionsIntervalIncrement,
		multicastRetransmissionsCount:           DefaultMulticastRetransmissionsCount,
		multicastRetransmissionsIntervalStep:    DefaultMulticastRetransmissionsIntervalStep,
		acknowledgementMessageTimeout:           DefaultAcknowledgementMessageTimeout,
		acknowledgementMessageInterval:          DefaultAcknowledgementMessageInterval,
	}
}

func clamp(v, lo, hi int) uint8 {
	if v < lo {
		return uint8(lo)
	}
	if v > hi {
		return uint8(hi)
	}
	return uint8(v)
}

// DefaultTTL is the TTL used when a message does not specify one.
func (p NetworkParameters) DefaultTTL() uint8 { return p.defaultTTL }

// SetDefaultTTL clamps ttl to [2, 127].
func (p *NetworkParameters) SetDefaultTTL(ttl int) {
	p.defaultTTL = clamp(ttl, MinTTL, MaxTTL)
}

// DiscardTimeout is how long an incomplete segmented message is kept:
// (n + 1) * 5 s.
func (p NetworkParameters) DiscardTimeout() time.Duration {
	return time.Duration(p.discardTimeout+1) * 5 * time.Second
}

func (p NetworkParameters) DiscardTimeoutStep() uint8 { return p.discardTimeout }

// SetDiscardTimeout clamps the step to [0, 15].
func (p *NetworkParameters) SetDiscardTimeout(step int) {
	p.discardTimeout = clamp(step, 0, maxStep4)
}

// AcknowledgementDelayIncrement is n + 1.5, in segment reception intervals.
func (p NetworkParameters) AcknowledgementDelayIncrement() float64 {
	return float64(p.acknowledgementDelayIncrement) + 1.5
}

func (p NetworkParameters) AcknowledgementDelayIncrementStep() uint8 {
	return p.acknowledgementDelayIncrement
}

// SetAcknowledgementDelayIncrement clamps the step to [0, 7].
func (p *NetworkParameters) SetAcknowledgementDelayIncrement(step int) {
	p.acknowledgementDelayIncrement = clamp(step, 0, maxStep3)
}

// SegmentReceptionInterval is (n + 1) * 10 ms.
func (p NetworkParameters) SegmentReceptionInterval() time.Duration {
	return time.Duration(p.segmentReceptionInterval+1) * 10 * time.Millisecond
}

func (p NetworkParameters) SegmentReceptionIntervalStep() uint8 { return p.segmentReceptionInterval }

// SetSegmentReceptionInterval clamps the step to [0, 15].
func (p *NetworkParameters) SetSegmentReceptionInterval(step int) {
	p.segmentReceptionInterval = clamp(step, 0, maxStep4)
}

// SegmentsThreshold: acknowledgments are retransmitted only for messages
// whose SegN is above this value.
func (p NetworkParameters) SegmentsThreshold() uint8 { return p.segmentsThreshold }

// SetSegmentsThreshold clamps to [0, 31].
func (p *NetworkParameters) SetSegmentsThreshold(v int) {
	p.segmentsThreshold = clamp(v, 0, maxStep5)
}

func (p NetworkParameters) AcknowledgementRetransmissionsCount() uint8 {
	return p.acknowledgementRetransmissionsCount
}

// SetAcknowledgementRetransmissionsCount clamps to [0, 3].
func (p *NetworkParameters) SetAcknowledgementRetransmissionsCount(v int) {
	p.acknowledgementRetransmissionsCount = clamp(v, 0, maxStep2)
}

// SegmentTransmissionInterval is the gap between consecutive segments:
// (n + 1) * 10 ms.
func (p NetworkParameters) SegmentTransmissionInterval() time.Duration {
	return time.Duration(p.segmentTransmissionInterval+1) * 10 * time.Millisecond
}

func (p NetworkParameters) SegmentTransmissionIntervalStep() uint8 {
	return p.segmentTransmissionInterval
}

// SetSegmentTransmissionInterval clamps the step to [0, 15].
func (p *NetworkParameters) SetSegmentTransmissionInterval(step int) {
	p.segmentTransmissionInterval = clamp(step, 0, maxStep4)
}

// UnicastRetransmissionsCount is the number of retransmissions of
// unacknowledged segments to a unicast destination.
func (p NetworkParameters) UnicastRetransmissionsCount() uint8 {
	return p.unicastRetransmissionsCount
}

// SetUnicastRetransmissionsCount clamps to [0, 15].
func (p *NetworkParameters) SetUnicastRetransmissionsCount(v int) {
	p.unicastRetransmissionsCount = clamp(v, 0, maxStep4)
}

// UnicastRetransmissionsWithoutProgressCount is the number of retransmissions
// allowed without any newly acknowledged segment.
func (p NetworkParameters) UnicastRetransmissionsWithoutProgressCount() uint8 {
	return p.unicastRetransmissionsWithoutProgress
}

// SetUnicastRetransmissionsWithoutProgressCount clamps to [0, 15].
func (p *NetworkParameters) SetUnicastRetransmissionsWithoutProgressCount(v int) {
	p.unicastRetransmissionsWithoutProgress = clamp(v, 0, maxStep4)
}

// UnicastRetransmissionsIntervalStep is (n + 1) * 25 ms.
func (p NetworkParameters) UnicastRetransmissionsIntervalStep() time.Duration {
	return time.Duration(p.unicastRetransmissionsIntervalStep+1) * 25 * time.Millisecond
}

func (p NetworkParameters) UnicastRetransmissionsIntervalStepRaw() uint8 {
	return p.unicastRetransmissionsIntervalStep
}

// SetUnicastRetransmissionsIntervalStep clamps the step to [0, 15].
func (p *NetworkParameters) SetUnicastRetransmissionsIntervalStep(step int) {
	p.unicastRetransmissionsIntervalStep = clamp(step, 0, maxStep4)
}

// UnicastRetransmissionsIntervalIncrement is (n + 1) * 25 ms per hop.
func (p NetworkParameters) UnicastRetransmissionsIntervalIncrement() time.Duration {
	return time.Duration(p.unicastRetransmissionsIntervalIncrement+1) * 25 * time.Millisecond
}

func (p NetworkParameters) UnicastRetransmissionsIntervalIncrementRaw() uint8 {
	return p.unicastRetransmissionsIntervalIncrement
}

// SetUnicastRetransmissionsIntervalIncrement clamps the step to [0, 15].
func (p *NetworkParameters) SetUnicastRetransmissionsIntervalIncrement(step int) {
	p.unicastRetransmissionsIntervalIncrement = clamp(step, 0, maxStep4)
}

func (p NetworkParameters) MulticastRetransmissionsCount() uint8 {
	return p.multicastRetransmissionsCount
}

// SetMulticastRetransmissionsCount clamps to [0, 15].
func (p *NetworkParameters) SetMulticastRetransmissionsCount(v int) {
	p.multicastRetransmissionsCount = clamp(v, 0, maxStep4)
}

// MulticastRetransmissionsInterval is (n + 1) * 25 ms.
func (p NetworkParameters) MulticastRetransmissionsInterval() time.Duration {
	return time.Duration(p.multicastRetransmissionsIntervalStep+1) * 25 * time.Millisecond
}

func (p NetworkParameters) MulticastRetransmissionsIntervalStep() uint8 {
	return p.multicastRetransmissionsIntervalStep
}

// SetMulticastRetransmissionsIntervalStep clamps the step to [0, 15].
func (p *NetworkParameters) SetMulticastRetransmissionsIntervalStep(step int) {
	p.multicastRetransmissionsIntervalStep = clamp(step, 0, maxStep4)
}

// AcknowledgementMessageTimeout is how long an acknowledged message waits
// for its response before failing.
func (p NetworkParameters) AcknowledgementMessageTimeout() time.Duration {
	return p.acknowledgementMessageTimeout
}

// SetAcknowledgementMessageTimeout clamps to at least 30 s.
func (p *NetworkParameters) SetAcknowledgementMessageTimeout(d time.Duration) {
	p.acknowledgementMessageTimeout = max(d, MinAcknowledgementMessageTimeout)
}

// AcknowledgementMessageIntervalBase is the base retry interval.
func (p NetworkParameters) AcknowledgementMessageIntervalBase() time.Duration {
	return p.acknowledgementMessageInterval
}

// SetAcknowledgementMessageInterval clamps the base interval to at least 2 s.
func (p *NetworkParameters) SetAcknowledgementMessageInterval(d time.Duration) {
	p.acknowledgementMessageInterval = max(d, MinAcknowledgementMessageInterval)
}

// AcknowledgementMessageInterval is the first retry delay of an
// acknowledged message: base + 50 ms * ttl + 50 ms * segmentCount.
func (p NetworkParameters) AcknowledgementMessageInterval(ttl uint8, segmentCount int) time.Duration {
	return p.acknowledgementMessageInterval +
		time.Duration(ttl)*perHopDelay +
		time.Duration(segmentCount)*perSegmentDelay
}

// UnicastRetransmissionsInterval is the segment retransmission interval for
// a unicast destination: step + increment * (ttl - 1) for ttl > 0.
func (p NetworkParameters) UnicastRetransmissionsInterval(ttl uint8) time.Duration {
	if ttl == 0 {
		return p.UnicastRetransmissionsIntervalStep()
	}
	return p.UnicastRetransmissionsIntervalStep() +
		time.Duration(ttl-1)*p.UnicastRetransmissionsIntervalIncrement()
}

// AcknowledgementTimerInterval is the delay before a receiver acknowledges
// a segmented message with last segment number segN:
// min(segN + 1, delay increment) * segment reception interval.
func (p NetworkParameters) AcknowledgementTimerInterval(segN uint8) time.Duration {
	factor := min(float64(segN)+1, p.AcknowledgementDelayIncrement())
	return time.Duration(factor * float64(p.SegmentReceptionInterval()))
}

// IncompleteTimerInterval is the receiver's discard timer.
func (p NetworkParameters) IncompleteTimerInterval() time.Duration {
	return p.DiscardTimeout()
}
