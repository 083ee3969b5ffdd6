// Package congestion implements the pluggable congestion-control contract
// spec §4.4 defines. The reliability layer depends only on the Controller
// interface; nothing in internal/reliability knows which implementation is
// in play.
package congestion

import "time"

// Controller is the plug-point the reliability layer calls on every send,
// receive, ACK, and NAK, per spec §4.4.
type Controller interface {
	// OnSendBytes is called for every datagram sent.
	OnSendBytes(now time.Time, n int)

	// OnGotPacket informs the controller of a newly arrived datagram's
	// sequence number so it can detect gaps/reorders for NAK generation.
	// It returns the number of sequence numbers skipped since the last
	// continuous arrival (0 if none).
	OnGotPacket(seqNum uint32, isContinuousSend bool, now time.Time, sizeBytes int) int

	// OnAck updates RTT, congestion window, and slow-start state.
	// sampleHasBandAS indicates the datagram carried an arrival-rate (AS)
	// sample; B and AS are the sender's and receiver's bandwidth estimates.
	OnAck(now time.Time, rtt time.Duration, sampleHasBandAS bool, b, as float64, totalUserDataBytesAcked int, bandwidthExceeded bool, seqNum uint32)

	// OnNAK cuts the congestion window in response to a reported loss.
	OnNAK(now time.Time, seqNum uint32)

	// GetTransmissionBandwidth returns how many bytes of fresh sends may go
	// out this tick.
	GetTransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int

	// GetRetransmissionBandwidth returns how many bytes of retransmits may
	// go out this tick, independent of the fresh-send budget.
	GetRetransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int

	// GetRTOForRetransmission returns the retransmit timeout to apply to a
	// message that has now been (re)sent timesSent times.
	GetRTOForRetransmission(timesSent int) time.Duration

	// ShouldSendACKs reports whether an ACK-only datagram should be emitted
	// this tick even absent pending NAKs.
	ShouldSendACKs(now time.Time, dt time.Duration) bool

	// GetMTU returns the path MTU this controller was configured with.
	GetMTU() int
}
