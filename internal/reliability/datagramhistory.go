package reliability

import (
	"time"

	"github.com/raknet-go/raknet/internal/wire"
)

// datagramHistoryNode records which reliable messages rode inside one sent
// datagram, so that when an ACK names that datagram's sequence number the
// layer knows which resend-list entries to free (and, for the ones with a
// receipt pending, which ID_SND_RECEIPT_ACKED to surface).
type datagramHistoryNode struct {
	seq          wire.SequenceNumber
	sentAt       time.Time
	reliableNums []uint32
	totalBytes   int
	isPacketPair bool
	valid        bool
}

// DatagramHistory is a fixed-size ring of recently sent datagrams, indexed
// by sequence number modulo its capacity. Grounded on original RakNet's
// datagramHistory ring buffer (ReliabilityLayer.h/.cpp) used to map an
// acked/naked datagram sequence number back to the reliable messages it
// carried, expressed per spec's Design Notes §9 as a plain index rather
// than a linked structure.
type DatagramHistory struct {
	nodes []datagramHistoryNode
}

// NewDatagramHistory returns a history ring sized to hold capacity entries;
// the caller should size capacity well beyond the expected in-flight
// window (e.g. a few multiples of the congestion window divided by MTU).
func NewDatagramHistory(capacity int) *DatagramHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &DatagramHistory{nodes: make([]datagramHistoryNode, capacity)}
}

func (h *DatagramHistory) slot(seq wire.SequenceNumber) *datagramHistoryNode {
	return &h.nodes[int(seq)%len(h.nodes)]
}

// Record associates a freshly sent datagram's sequence number with the
// reliable message numbers it carries and its total wire size, used later
// both for packet-pair bandwidth estimation and as the totalUserDataBytes
// sample handed to the congestion controller's OnAck.
func (h *DatagramHistory) Record(seq wire.SequenceNumber, sentAt time.Time, reliableNums []uint32, isPacketPair bool, totalBytes int) {
	*h.slot(seq) = datagramHistoryNode{
		seq:          seq,
		sentAt:       sentAt,
		reliableNums: reliableNums,
		isPacketPair: isPacketPair,
		totalBytes:   totalBytes,
		valid:        true,
	}
}

// Lookup returns the reliable message numbers carried by seq, or nil if the
// slot has been overwritten by a later datagram or was never recorded
// (ok is false in either case).
func (h *DatagramHistory) Lookup(seq wire.SequenceNumber) (nums []uint32, sentAt time.Time, ok bool) {
	n := h.slot(seq)
	if !n.valid || n.seq != seq {
		return nil, time.Time{}, false
	}
	return n.reliableNums, n.sentAt, true
}

// PacketPairInfo reports whether seq was sent as the second datagram of a
// packet pair and, if so, its total wire size, used to compute the
// bandwidth sample when its ACK arrives.
func (h *DatagramHistory) PacketPairInfo(seq wire.SequenceNumber) (isPacketPair bool, totalBytes int) {
	n := h.slot(seq)
	if !n.valid || n.seq != seq {
		return false, 0
	}
	return n.isPacketPair, n.totalBytes
}

// TotalBytes returns the total wire size recorded for seq, or 0 if unknown.
func (h *DatagramHistory) TotalBytes(seq wire.SequenceNumber) int {
	n := h.slot(seq)
	if !n.valid || n.seq != seq {
		return 0
	}
	return n.totalBytes
}

// Forget invalidates a slot once it has been processed (acked or
// permanently lost), freeing its reliableNums slice for garbage collection.
func (h *DatagramHistory) Forget(seq wire.SequenceNumber) {
	n := h.slot(seq)
	if n.seq == seq {
		*n = datagramHistoryNode{}
	}
}
