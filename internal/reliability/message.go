// Package reliability implements the per-remote-peer reliability engine:
// the hardest and most interesting subsystem per spec §1. One Layer exists
// per connected remote; it builds and parses datagrams, assigns message
// numbers, handles ACK/NAK, retransmits, splits and reassembles, orders and
// sequences, drives congestion control, and surfaces receipts (spec §2
// component #3, §4.3).
//
// Grounded on source/protocol/raknet.go's Session/EncapsulatedPacket/
// DataPacket trio from the teacher program, generalized from the teacher's
// fixed SA-MP dialect (single hardcoded reliability matrix, map-based ACK
// dedup, no congestion control, no split-packet reassembly budget) to the
// full state machine spec §4.3 specifies, and cross-checked against
// original_source/Source/ReliabilityLayer.cpp for the exact hole-queue and
// resend-ring mechanics spec's Design Notes (§9) call out.
package reliability

import (
	"github.com/raknet-go/raknet/internal/wire"
)

// InternalPacket is the unit the reliability layer manages (spec §3).
type InternalPacket struct {
	Data          []byte
	Reliability   wire.ReliabilityType
	Priority      wire.Priority
	OrderingChannel uint8

	ReliableMessageNumber uint32
	HasReliableMessageNumber bool

	OrderingIndex   uint32
	SequencingIndex uint32

	SplitPacketID    uint16
	SplitPacketIndex uint32
	SplitPacketCount uint32
	HasSplitPacket   bool

	HasReceipt bool
	ReceiptSerial uint32

	TimesSent int
	// nextActionTime and the resend-list/ring linkage live in resendlist.go
	// so that InternalPacket itself stays a plain value type; the resend
	// list is the only place that needs list-node bookkeeping (spec's
	// Design Notes §9: "cyclic/owning graphs -> arena + index").
}

// DataBitLength is the payload length in bits, as carried on the wire
// (spec §6.2's dataBitLength field).
func (p *InternalPacket) DataBitLength() int { return len(p.Data) * 8 }

// HeaderByteSize returns how many bytes the message header (spec §6.2) for
// this packet costs, used by the submission path to decide how many whole
// messages fit in one datagram's remaining payload budget.
func (p *InternalPacket) HeaderByteSize() int {
	size := 1 // reliability (3 bits) + hasSplitPacket (1 bit), byte-aligned
	size += 2 // dataBitLength
	if p.Reliability.IsReliable() {
		size += 3 // reliableMessageNumber
	}
	if p.Reliability.IsSequenced() {
		size += 3 // sequencingIndex
	}
	if p.Reliability.IsOrdered() || p.Reliability.IsSequenced() {
		size += 3 + 1 // orderingIndex + orderingChannel
	}
	if p.HasSplitPacket {
		size += 4 + 2 + 4 // splitPacketCount + splitPacketId + splitPacketIndex
	}
	return size
}

// WireSize is the total bytes this message costs on the wire: header plus
// payload.
func (p *InternalPacket) WireSize() int {
	return p.HeaderByteSize() + len(p.Data)
}

func (p *InternalPacket) toMessageHeader() wire.MessageHeader {
	return wire.MessageHeader{
		Reliability:           p.Reliability,
		HasSplitPacket:        p.HasSplitPacket,
		DataBitLength:         uint16(p.DataBitLength()),
		ReliableMessageNumber: p.ReliableMessageNumber,
		SequencingIndex:       p.SequencingIndex,
		OrderingIndex:         p.OrderingIndex,
		OrderingChannel:       p.OrderingChannel,
		SplitPacketCount:      p.SplitPacketCount,
		SplitPacketID:         p.SplitPacketID,
		SplitPacketIndex:      p.SplitPacketIndex,
	}
}
