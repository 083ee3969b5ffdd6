package wire

import (
	"fmt"

	"github.com/raknet-go/raknet/internal/bitstream"
)

// SequenceNumber is a 24-bit wrapping datagram sequence number (spec §3's
// DatagramSequenceNumberType).
type SequenceNumber uint32

const SequenceNumberMask = 0xFFFFFF

// Next returns the next sequence number, wrapping at 24 bits.
func (s SequenceNumber) Next() SequenceNumber {
	return SequenceNumber((uint32(s) + 1) & SequenceNumberMask)
}

// After reports whether s comes strictly after other in the 24-bit wrapping
// sequence space, using half-range sign comparison so a wraparound (e.g. s
// near 0, other near SequenceNumberMask) is still ordered correctly.
func (s SequenceNumber) After(other SequenceNumber) bool {
	diff := (uint32(s) - uint32(other)) & SequenceNumberMask
	return diff != 0 && diff < (SequenceNumberMask/2)
}

// Before reports whether s comes strictly before other in the wrapping
// sequence space.
func (s SequenceNumber) Before(other SequenceNumber) bool {
	return other.After(s)
}

// DatagramKind discriminates the three datagram shapes spec §6.1 defines.
type DatagramKind int

const (
	KindData DatagramKind = iota
	KindACK
	KindNAK
)

// DatagramHeader is the bit-exact header spec §6.1 describes. Only the
// fields relevant to Kind are meaningful; callers write/read the range list
// (ACK/NAK) or message stream (Data) immediately after the header using the
// same bitstream.Writer/Reader.
type DatagramHeader struct {
	Kind DatagramKind

	// ACK-only.
	HasBAndAS        bool
	SourceSystemTime uint32
	AS               float32

	// Data-only.
	IsPacketPair     bool
	IsContinuousSend bool
	NeedsBAndAS      bool
	DatagramNumber   SequenceNumber
}

// Encode writes the header bits per spec §6.1. The caller must follow with
// the range list (ACK/NAK) or messages (Data) on the same writer.
func (h DatagramHeader) Encode(w *bitstream.Writer) {
	w.WriteBit(true) // isValid
	switch h.Kind {
	case KindACK:
		w.WriteBit(true) // isACK
		w.WriteBit(h.HasBAndAS)
		w.AlignToByte()
		w.WriteUint32(h.SourceSystemTime)
		if h.HasBAndAS {
			w.WriteFloat32(h.AS)
		}
	case KindNAK:
		w.WriteBit(false) // isACK
		w.WriteBit(true)  // isNAK
	case KindData:
		w.WriteBit(false) // isACK
		w.WriteBit(false) // isNAK
		w.WriteBit(h.IsPacketPair)
		w.WriteBit(h.IsContinuousSend)
		w.WriteBit(h.NeedsBAndAS)
		w.AlignToByte()
		w.WriteUint32(h.SourceSystemTime)
		w.WriteUint24LE(uint32(h.DatagramNumber))
	}
}

// DecodeDatagramHeader parses the header bits per spec §6.1. The returned
// reader cursor sits immediately after the header, ready for the range list
// (ACK/NAK) or message stream (Data).
func DecodeDatagramHeader(r *bitstream.Reader) (DatagramHeader, error) {
	var h DatagramHeader
	isValid, err := r.ReadBit()
	if err != nil {
		return h, fmt.Errorf("wire: decode datagram header: %w", err)
	}
	if !isValid {
		return h, fmt.Errorf("wire: datagram header isValid bit is clear")
	}
	isACK, err := r.ReadBit()
	if err != nil {
		return h, err
	}
	if isACK {
		h.Kind = KindACK
		hasBAndAS, err := r.ReadBit()
		if err != nil {
			return h, err
		}
		h.HasBAndAS = hasBAndAS
		r.AlignToByte()
		h.SourceSystemTime, err = r.ReadUint32()
		if err != nil {
			return h, err
		}
		if h.HasBAndAS {
			h.AS, err = r.ReadFloat32()
			if err != nil {
				return h, err
			}
		}
		return h, nil
	}

	isNAK, err := r.ReadBit()
	if err != nil {
		return h, err
	}
	if isNAK {
		h.Kind = KindNAK
		return h, nil
	}

	h.Kind = KindData
	if h.IsPacketPair, err = r.ReadBit(); err != nil {
		return h, err
	}
	if h.IsContinuousSend, err = r.ReadBit(); err != nil {
		return h, err
	}
	if h.NeedsBAndAS, err = r.ReadBit(); err != nil {
		return h, err
	}
	r.AlignToByte()
	if h.SourceSystemTime, err = r.ReadUint32(); err != nil {
		return h, err
	}
	datagramNumber, err := r.ReadUint24LE()
	if err != nil {
		return h, err
	}
	h.DatagramNumber = SequenceNumber(datagramNumber)
	return h, nil
}

// MessageHeader is the per-message header spec §6.2 describes.
type MessageHeader struct {
	Reliability           ReliabilityType
	HasSplitPacket        bool
	DataBitLength         uint16
	ReliableMessageNumber uint32
	SequencingIndex       uint32
	OrderingIndex         uint32
	OrderingChannel       uint8
	SplitPacketCount      uint32
	SplitPacketID         uint16
	SplitPacketIndex      uint32
}

// Encode writes the message header per spec §6.2. The caller writes the
// payload bytes immediately after, byte-aligned.
func (h MessageHeader) Encode(w *bitstream.Writer) {
	w.WriteBits(uint64(h.Reliability), 3)
	w.WriteBit(h.HasSplitPacket)
	w.AlignToByte()
	w.WriteUint16LE(h.DataBitLength)
	if h.Reliability.IsReliable() {
		w.WriteUint24LE(h.ReliableMessageNumber)
	}
	w.AlignToByte()
	if h.Reliability.IsSequenced() || h.Reliability.IsOrdered() {
		if h.Reliability.IsSequenced() {
			w.WriteUint24LE(h.SequencingIndex)
		}
		w.WriteUint24LE(h.OrderingIndex)
		w.WriteByte(h.OrderingChannel)
	}
	if h.HasSplitPacket {
		w.WriteUint32(h.SplitPacketCount)
		w.WriteUint16(h.SplitPacketID)
		w.WriteUint32(h.SplitPacketIndex)
	}
}

// DecodeMessageHeader parses a message header per spec §6.2.
func DecodeMessageHeader(r *bitstream.Reader) (MessageHeader, error) {
	var h MessageHeader
	rel, err := r.ReadBits(3)
	if err != nil {
		return h, err
	}
	h.Reliability = ReliabilityType(rel)
	if h.HasSplitPacket, err = r.ReadBit(); err != nil {
		return h, err
	}
	r.AlignToByte()
	if h.DataBitLength, err = r.ReadUint16LE(); err != nil {
		return h, err
	}
	if h.Reliability.IsReliable() {
		if h.ReliableMessageNumber, err = r.ReadUint24LE(); err != nil {
			return h, err
		}
	}
	r.AlignToByte()
	if h.Reliability.IsSequenced() || h.Reliability.IsOrdered() {
		if h.Reliability.IsSequenced() {
			if h.SequencingIndex, err = r.ReadUint24LE(); err != nil {
				return h, err
			}
		}
		if h.OrderingIndex, err = r.ReadUint24LE(); err != nil {
			return h, err
		}
		ch, err := r.ReadByte()
		if err != nil {
			return h, err
		}
		h.OrderingChannel = ch
	}
	if h.HasSplitPacket {
		if h.SplitPacketCount, err = r.ReadUint32(); err != nil {
			return h, err
		}
		if h.SplitPacketID, err = r.ReadUint16(); err != nil {
			return h, err
		}
		if h.SplitPacketIndex, err = r.ReadUint32(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// PayloadByteLength returns the number of whole bytes DataBitLength implies.
func (h MessageHeader) PayloadByteLength() int {
	return (int(h.DataBitLength) + 7) / 8
}
