package wire

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/raknet-go/raknet/internal/bitstream"
)

// SequenceRange is a closed range [Min, Max] of 24-bit datagram sequence
// numbers, per spec §6.3.
type SequenceRange struct {
	Min, Max SequenceNumber
}

// RangeListFromSequenceNumbers builds the minimal set of closed ranges
// covering seqs, merging contiguous runs. The teacher tracked ACKs in a
// map[uint32]struct{} dedup set (source/protocol/raknet.go Session.ACKQueue)
// and sent every sequence number individually; this compresses runs the way
// spec §6.3 requires and the way a bitset.BitSet naturally represents a
// windowed set of small integers.
func RangeListFromSequenceNumbers(seqs []SequenceNumber) []SequenceRange {
	if len(seqs) == 0 {
		return nil
	}
	sorted := make([]SequenceNumber, len(seqs))
	copy(sorted, seqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var ranges []SequenceRange
	start := sorted[0]
	prev := sorted[0]
	for _, s := range sorted[1:] {
		if s == prev {
			continue // duplicate
		}
		if s == prev+1 {
			prev = s
			continue
		}
		ranges = append(ranges, SequenceRange{Min: start, Max: prev})
		start, prev = s, s
	}
	ranges = append(ranges, SequenceRange{Min: start, Max: prev})
	return ranges
}

// SequenceNumbersFromRangeList expands ranges back into individual sequence
// numbers. This is the inverse of RangeListFromSequenceNumbers and the pair
// must be a fixed point for any valid ack set (spec §8 "Laws").
func SequenceNumbersFromRangeList(ranges []SequenceRange) []SequenceNumber {
	var out []SequenceNumber
	for _, rg := range ranges {
		for s := rg.Min; s <= rg.Max; s++ {
			out = append(out, s)
			if s == SequenceNumberMask { // guard 24-bit wraparound
				break
			}
		}
	}
	return out
}

// BitSetWindow builds a bitset.BitSet spanning [base, base+span) with bit i
// set iff base+i is present in seqs. It is a standalone helper: the
// reliability layer's receive hole queue (a map) and pending-NAK set (a
// slice) do not use it, and range lists are built from sorted sequence
// numbers directly.
func BitSetWindow(seqs []SequenceNumber, base SequenceNumber, span uint) *bitset.BitSet {
	bs := bitset.New(span)
	for _, s := range seqs {
		offset := uint32(s) - uint32(base)
		if uint32(s) >= uint32(base) && uint(offset) < span {
			bs.Set(uint(offset))
		}
	}
	return bs
}

// SequenceNumbersFromBitSet is the inverse of BitSetWindow.
func SequenceNumbersFromBitSet(bs *bitset.BitSet, base SequenceNumber) []SequenceNumber {
	var out []SequenceNumber
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		out = append(out, SequenceNumber((uint32(base)+uint32(i))&SequenceNumberMask))
	}
	return out
}

// EncodeRangeList writes a length-prefixed list of closed ranges, MSB-first,
// per spec §6.3: a single-value range (Min == Max) is written with a one-bit
// flag so Max can be elided.
func EncodeRangeList(w *bitstream.Writer, ranges []SequenceRange) {
	w.WriteUint16LE(uint16(len(ranges)))
	for _, rg := range ranges {
		single := rg.Min == rg.Max
		w.WriteBit(single)
		w.AlignToByte()
		w.WriteUint24LE(uint32(rg.Min))
		if !single {
			w.WriteUint24LE(uint32(rg.Max))
		}
	}
}

// DecodeRangeList reads a range list written by EncodeRangeList.
func DecodeRangeList(r *bitstream.Reader) ([]SequenceRange, error) {
	count, err := r.ReadUint16LE()
	if err != nil {
		return nil, fmt.Errorf("wire: decode range list count: %w", err)
	}
	ranges := make([]SequenceRange, 0, count)
	for i := uint16(0); i < count; i++ {
		single, err := r.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("wire: decode range %d flag: %w", i, err)
		}
		r.AlignToByte()
		min, err := r.ReadUint24LE()
		if err != nil {
			return nil, fmt.Errorf("wire: decode range %d min: %w", i, err)
		}
		max := min
		if !single {
			max, err = r.ReadUint24LE()
			if err != nil {
				return nil, fmt.Errorf("wire: decode range %d max: %w", i, err)
			}
		}
		ranges = append(ranges, SequenceRange{Min: SequenceNumber(min), Max: SequenceNumber(max)})
	}
	return ranges, nil
}

// FitsInBudget reports whether encoding ranges would fit within the given
// remaining byte budget of a datagram, per spec §6.3's "must fit within the
// datagram's remaining payload budget."
func FitsInBudget(ranges []SequenceRange, remainingBytes int) bool {
	size := 2 // count
	for _, rg := range ranges {
		if rg.Min == rg.Max {
			size += 1 + 3
		} else {
			size += 1 + 3 + 3
		}
	}
	return size <= remainingBytes
}
