package wire

import (
	"reflect"
	"testing"

	"github.com/raknet-go/raknet/internal/bitstream"
)

func TestDatagramHeaderRoundTripACK(t *testing.T) {
	h := DatagramHeader{Kind: KindACK, HasBAndAS: true, SourceSystemTime: 12345, AS: 42.5}
	w := bitstream.NewWriter()
	h.Encode(w)
	got, err := DecodeDatagramHeader(bitstream.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDatagramHeaderRoundTripNAK(t *testing.T) {
	h := DatagramHeader{Kind: KindNAK}
	w := bitstream.NewWriter()
	h.Encode(w)
	got, err := DecodeDatagramHeader(bitstream.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindNAK {
		t.Errorf("Kind = %v, want KindNAK", got.Kind)
	}
}

func TestDatagramHeaderRoundTripData(t *testing.T) {
	h := DatagramHeader{
		Kind:             KindData,
		IsPacketPair:     true,
		IsContinuousSend: true,
		NeedsBAndAS:      false,
		SourceSystemTime: 999,
		DatagramNumber:   0xABCDEF,
	}
	w := bitstream.NewWriter()
	h.Encode(w)
	got, err := DecodeDatagramHeader(bitstream.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestMessageHeaderRoundTripAllReliabilities(t *testing.T) {
	cases := []MessageHeader{
		{Reliability: Unreliable, DataBitLength: 80},
		{Reliability: UnreliableSequenced, DataBitLength: 80, SequencingIndex: 7, OrderingIndex: 7, OrderingChannel: 3},
		{Reliability: Reliable, DataBitLength: 80, ReliableMessageNumber: 12345},
		{Reliability: ReliableOrdered, DataBitLength: 80, ReliableMessageNumber: 5, OrderingIndex: 9, OrderingChannel: 1},
		{Reliability: ReliableSequenced, DataBitLength: 80, ReliableMessageNumber: 5, SequencingIndex: 2, OrderingIndex: 2, OrderingChannel: 0},
		{
			Reliability: Reliable, DataBitLength: 80, ReliableMessageNumber: 99,
			HasSplitPacket: true, SplitPacketCount: 4, SplitPacketID: 77, SplitPacketIndex: 2,
		},
	}
	for _, h := range cases {
		w := bitstream.NewWriter()
		h.Encode(w)
		got, err := DecodeMessageHeader(bitstream.NewReader(w.Bytes()))
		if err != nil {
			t.Fatalf("decode %v: %v", h.Reliability, err)
		}
		if got != h {
			t.Errorf("round trip mismatch for %v: got %+v, want %+v", h.Reliability, got, h)
		}
	}
}

func TestRangeListIsFixedPoint(t *testing.T) {
	cases := [][]SequenceNumber{
		{1, 2, 3, 4, 10, 11, 20},
		{5},
		{},
		{0, 1, 2, SequenceNumberMask - 1, SequenceNumberMask},
	}
	for _, seqs := range cases {
		ranges := RangeListFromSequenceNumbers(seqs)
		w := bitstream.NewWriter()
		EncodeRangeList(w, ranges)
		decoded, err := DecodeRangeList(bitstream.NewReader(w.Bytes()))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(decoded, ranges) {
			t.Fatalf("range list not fixed point: got %+v, want %+v", decoded, ranges)
		}
		expanded := SequenceNumbersFromRangeList(decoded)
		if len(expanded) != len(seqs) && len(seqs) > 0 {
			t.Errorf("expanded %d seqs, want %d", len(expanded), len(seqs))
		}
	}
}

func TestBitSetWindowRoundTrip(t *testing.T) {
	base := SequenceNumber(100)
	seqs := []SequenceNumber{100, 101, 105, 109}
	bs := BitSetWindow(seqs, base, 16)
	got := SequenceNumbersFromBitSet(bs, base)
	if len(got) != len(seqs) {
		t.Fatalf("got %d seqs, want %d", len(got), len(seqs))
	}
	for i, s := range seqs {
		if got[i] != s {
			t.Errorf("seq[%d] = %d, want %d", i, got[i], s)
		}
	}
}

func TestReliabilityUpgrade(t *testing.T) {
	if Unreliable.Upgraded() != Reliable {
		t.Error("UNRELIABLE should upgrade to RELIABLE")
	}
	if UnreliableSequenced.Upgraded() != ReliableSequenced {
		t.Error("UNRELIABLE_SEQUENCED should upgrade to RELIABLE_SEQUENCED")
	}
	if ReliableOrdered.Upgraded() != ReliableOrdered {
		t.Error("RELIABLE_ORDERED should be unchanged by Upgraded()")
	}
}
