package reliability

import (
	"testing"
	"time"

	"github.com/raknet-go/raknet/internal/wire"
)

func TestSendQueueDrainsByPriorityFIFO(t *testing.T) {
	q := NewSendQueue()
	order := []wire.Priority{wire.Low, wire.Immediate, wire.Medium, wire.Immediate, wire.High}
	for i, p := range order {
		q.Push(&InternalPacket{Priority: p, Data: []byte{byte(i)}})
	}
	var gotPriorities []wire.Priority
	for q.Len() > 0 {
		p := q.Pop()
		gotPriorities = append(gotPriorities, p.Priority)
	}
	// Every IMMEDIATE must drain before every HIGH, before every MEDIUM,
	// before every LOW.
	lastRank := -1
	for _, p := range gotPriorities {
		if int(p) < lastRank {
			t.Fatalf("priority inversion: got order %v", gotPriorities)
		}
		lastRank = int(p)
	}
}

func TestSendQueueNeverStarvesLowPriority(t *testing.T) {
	q := NewSendQueue()
	// Flood high priority continuously while checking that a low-priority
	// message inserted once eventually drains.
	low := &InternalPacket{Priority: wire.Low}
	q.Push(low)
	drained := false
	for i := 0; i < 10000; i++ {
		q.Push(&InternalPacket{Priority: wire.Immediate})
		if q.Pop() == low {
			drained = true
			break
		}
	}
	if !drained {
		t.Fatal("low-priority message never drained despite continuous high-priority flood")
	}
}

func TestResendListExpediteTriggersImmediateRetransmit(t *testing.T) {
	l := NewResendList()
	now := time.Now()
	p := &InternalPacket{ReliableMessageNumber: 7}
	l.Insert(p, 1, now.Add(time.Hour)) // far in the future

	due := l.PopDue(now, func(int) time.Duration { return time.Hour })
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	l.Expedite(7, now)
	due = l.PopDue(now, func(int) time.Duration { return time.Hour })
	if len(due) != 1 || due[0] != p {
		t.Fatalf("expedited message did not come due: %v", due)
	}
}

func TestResendListAckRemovesEntry(t *testing.T) {
	l := NewResendList()
	now := time.Now()
	p := &InternalPacket{ReliableMessageNumber: 3}
	l.Insert(p, 1, now)
	if l.Len() != 1 {
		t.Fatalf("expected 1 outstanding, got %d", l.Len())
	}
	l.Ack(3)
	if l.Len() != 0 {
		t.Fatalf("expected 0 outstanding after ack, got %d", l.Len())
	}
	due := l.PopDue(now, func(int) time.Duration { return time.Second })
	if len(due) != 0 {
		t.Fatalf("acked message should not come due: %v", due)
	}
}

func TestResendListRepeatedRescheduleNoStaleDuplicate(t *testing.T) {
	l := NewResendList()
	now := time.Now()
	p := &InternalPacket{ReliableMessageNumber: 1}
	l.Insert(p, 1, now.Add(5*time.Second))
	l.Expedite(1, now.Add(time.Second))

	due := l.PopDue(now.Add(time.Second), func(int) time.Duration { return 2 * time.Second })
	if len(due) != 1 {
		t.Fatalf("expected exactly one due entry, got %d", len(due))
	}
	// Advance past both the rescheduled time and the original stale time;
	// the stale heap entry from Insert must not resurface as a duplicate.
	due = l.PopDue(now.Add(10*time.Second), func(int) time.Duration { return time.Second })
	if len(due) != 1 {
		t.Fatalf("expected exactly one due entry on second pass (no stale duplicate), got %d: %v", len(due), due)
	}
}

func TestHoleQueueDetectsAndFillsGaps(t *testing.T) {
	q := NewHoleQueue(100)
	now := time.Now()

	if isDup, overflowed, holes := q.Observe(0, now); isDup || overflowed || len(holes) != 0 {
		t.Fatalf("first datagram should open no holes: dup=%v overflowed=%v holes=%v", isDup, overflowed, holes)
	}
	isDup, overflowed, holes := q.Observe(3, now)
	if isDup || overflowed || len(holes) != 2 {
		t.Fatalf("expected 2 new holes (1,2), got dup=%v overflowed=%v holes=%v", isDup, overflowed, holes)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 outstanding holes, got %d", q.Len())
	}
	if isDup, _, _ := q.Observe(3, now); !isDup {
		t.Fatal("re-observing seq 3 should be a duplicate")
	}
	if isDup, _, _ := q.Observe(1, now); isDup {
		t.Fatal("filling a hole should not be reported as duplicate")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 outstanding hole after fill, got %d", q.Len())
	}
}

func TestHoleQueueOverflowReportsOverflow(t *testing.T) {
	q := NewHoleQueue(4)
	now := time.Now()

	q.Observe(0, now)
	_, overflowed, holes := q.Observe(10, now)
	if !overflowed {
		t.Fatal("expected overflow once the jump exceeds maxOutstanding")
	}
	if len(holes) != 4 {
		t.Fatalf("expected exactly maxOutstanding holes opened before giving up, got %d", len(holes))
	}
}

func TestOrderingChannelsDeliversInOrder(t *testing.T) {
	o := NewOrderingChannels()
	var delivered []uint32

	for _, idx := range []uint32{0, 2, 1} {
		for _, p := range o.Accept(&InternalPacket{Reliability: wire.ReliableOrdered, OrderingIndex: idx}) {
			delivered = append(delivered, p.OrderingIndex)
		}
	}
	if len(delivered) != 3 {
		t.Fatalf("expected all 3 delivered once gap filled, got %v", delivered)
	}
	for i, v := range delivered {
		if v != uint32(i) {
			t.Fatalf("out-of-order delivery: %v", delivered)
		}
	}
}

func TestOrderingChannelsSequencedDropsStale(t *testing.T) {
	o := NewOrderingChannels()
	p1 := o.Accept(&InternalPacket{Reliability: wire.ReliableSequenced, SequencingIndex: 5})
	if len(p1) != 1 {
		t.Fatalf("expected immediate delivery, got %v", p1)
	}
	p2 := o.Accept(&InternalPacket{Reliability: wire.ReliableSequenced, SequencingIndex: 3})
	if len(p2) != 0 {
		t.Fatalf("stale sequencing index should be dropped, got %v", p2)
	}
	p3 := o.Accept(&InternalPacket{Reliability: wire.ReliableSequenced, SequencingIndex: 9})
	if len(p3) != 1 {
		t.Fatalf("higher sequencing index should deliver, got %v", p3)
	}
}

func TestSplitPacketReassembly(t *testing.T) {
	s := NewSplitPacketChannels(8)
	now := time.Now()
	fragments := [][]byte{[]byte("hello "), []byte("wor"), []byte("ld!")}
	var result *InternalPacket
	for i, frag := range fragments {
		p := &InternalPacket{
			SplitPacketID:    1,
			SplitPacketIndex: uint32(i),
			SplitPacketCount: uint32(len(fragments)),
			HasSplitPacket:   true,
		}
		out, progress, accepted := s.Accept(p, frag, now)
		if !accepted {
			t.Fatalf("fragment %d: expected to be accepted", i)
		}
		if progress.Received != i+1 || progress.Total != len(fragments) {
			t.Fatalf("fragment %d: progress = %+v, want received=%d total=%d", i, progress, i+1, len(fragments))
		}
		if out != nil {
			result = out
		}
	}
	if result == nil {
		t.Fatal("expected reassembly to complete")
	}
	if string(result.Data) != "hello world!" {
		t.Fatalf("got %q", result.Data)
	}
	if s.Open() != 0 {
		t.Fatalf("expected no open assemblies left, got %d", s.Open())
	}
}

func TestSplitPacketExpiry(t *testing.T) {
	s := NewSplitPacketChannels(8)
	now := time.Now()
	s.Accept(&InternalPacket{SplitPacketID: 9, SplitPacketIndex: 0, SplitPacketCount: 3, HasSplitPacket: true}, []byte("a"), now)
	if s.Open() != 1 {
		t.Fatalf("expected 1 open assembly, got %d", s.Open())
	}
	dropped := s.ExpireOlderThan(now.Add(time.Minute))
	if dropped != 1 || s.Open() != 0 {
		t.Fatalf("expected expiry to drop the stale assembly, dropped=%d open=%d", dropped, s.Open())
	}
}

func TestEncodeDecodeProgress(t *testing.T) {
	p := Progress{SplitPacketID: 42, Received: 3, Total: 7}
	encoded := EncodeProgress(p)
	if wire.MessageID(encoded[0]) != wire.IDDownloadProgress {
		t.Fatalf("leading byte = %v, want IDDownloadProgress", wire.MessageID(encoded[0]))
	}
	decoded, err := DecodeProgress(encoded[1:])
	if err != nil {
		t.Fatalf("DecodeProgress: %v", err)
	}
	if decoded != p {
		t.Fatalf("decoded = %+v, want %+v", decoded, p)
	}
}

func TestDatagramHistoryRecordAndForget(t *testing.T) {
	h := NewDatagramHistory(16)
	now := time.Now()
	h.Record(5, now, []uint32{1, 2, 3}, false, 200)
	nums, sentAt, ok := h.Lookup(5)
	if !ok || len(nums) != 3 || !sentAt.Equal(now) {
		t.Fatalf("lookup mismatch: nums=%v ok=%v", nums, ok)
	}
	if h.TotalBytes(5) != 200 {
		t.Fatalf("expected totalBytes 200, got %d", h.TotalBytes(5))
	}
	h.Forget(5)
	if _, _, ok := h.Lookup(5); ok {
		t.Fatal("expected forgotten slot to miss")
	}
}

func TestDatagramHistoryWrapsRing(t *testing.T) {
	h := NewDatagramHistory(4)
	now := time.Now()
	h.Record(0, now, []uint32{1}, false, 10)
	h.Record(4, now, []uint32{2}, false, 20) // same ring slot as 0
	if _, _, ok := h.Lookup(0); ok {
		t.Fatal("expected slot 0's entry to be overwritten by seq 4")
	}
	nums, _, ok := h.Lookup(4)
	if !ok || nums[0] != 2 {
		t.Fatalf("expected seq 4 to occupy the slot, got %v ok=%v", nums, ok)
	}
}
