package reliability

import (
	"container/heap"
	"time"
)

// resendEntry is one arena slot: an unacknowledged reliable message still
// waiting for either an ACK (to be freed) or its RTO to elapse (to be
// resent). Grounded on original_source/Source/ReliabilityLayer.cpp's
// resendList/resendBuffer, translated per spec's Design Notes §9 from a
// pointer-linked list to an arena + index, so the list can be reordered by
// next-action-time with container/heap without per-node allocation churn.
type resendEntry struct {
	packet                *InternalPacket
	reliableMessageNumber uint32
	nextActionTime        time.Time
	timesSent             int
	lastDatagramSeq       uint32
	inUse                 bool
}

type resendHeapItem struct {
	when time.Time
	idx  int
}

type resendHeap []resendHeapItem

func (h resendHeap) Len() int            { return len(h) }
func (h resendHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h resendHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resendHeap) Push(x interface{}) { *h = append(*h, x.(resendHeapItem)) }
func (h *resendHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ResendList tracks every reliable message sent but not yet acknowledged,
// ordered by when it next needs attention (resend or expiry).
type ResendList struct {
	arena   []resendEntry
	free    []int
	byMsgNo map[uint32]int
	byWhen  resendHeap
}

// NewResendList returns an empty resend list.
func NewResendList() *ResendList {
	return &ResendList{byMsgNo: make(map[uint32]int)}
}

func (l *ResendList) alloc() int {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		return idx
	}
	l.arena = append(l.arena, resendEntry{})
	return len(l.arena) - 1
}

// Insert records a freshly sent reliable message, due for its first
// possible retransmission at nextActionTime.
func (l *ResendList) Insert(p *InternalPacket, datagramSeq uint32, nextActionTime time.Time) {
	idx := l.alloc()
	l.arena[idx] = resendEntry{
		packet:                p,
		reliableMessageNumber: p.ReliableMessageNumber,
		nextActionTime:        nextActionTime,
		timesSent:             1,
		lastDatagramSeq:       datagramSeq,
		inUse:                 true,
	}
	l.byMsgNo[p.ReliableMessageNumber] = idx
	heap.Push(&l.byWhen, resendHeapItem{when: nextActionTime, idx: idx})
}

// Ack removes a message from the list once it is confirmed delivered; it is
// a no-op if the message number is unknown (already acked, or never
// reliable).
func (l *ResendList) Ack(reliableMessageNumber uint32) {
	idx, ok := l.byMsgNo[reliableMessageNumber]
	if !ok {
		return
	}
	l.arena[idx] = resendEntry{}
	delete(l.byMsgNo, reliableMessageNumber)
	l.free = append(l.free, idx)
	// The stale heap entry for idx is left in place and skipped lazily by
	// PopDue (checked via inUse), avoiding an O(n) heap-remove.
}

// PopDue pops and returns every entry whose nextActionTime is at or before
// now, reinserting each at its new nextActionTime via reschedule. Entries
// already acked are silently dropped.
func (l *ResendList) PopDue(now time.Time, reschedule func(timesSent int) time.Duration) []*InternalPacket {
	var due []*InternalPacket
	for l.byWhen.Len() > 0 && !l.byWhen[0].when.After(now) {
		item := heap.Pop(&l.byWhen).(resendHeapItem)
		entry := &l.arena[item.idx]
		if !entry.inUse || !entry.nextActionTime.Equal(item.when) {
			continue // stale heap entry superseded by a reschedule, expedite, or ack
		}
		entry.timesSent++
		entry.nextActionTime = now.Add(reschedule(entry.timesSent))
		heap.Push(&l.byWhen, resendHeapItem{when: entry.nextActionTime, idx: item.idx})
		due = append(due, entry.packet)
	}
	return due
}

// Expedite moves an outstanding message's nextActionTime to now, so the
// next retransmission pass picks it up immediately (spec §4.3.3 step 3:
// "for each [NAKed] sequence number, set the resend nextActionTime to now
// so the retransmission pass immediately recovers"). It is a no-op if the
// message number is unknown.
func (l *ResendList) Expedite(reliableMessageNumber uint32, now time.Time) {
	idx, ok := l.byMsgNo[reliableMessageNumber]
	if !ok {
		return
	}
	l.arena[idx].nextActionTime = now
	heap.Push(&l.byWhen, resendHeapItem{when: now, idx: idx})
}

// Len reports how many messages are outstanding.
func (l *ResendList) Len() int { return len(l.byMsgNo) }

// TimesSent reports how many times a still-outstanding message has been
// sent, or 0 if it is unknown.
func (l *ResendList) TimesSent(reliableMessageNumber uint32) int {
	idx, ok := l.byMsgNo[reliableMessageNumber]
	if !ok {
		return 0
	}
	return l.arena[idx].timesSent
}

// RemoveAll drains the list, e.g. on connection teardown, returning the
// still-outstanding packets so callers can surface loss-on-disconnect
// receipts.
func (l *ResendList) RemoveAll() []*InternalPacket {
	out := make([]*InternalPacket, 0, len(l.byMsgNo))
	for _, idx := range l.byMsgNo {
		out = append(out, l.arena[idx].packet)
	}
	l.arena = nil
	l.free = nil
	l.byMsgNo = make(map[uint32]int)
	l.byWhen = nil
	return out
}
