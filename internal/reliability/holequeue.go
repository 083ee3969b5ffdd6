package reliability

import (
	"time"

	"github.com/raknet-go/raknet/internal/wire"
)

// HoleQueue is the receiver's bounded ring of expected-but-not-yet-arrived
// flags, keyed on a wrapping 24-bit counter. The reliability layer keys one
// instance on reliableMessageNumber (spec §4.3.3 step 4, GLOSSARY's "Hole
// queue") to deduplicate reliable messages: a legitimate retransmission
// racing its own delayed-but-undelivered original must still reach the
// application exactly once. Grounded on
// original_source/Source/ReliabilityLayer.cpp's
// hasReceivedPacketQueue/receivedPacketsBaseIndex pair (holeCount computed
// from reliableMessageNumber - receivedPacketsBaseIndex, not from any
// datagram sequence number), expressed per spec's Design Notes §9 as a
// bounded set with a sliding base rather than an unbounded growing list, so
// a peer that jumps its counter far ahead cannot force unbounded memory
// growth.
type HoleQueue struct {
	haveExpected bool
	expectedNext wire.SequenceNumber
	holeSince    map[wire.SequenceNumber]time.Time
	maxOutstanding int
}

// NewHoleQueue returns an empty hole queue bounding itself to at most
// maxOutstanding simultaneously tracked holes.
func NewHoleQueue(maxOutstanding int) *HoleQueue {
	return &HoleQueue{
		holeSince:      make(map[wire.SequenceNumber]time.Time),
		maxOutstanding: maxOutstanding,
	}
}

// Observe records receipt of one counter value (a reliableMessageNumber, or
// any other 24-bit wrapping counter a caller chooses to key a HoleQueue on).
// It reports isDuplicate (already delivered, or already filled and since
// forgotten), overflowed (the bounded hole set could not track every gap
// opened by this jump and the caller must treat the connection as dead per
// spec §4.3.5's "Hole queue overflow" entry), and any freshly opened holes.
func (q *HoleQueue) Observe(seq wire.SequenceNumber, now time.Time) (isDuplicate bool, overflowed bool, newHoles []wire.SequenceNumber) {
	if !q.haveExpected {
		q.expectedNext = seq.Next()
		q.haveExpected = true
		return false, false, nil
	}

	if _, wasHole := q.holeSince[seq]; wasHole {
		delete(q.holeSince, seq) // a late arrival fills the gap; expectedNext already sits past it
		return false, false, nil
	}

	if seq.Before(q.expectedNext) {
		return true, false, nil // old duplicate, not a hole we were tracking
	}

	if seq == q.expectedNext {
		q.expectedNext = seq.Next()
		return false, false, nil
	}

	// seq is ahead of expectedNext: every number in between is now a hole.
	for s := q.expectedNext; s.Before(seq); s = s.Next() {
		if len(q.holeSince) >= q.maxOutstanding {
			overflowed = true
			break // bounded: can't open every hole this jump implies
		}
		q.holeSince[s] = now
		newHoles = append(newHoles, s)
	}
	q.expectedNext = seq.Next()
	return false, overflowed, newHoles
}

// DueForNAK returns holes that have been outstanding at least minAge,
// suitable for inclusion in the next NAK datagram. Repeated calls will
// return the same holes until they are filled (Observe) or the peer is
// dropped.
func (q *HoleQueue) DueForNAK(now time.Time, minAge time.Duration) []wire.SequenceNumber {
	var due []wire.SequenceNumber
	for s, since := range q.holeSince {
		if now.Sub(since) >= minAge {
			due = append(due, s)
		}
	}
	return due
}

// Len reports how many holes are currently outstanding.
func (q *HoleQueue) Len() int { return len(q.holeSince) }
