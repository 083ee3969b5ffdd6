package reliability

import (
	"time"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/wire"
)

// splitPacketKey identifies one in-progress reassembly by the sender's
// splitPacketId, scoped per remote (one SplitPacketChannels per Layer).
type splitPacketKey = uint16

// fragmentView is an (offset, length) window into a shared owned buffer,
// per spec's Design Notes §9: "prefer a shared owned buffer with
// (offset,len) views over per-fragment copies" for split-packet reassembly,
// so N fragments cost one allocation instead of N.
type fragmentView struct {
	offset, length int
	have           bool
}

type splitPacketAssembly struct {
	buffer    []byte
	views     []fragmentView
	received  int
	total     int
	started   time.Time
	reliability wire.ReliabilityType
	orderingChannel uint8
	orderingIndex   uint32
	sequencingIndex uint32
}

// SplitPacketChannels reassembles fragmented messages (spec §4.3.1 step
// 1/§4.3.5): a message too large for one datagram is split into
// SplitPacketCount fragments sharing a SplitPacketID, each carrying its
// SplitPacketIndex; the receiver buffers fragments until all have arrived
// and reconstructs the original payload.
//
// Grounded on the fragmentation shape spec §6.2 encodes and original
// RakNet's InternalPacket splitPacketId/splitPacketIndex/splitPacketCount
// fields (original_source/Source/ReliabilityLayer.cpp's
// HandleSocketReceiveFromInternalSplitPacket / splitPacketChannelList);
// the teacher program never implements split-packet reassembly at all.
type SplitPacketChannels struct {
	assemblies map[splitPacketKey]*splitPacketAssembly
	maxOpen    int
}

// NewSplitPacketChannels returns an empty reassembly table bounding itself
// to maxOpen simultaneously in-progress split IDs, so a peer announcing
// many distinct splitPacketIds without completing any cannot exhaust
// memory.
func NewSplitPacketChannels(maxOpen int) *SplitPacketChannels {
	return &SplitPacketChannels{
		assemblies: make(map[splitPacketKey]*splitPacketAssembly),
		maxOpen:    maxOpen,
	}
}

// Progress reports one split-packet assembly's fragment count, so a
// caller can surface download-progress notifications (spec §4.3.3)
// without reaching into assembly internals.
type Progress struct {
	SplitPacketID   uint16
	Received, Total int
}

// Accept buffers one fragment and, once every fragment of its
// SplitPacketID has arrived, returns the reassembled InternalPacket ready
// for further reliability processing (ordering, delivery). now is used to
// seed the assembly's start time for timeout purposes; complete is nil
// for every call except the one that finishes an assembly. progress is
// reported on every call that accepted a fragment, complete or not, so a
// caller can notify the application as a multi-fragment send fills in.
func (s *SplitPacketChannels) Accept(p *InternalPacket, fragmentData []byte, now time.Time) (complete *InternalPacket, progress Progress, accepted bool) {
	a, ok := s.assemblies[p.SplitPacketID]
	if !ok {
		if len(s.assemblies) >= s.maxOpen {
			return nil, Progress{}, false // bounded: drop fragments for a new split id rather than grow unbounded
		}
		a = &splitPacketAssembly{
			total:           int(p.SplitPacketCount),
			views:           make([]fragmentView, p.SplitPacketCount),
			started:         now,
			reliability:     p.Reliability,
			orderingChannel: p.OrderingChannel,
			orderingIndex:   p.OrderingIndex,
			sequencingIndex: p.SequencingIndex,
		}
		s.assemblies[p.SplitPacketID] = a
	}

	idx := int(p.SplitPacketIndex)
	if idx < 0 || idx >= len(a.views) || a.views[idx].have {
		return nil, Progress{}, false // out-of-range or duplicate fragment
	}

	if a.buffer == nil {
		// Allocate the shared buffer lazily once the full size is knowable
		// from the first fragment actually received, growing it as later
		// fragments arrive at higher offsets than seen so far.
		a.buffer = make([]byte, 0, len(fragmentData)*a.total)
	}
	offset := len(a.buffer)
	if extra := offset + len(fragmentData) - cap(a.buffer); extra > 0 {
		grown := make([]byte, len(a.buffer), cap(a.buffer)+extra)
		copy(grown, a.buffer)
		a.buffer = grown
	}
	a.buffer = a.buffer[:offset+len(fragmentData)]
	copy(a.buffer[offset:], fragmentData)
	a.views[idx] = fragmentView{offset: offset, length: len(fragmentData), have: true}
	a.received++
	progress = Progress{SplitPacketID: p.SplitPacketID, Received: a.received, Total: a.total}

	if a.received < a.total {
		return nil, progress, true
	}

	delete(s.assemblies, p.SplitPacketID)
	full := make([]byte, 0, len(a.buffer))
	for _, v := range a.views {
		full = append(full, a.buffer[v.offset:v.offset+v.length]...)
	}
	return &InternalPacket{
		Data:            full,
		Reliability:     a.reliability,
		OrderingChannel: a.orderingChannel,
		OrderingIndex:   a.orderingIndex,
		SequencingIndex: a.sequencingIndex,
	}, progress, true
}

// EncodeProgress renders a Progress as an application-visible message:
// IDDownloadProgress followed by the split id and fragment counts, so
// internal/peer can deliver it the same way it delivers every other
// locally-generated notification (spec §4.3.3).
func EncodeProgress(p Progress) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDDownloadProgress))
	w.WriteUint16(p.SplitPacketID)
	w.WriteUint32(uint32(p.Received))
	w.WriteUint32(uint32(p.Total))
	return w.Bytes()
}

// DecodeProgress reverses EncodeProgress's payload, given the bytes after
// the leading IDDownloadProgress byte has already been stripped.
func DecodeProgress(data []byte) (Progress, error) {
	r := bitstream.NewReader(data)
	id, err := r.ReadUint16()
	if err != nil {
		return Progress{}, err
	}
	received, err := r.ReadUint32()
	if err != nil {
		return Progress{}, err
	}
	total, err := r.ReadUint32()
	if err != nil {
		return Progress{}, err
	}
	return Progress{SplitPacketID: id, Received: int(received), Total: int(total)}, nil
}

// ExpireOlderThan drops any in-progress assembly that started before the
// cutoff, returning how many were dropped. The Layer does not call it: its
// assemblies are kept until they complete or the Layer is closed.
func (s *SplitPacketChannels) ExpireOlderThan(cutoff time.Time) int {
	dropped := 0
	for id, a := range s.assemblies {
		if a.started.Before(cutoff) {
			delete(s.assemblies, id)
			dropped++
		}
	}
	return dropped
}

// Open reports how many split-packet IDs are currently being assembled.
func (s *SplitPacketChannels) Open() int { return len(s.assemblies) }
