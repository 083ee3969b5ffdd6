package peer

import (
	"fmt"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/security"
	"github.com/raknet-go/raknet/internal/wire"
)

// Handshake datagrams are unconnected: a bare MessageID byte followed by a
// small payload, sent and parsed outside any reliability.Layer since no
// Layer exists for the remote until the handshake completes (spec §6.5).
// The MTU probe is padded to the candidate size with zero bytes so the
// receiving side can tell, from datagram length alone, the largest MTU
// candidate that actually arrived intact.

const (
	protocolVersion  byte = 6
	mtuPaddingFiller byte = 0
)

type openConnectionRequest1 struct {
	ProtocolVersion byte
	MTUCandidate    int // inferred from total datagram length
}

func encodeOpenConnectionRequest1(mtuCandidate int) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDOpenConnectionRequest1))
	w.WriteByte(protocolVersion)
	pad := mtuCandidate - 2
	for i := 0; i < pad; i++ {
		w.WriteByte(mtuPaddingFiller)
	}
	return w.Bytes()
}

func decodeOpenConnectionRequest1(data []byte) (openConnectionRequest1, error) {
	if len(data) < 2 {
		return openConnectionRequest1{}, fmt.Errorf("peer: OPEN_CONNECTION_REQUEST_1 too short")
	}
	return openConnectionRequest1{ProtocolVersion: data[1], MTUCandidate: len(data)}, nil
}

type openConnectionReply1 struct {
	ServerGUID    uint64
	ConfirmedMTU  uint16
	HasSecurity   bool
}

func encodeOpenConnectionReply1(serverGUID uint64, confirmedMTU uint16) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDOpenConnectionReply1))
	w.WriteUint64(serverGUID)
	w.WriteBool(false) // security off: the optional AEAD layer uses a pre-shared key and is never negotiated here
	w.WriteUint16(confirmedMTU)
	return w.Bytes()
}

func decodeOpenConnectionReply1(data []byte) (openConnectionReply1, error) {
	r := bitstream.NewReader(data[1:])
	guid, err := r.ReadUint64()
	if err != nil {
		return openConnectionReply1{}, err
	}
	sec, err := r.ReadBool()
	if err != nil {
		return openConnectionReply1{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return openConnectionReply1{}, err
	}
	return openConnectionReply1{ServerGUID: guid, ConfirmedMTU: mtu, HasSecurity: sec}, nil
}

type openConnectionRequest2 struct {
	ClientGUID uint64
	MTU        uint16
}

func encodeOpenConnectionRequest2(clientGUID uint64, mtu uint16) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDOpenConnectionRequest2))
	w.WriteUint64(clientGUID)
	w.WriteUint16(mtu)
	return w.Bytes()
}

func decodeOpenConnectionRequest2(data []byte) (openConnectionRequest2, error) {
	r := bitstream.NewReader(data[1:])
	guid, err := r.ReadUint64()
	if err != nil {
		return openConnectionRequest2{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return openConnectionRequest2{}, err
	}
	return openConnectionRequest2{ClientGUID: guid, MTU: mtu}, nil
}

type openConnectionReply2 struct {
	ServerGUID uint64
	MTU        uint16
	Accepted   bool
}

func encodeOpenConnectionReply2(serverGUID uint64, mtu uint16, accepted bool) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDOpenConnectionReply2))
	w.WriteUint64(serverGUID)
	w.WriteUint16(mtu)
	w.WriteBool(accepted)
	return w.Bytes()
}

func decodeOpenConnectionReply2(data []byte) (openConnectionReply2, error) {
	r := bitstream.NewReader(data[1:])
	guid, err := r.ReadUint64()
	if err != nil {
		return openConnectionReply2{}, err
	}
	mtu, err := r.ReadUint16()
	if err != nil {
		return openConnectionReply2{}, err
	}
	accepted, err := r.ReadBool()
	if err != nil {
		return openConnectionReply2{}, err
	}
	return openConnectionReply2{ServerGUID: guid, MTU: mtu, Accepted: accepted}, nil
}

// negotiatedMTU implements spec §6.5's rule: MTU := min(probe, local
// socket ceiling) minus a fixed per-datagram overhead, and minus the AEAD
// nonce+tag overhead when encryption is enabled.
func negotiatedMTU(probe, localCeiling int, encrypted bool) uint16 {
	mtu := probe
	if localCeiling < mtu {
		mtu = localCeiling
	}
	mtu -= wireOverheadBytes
	if encrypted {
		mtu -= aeadOverheadBytes
	}
	if mtu < minimumMTU {
		mtu = minimumMTU
	}
	return uint16(mtu)
}

const (
	wireOverheadBytes = 28 // IP + UDP header budget, mirrors original RakNet's UDP_HEADER_SIZE
	minimumMTU        = 128
)

// aeadOverheadBytes is how much Seal grows a connected datagram by: a
// random nonce plus the authentication tag.
var aeadOverheadBytes = security.Overhead
