// Package nattype implements NAT type detection (spec §4.7): a four-socket
// server probe that classifies a client's NAT as open, full-cone,
// address-restricted, port-restricted, or symmetric, by observing which
// probes (sent from distinct server sockets/addresses) the client actually
// receives.
//
// Grounded on original_source/Source/Plugins/NatTypeDetectionServer.cpp,
// NatTypeDetectionClient.cpp, and NatTypeDetectionCommon.cpp for the state
// machine, the socket-identity requirements (s1p2/s2p3/s3p4/s4p5), and the
// CanConnect compatibility table; reimplemented over internal/peer.Peer
// (main reliable control channel) and internal/transport.Transport (the
// auxiliary raw probe sockets) instead of RakNet's RakNetSocket2/plugin
// pairing.
package nattype

import "time"

// Result is a classified NAT type, ordered from least to most restrictive
// (spec §4.7's classification table).
type Result int

const (
	ResultNone Result = iota
	ResultFullCone
	ResultAddressRestricted
	ResultPortRestricted
	ResultSymmetric
	ResultUnknown
	ResultInProgress
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "None"
	case ResultFullCone:
		return "Full cone"
	case ResultAddressRestricted:
		return "Address restricted"
	case ResultPortRestricted:
		return "Port restricted"
	case ResultSymmetric:
		return "Symmetric"
	case ResultInProgress:
		return "In progress"
	default:
		return "Unknown"
	}
}

// StringFriendly gives the coarser Open/Relaxed/Moderate/Strict grouping a
// matchmaker would show a player (spec §4.7's "friendly" naming).
func (r Result) StringFriendly() string {
	switch r {
	case ResultNone:
		return "Open"
	case ResultFullCone, ResultAddressRestricted:
		return "Relaxed"
	case ResultPortRestricted:
		return "Moderate"
	case ResultSymmetric:
		return "Strict"
	case ResultInProgress:
		return "In progress"
	default:
		return "Unknown"
	}
}

// connectionGraph[a][b] reports whether a system classified as `a` can
// reach one classified as `b` directly, without a relay. Symmetric NATs can
// only punch through to address-restricted or better; port-restricted NATs
// need port-restricted or better on the far end.
var connectionGraph = [7][7]bool{
	ResultNone:              {true, true, true, true, true, false, false},
	ResultFullCone:          {true, true, true, true, true, false, false},
	ResultAddressRestricted: {true, true, true, true, true, false, false},
	ResultPortRestricted:    {true, true, true, true, false, false, false},
	ResultSymmetric:         {true, true, true, false, false, false, false},
	ResultUnknown:           {false, false, false, false, false, false, false},
	ResultInProgress:        {false, false, false, false, false, false, false},
}

// CanConnect reports whether two peers with the given classified NAT types
// can establish a direct path without a relay (spec §4.7).
func CanConnect(a, b Result) bool {
	if int(a) >= len(connectionGraph) || int(b) >= len(connectionGraph[0]) {
		return false
	}
	return connectionGraph[a][b]
}

// Config holds the per-attempt timing knob spec §4.7 derives from RTT, the
// same way the original implementation does (ping*3 + 50ms between probes).
type Config struct {
	MinStateInterval time.Duration
}

func DefaultConfig() Config {
	return Config{MinStateInterval: 50 * time.Millisecond}
}

// StateInterval mirrors the original's "ping*3 + 50ms" spacing between
// successive state-machine probes, floored at cfg.MinStateInterval so an
// unknown (zero) RTT never produces a zero or negative interval.
func StateInterval(cfg Config, rtt time.Duration) time.Duration {
	interval := 3*rtt + cfg.MinStateInterval
	if interval < cfg.MinStateInterval {
		return cfg.MinStateInterval
	}
	return interval
}
