// Package natpunch implements NAT punchthrough (spec §4.6): a facilitator
// role running alongside a publicly reachable RakNet peer, and a client
// role that two NATed peers run to rendezvous a direct UDP path between
// them via predictive port punching.
//
// Grounded on original_source/Source/Plugins/NatPunchthroughClient.cpp and
// NatPunchthroughServer.cpp for the phase names, the rendezvous-time
// formula, and the retry/failure bookkeeping; reimplemented over this
// repo's internal/peer.Peer, both for facilitator<->client reliable control
// traffic and, via Peer.SendRaw/SetRawReceiver on the same bound socket,
// for the direct, facilitator-bypassing punch datagrams, instead of RakNet's native
// plugin/RakPeerInterface pairing.
package natpunch

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one punchthrough attempt end to end, minted by the
// facilitator. Using google/uuid rather than a small counter avoids
// collisions across concurrent attempts the facilitator is juggling for
// different user pairs (spec §4.6 step 4: "sessionIds match").
type SessionID = uuid.UUID

func NewSessionID() SessionID { return uuid.New() }

// Phase is the client-side ping-sequence state machine spec §4.6 step 5
// names explicitly.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseGettingRecentPorts
	PhaseTestingInternalIPs
	PhaseWaitingForInternalIPsResponse
	PhaseTestingExternalIPs
	PhaseWaitingAfterAllAttempts
	PhasePunchingFixedPort
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseGettingRecentPorts:
		return "GETTING_RECENT_PORTS"
	case PhaseTestingInternalIPs:
		return "TESTING_INTERNAL_IPS"
	case PhaseWaitingForInternalIPsResponse:
		return "WAITING_FOR_INTERNAL_IPS_RESPONSE"
	case PhaseTestingExternalIPs:
		return "TESTING_EXTERNAL_IPS_FACILITATOR_PORT_TO_FACILITATOR_PORT"
	case PhaseWaitingAfterAllAttempts:
		return "WAITING_AFTER_ALL_ATTEMPTS"
	case PhasePunchingFixedPort:
		return "PUNCHING_FIXED_PORT"
	case PhaseSucceeded:
		return "SUCCEEDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the calibration constants spec §9's Open Questions leave
// unfixed (named there as UDP_SENDS_PER_PORT_EXTERNAL) - exposed as
// knobs rather than hardcoded, consistent with pkg/config wiring the
// rest of the tunables.
type Config struct {
	UDPSendsPerPortInternal int
	UDPSendsPerPortExternal int
	MaxPredictivePortRange  int
	UnresponsiveTimeout     time.Duration

	// RetryOnFailure mirrors NatPunchthroughClient's pc.retryOnFailure
	// (spec §4.6 step 7): when true, the sending side of a failed attempt
	// re-requests the same target once before surfacing
	// ID_NAT_PUNCHTHROUGH_FAILED to the application.
	RetryOnFailure bool
}

// DefaultConfig mirrors the original implementation's constants.
func DefaultConfig() Config {
	return Config{
		UDPSendsPerPortInternal: 3,
		UDPSendsPerPortExternal: 5,
		MaxPredictivePortRange:  3,
		UnresponsiveTimeout:     10 * time.Second,
		RetryOnFailure:          false,
	}
}

// RendezvousTime implements spec §4.6 step 4's formula: now plus four
// times the larger of the two last-known pings, floored at 100ms, falling
// back to 1.5s if either ping is unknown (zero).
func RendezvousTime(now time.Time, pingA, pingB time.Duration) time.Time {
	if pingA <= 0 || pingB <= 0 {
		return now.Add(1500 * time.Millisecond)
	}
	larger := pingA
	if pingB > larger {
		larger = pingB
	}
	delay := 4 * larger
	if delay < 100*time.Millisecond {
		delay = 100 * time.Millisecond
	}
	return now.Add(delay)
}

// PortStride estimates the local NAT's sequential port allocation pattern
// from two externally observed ports (spec §4.6's "Port stride discovery").
func PortStride(port1, port2 int) int { return port2 - port1 }

// PredictPort guesses the Nth next external port the local NAT will open,
// given the last known external port and stride (0 if unknown, in which
// case callers fall back to scanning MaxPredictivePortRange around the
// last known port instead of one specific prediction).
func PredictPort(lastExternalPort, stride, attempt int) int {
	return lastExternalPort + stride*attempt
}

// internalAddresses enumerates this host's non-loopback IPv4 addresses
// paired with the given port, for the TESTING_INTERNAL_IPS phase.
func internalAddresses(port int) []*net.UDPAddr {
	var out []*net.UDPAddr
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, &net.UDPAddr{IP: ip4, Port: port})
	}
	return out
}
