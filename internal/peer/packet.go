// Package peer implements the Peer multiplexer (spec §4.5): an array of
// per-remote slots each hosting a reliability.Layer, the four-message
// handshake, periodic ping RTT sampling, the banlist, plugin dispatch, and
// the public Send/Receive/CloseConnection/GetStatistics surface. One
// update goroutine owns every slot's state; user goroutines only ever
// touch command/output channels.
//
// Grounded on the teacher's source/server/server.go Server (UDP bind,
// update ticker, session map guarded by sync.RWMutex) and
// source/server/player.go's per-connection bookkeeping, generalized from
// SA-MP's single fixed game-session dialect to the connection-agnostic
// slot/handshake/plugin model spec §4.5 describes.
package peer

import (
	"net"

	"github.com/raknet-go/raknet/internal/wire"
)

// Packet is one application-visible delivery: either a reassembled,
// ordered/sequenced user message, or one of the reserved lifecycle
// MessageIDs (spec §6.4) the core surfaces locally.
type Packet struct {
	Addr *net.UDPAddr
	ID   wire.MessageID
	Data []byte
}

// PluginResult is what a Plugin returns from OnPacket, deciding whether
// downstream plugins and the application still see the packet (spec
// §4.5: CONTINUE_PROCESSING / STOP_PROCESSING / STOP_PROCESSING_AND_DEALLOCATE).
type PluginResult int

const (
	ContinueProcessing PluginResult = iota
	StopProcessing
	StopProcessingAndDeallocate
)

// Plugin is offered every arriving packet, in attach order, before it
// reaches the application's Receive queue.
type Plugin interface {
	Name() string
	OnPacket(p *Packet) PluginResult
}
