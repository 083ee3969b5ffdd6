package wire

// MessageID is the first byte of a message's payload once the reliability
// layer has stripped its own framing — the application-visible packet kind,
// per spec §6.4. Constants below are grounded on the teacher's packet-ID
// table (pkg/raknet/protocol.go, source/protocol/raknet.go) generalized to
// the full reserved set spec §6.4/§4.6/§4.7 require, and cross-checked
// against original_source's RakPeer constant ordering where the teacher's
// table was a SA-MP-specific subset.
type MessageID byte

const (
	IDConnectedPing MessageID = iota
	IDUnconnectedPing
	IDUnconnectedPingOpenConnections
	IDConnectedPong
	_ // reserved: matches original RakNet's ID_DETECT_LOST_CONNECTIONS slot
	IDOpenConnectionRequest1
	IDOpenConnectionReply1
	IDOpenConnectionRequest2
	IDOpenConnectionReply2
	IDConnectionRequest
	_
	_
	_
	_
	_
	_
	IDConnectionRequestAccepted
	_
	_
	IDNewIncomingConnection
	_
	IDDisconnectionNotification
	IDConnectionBanned
	_
	_
	IDInvalidPassword
	IDIncompatibleProtocolVersion
	_
	_
	IDUnconnectedPong
	IDAdvertiseSystem

	// Connection/session lifecycle, surfaced locally (spec §6.4).
	IDConnectionAttemptFailed
	IDNoFreeIncomingConnections
	IDConnectionLost
	IDAlreadyConnected
	IDTimestamp
	IDDownloadProgress
	IDSndReceiptAcked
	IDSndReceiptLoss

	// NAT punchthrough (spec §4.6).
	IDNatPunchthroughRequest
	IDNatGetMostRecentPort
	IDNatConnectAtTime
	IDNatEstablishUnidirectional
	IDNatEstablishBidirectional
	IDNatTargetNotConnected
	IDNatTargetUnresponsive
	IDNatConnectionToTargetLost
	IDNatAlreadyInProgress
	IDNatPunchthroughSucceeded
	IDNatPunchthroughFailed

	// NAT type detection (spec §4.7).
	IDNatTypeDetectionRequest
	IDNatTypeDetectionResult

	// RPC, application payloads start above this marker.
	IDUserPacketEnum
)

func (m MessageID) String() string {
	switch m {
	case IDConnectedPing:
		return "ID_CONNECTED_PING"
	case IDUnconnectedPing:
		return "ID_UNCONNECTED_PING"
	case IDUnconnectedPingOpenConnections:
		return "ID_UNCONNECTED_PING_OPEN_CONNECTIONS"
	case IDConnectedPong:
		return "ID_CONNECTED_PONG"
	case IDOpenConnectionRequest1:
		return "ID_OPEN_CONNECTION_REQUEST_1"
	case IDOpenConnectionReply1:
		return "ID_OPEN_CONNECTION_REPLY_1"
	case IDOpenConnectionRequest2:
		return "ID_OPEN_CONNECTION_REQUEST_2"
	case IDOpenConnectionReply2:
		return "ID_OPEN_CONNECTION_REPLY_2"
	case IDConnectionRequest:
		return "ID_CONNECTION_REQUEST"
	case IDConnectionRequestAccepted:
		return "ID_CONNECTION_REQUEST_ACCEPTED"
	case IDNewIncomingConnection:
		return "ID_NEW_INCOMING_CONNECTION"
	case IDDisconnectionNotification:
		return "ID_DISCONNECTION_NOTIFICATION"
	case IDConnectionBanned:
		return "ID_CONNECTION_BANNED"
	case IDInvalidPassword:
		return "ID_INVALID_PASSWORD"
	case IDIncompatibleProtocolVersion:
		return "ID_INCOMPATIBLE_PROTOCOL_VERSION"
	case IDUnconnectedPong:
		return "ID_UNCONNECTED_PONG"
	case IDAdvertiseSystem:
		return "ID_ADVERTISE_SYSTEM"
	case IDConnectionAttemptFailed:
		return "ID_CONNECTION_ATTEMPT_FAILED"
	case IDNoFreeIncomingConnections:
		return "ID_NO_FREE_INCOMING_CONNECTIONS"
	case IDConnectionLost:
		return "ID_CONNECTION_LOST"
	case IDAlreadyConnected:
		return "ID_ALREADY_CONNECTED"
	case IDTimestamp:
		return "ID_TIMESTAMP"
	case IDDownloadProgress:
		return "ID_DOWNLOAD_PROGRESS"
	case IDSndReceiptAcked:
		return "ID_SND_RECEIPT_ACKED"
	case IDSndReceiptLoss:
		return "ID_SND_RECEIPT_LOSS"
	case IDNatPunchthroughRequest:
		return "ID_NAT_PUNCHTHROUGH_REQUEST"
	case IDNatGetMostRecentPort:
		return "ID_NAT_GET_MOST_RECENT_PORT"
	case IDNatConnectAtTime:
		return "ID_NAT_CONNECT_AT_TIME"
	case IDNatEstablishUnidirectional:
		return "ID_NAT_ESTABLISH_UNIDIRECTIONAL"
	case IDNatEstablishBidirectional:
		return "ID_NAT_ESTABLISH_BIDIRECTIONAL"
	case IDNatTargetNotConnected:
		return "ID_NAT_TARGET_NOT_CONNECTED"
	case IDNatTargetUnresponsive:
		return "ID_NAT_TARGET_UNRESPONSIVE"
	case IDNatConnectionToTargetLost:
		return "ID_NAT_CONNECTION_TO_TARGET_LOST"
	case IDNatAlreadyInProgress:
		return "ID_NAT_ALREADY_IN_PROGRESS"
	case IDNatPunchthroughSucceeded:
		return "ID_NAT_PUNCHTHROUGH_SUCCEEDED"
	case IDNatPunchthroughFailed:
		return "ID_NAT_PUNCHTHROUGH_FAILED"
	case IDNatTypeDetectionRequest:
		return "ID_NAT_TYPE_DETECTION_REQUEST"
	case IDNatTypeDetectionResult:
		return "ID_NAT_TYPE_DETECTION_RESULT"
	case IDUserPacketEnum:
		return "ID_USER_PACKET_ENUM"
	default:
		return "ID_UNKNOWN"
	}
}
