package signaling

import (
	"encoding/json"
)

type messageType string

const (
	// Inbound.
	messageTypeCreateRoom messageType = "create_room"
	messageTypeJoinRoom   messageType = "join_room"
	messageTypeSignal     messageType = "signal"

	// Outbound.
	messageTypeRoomCreated      messageType = "room_created"
	messageTypeRoomJoined       messageType = "room_joined"
	messageTypePeerJoined       messageType = "peer_joined"
	messageTypePeerLeft         messageType = "peer_left"
	messageTypeHostDisconnected messageType = "host_disconnected"
	messageTypeError            messageType = "error"
)

// envelope is the inbound wire message. Parsing is deliberately lenient:
// anything unparseable, of unknown type, or missing a required field is
// dropped without a response and without failing the connection.
type envelope struct {
	Type     messageType `json:"type"`
	RoomName string      `json:"room_name"`
	Password string      `json:"password"`

	Data         json.RawMessage `json:"data"`
	TargetPeerID *int            `json:"target_peer_id"`
}

// parseEnvelope reports ok=false for any message the relay should ignore.
func parseEnvelope(raw []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, false
	}

	switch env.Type {
	case messageTypeCreateRoom, messageTypeJoinRoom:
		if env.RoomName == "" {
			return envelope{}, false
		}
	case messageTypeSignal:
		if len(env.Data) == 0 {
			return envelope{}, false
		}
		if env.TargetPeerID != nil && *env.TargetPeerID <= 0 {
			return envelope{}, false
		}
	default:
		return envelope{}, false
	}
	return env, true
}

// Outbound messages use dedicated structs so field presence is exact: for
// example room_joined always carries existing_peers, even when empty.

type roomCreatedMsg struct {
	Type     messageType `json:"type"`
	RoomName string      `json:"room_name"`
	PeerID   int         `json:"peer_id"`
}

type roomJoinedMsg struct {
	Type          messageType `json:"type"`
	RoomName      string      `json:"room_name"`
	PeerID        int         `json:"peer_id"`
	ExistingPeers []int       `json:"existing_peers"`
}

func newRoomJoined(roomName string, peerID int, existing []int) roomJoinedMsg {
	if existing == nil {
		existing = []int{}
	}
	return roomJoinedMsg{
		Type:          messageTypeRoomJoined,
		RoomName:      roomName,
		PeerID:        peerID,
		ExistingPeers: existing,
	}
}

type peerJoinedMsg struct {
	Type   messageType `json:"type"`
	PeerID int         `json:"peer_id"`
}

type peerLeftMsg struct {
	Type   messageType `json:"type"`
	PeerID int         `json:"peer_id"`
}

type hostDisconnectedMsg struct {
	Type messageType `json:"type"`
}

type signalMsg struct {
	Type       messageType     `json:"type"`
	Data       json.RawMessage `json:"data"`
	FromPeerID int             `json:"from_peer_id"`
}

type errorMsg struct {
	Type    messageType `json:"type"`
	Message string      `json:"message"`
}

func newError(message string) errorMsg {
	return errorMsg{Type: messageTypeError, Message: message}
}
