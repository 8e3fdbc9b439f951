// Package room implements the relay's room/peer lifecycle state machine.
//
// All state lives in a single Registry guarded by one mutex. Registry methods
// run every check-then-mutate sequence as one critical section and return
// snapshots of the peers to notify; callers deliver notifications outside the
// lock so a slow peer can never stall a room operation.
package room

import (
	"github.com/google/uuid"
)

// HostPeerID is the peer id of a room's host, fixed for the room's lifetime.
const HostPeerID = 1

// firstClientPeerID seeds each room's monotonically increasing id counter.
// Client ids are never reused, even after the original holder leaves.
const firstClientPeerID = 2

// Role identifies a peer's position within a room.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// Sender delivers messages to one connected peer.
//
// Send must never block: implementations queue or drop and report the outcome.
// Shutdown closes the peer's transport link; it must be safe to call more than
// once and concurrently with Send.
type Sender interface {
	Send(v any) bool
	Shutdown()
}

// Peer is the per-connection session record owned by the Registry.
//
// The room fields are guarded by the owning Registry's mutex; ConnID and the
// sender are immutable after construction.
type Peer struct {
	ConnID uuid.UUID

	sender Sender

	roomName string
	role     Role
	peerID   int
}

// NewPeer builds a session record for a freshly accepted connection. The peer
// is not in any room until a create or join succeeds.
func NewPeer(sender Sender) *Peer {
	return &Peer{ConnID: uuid.New(), sender: sender}
}

// Send forwards to the peer's sender. Safe without the registry lock.
func (p *Peer) Send(v any) bool {
	return p.sender.Send(v)
}

func (p *Peer) clear() {
	p.roomName = ""
	p.role = RoleNone
	p.peerID = 0
}

// Room is one signaling session: a host plus up to maxClients clients.
type Room struct {
	name       string
	host       *Peer
	clients    map[int]*Peer
	password   string
	nextPeerID int
}
