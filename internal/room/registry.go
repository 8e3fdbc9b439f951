package room

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the process-wide room map.
//
// One mutex guards the map and all room mutations. Cross-room operations do
// not strictly need to serialize against each other, but a single lock is the
// simplest discipline that makes every check-then-mutate sequence atomic, and
// no work done under it can block (notifications happen outside).
type Registry struct {
	log *slog.Logger

	maxClients int
	maxRooms   int

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry builds an empty registry. maxClients caps clients per room
// (excluding the host); maxRooms caps live rooms, 0 meaning unlimited.
func NewRegistry(maxClients, maxRooms int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:        logger.With("component", "room_registry"),
		maxClients: maxClients,
		maxRooms:   maxRooms,
		rooms:      make(map[string]*Room),
	}
}

// JoinResult is the snapshot a successful join must fan out to.
type JoinResult struct {
	// PeerID is the id assigned to the joiner.
	PeerID int
	// ExistingPeers are the client ids present before this join, sorted. The
	// host's id is not included: host presence is implicit.
	ExistingPeers []int
	// Host and Others receive the peer-joined notification.
	Host   Sender
	Others []Sender
}

// RouteResult is the recipient snapshot for one relayed signal.
type RouteResult struct {
	FromPeerID int
	Recipients []Sender
}

// LeaveResult is the snapshot a departure must fan out to.
type LeaveResult struct {
	Role   Role
	PeerID int
	// Host is set when a client left. Clients holds every remaining client
	// (client leave), or every client of the torn-down room (host leave).
	Host    Sender
	Clients []Sender
}

// Create makes p the host of a new room. The requesting connection must not
// be in a room already.
func (r *Registry) Create(p *Peer, name, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.roomName != "" {
		return ErrAlreadyInRoom
	}
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		return ErrTooManyRooms
	}
	if _, ok := r.rooms[name]; ok {
		return ErrRoomExists
	}

	r.rooms[name] = &Room{
		name:       name,
		host:       p,
		clients:    make(map[int]*Peer),
		password:   password,
		nextPeerID: firstClientPeerID,
	}
	p.roomName = name
	p.role = RoleHost
	p.peerID = HostPeerID

	r.log.Debug("room created", "room", name, "conn", p.ConnID, "rooms", len(r.rooms))
	return nil
}

// Join adds p to an existing room as a client and allocates its peer id.
func (r *Registry) Join(p *Peer, name, password string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.roomName != "" {
		return JoinResult{}, ErrAlreadyInRoom
	}
	rm, ok := r.rooms[name]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	if rm.password != "" && password != rm.password {
		return JoinResult{}, ErrWrongPassword
	}
	if len(rm.clients) >= r.maxClients {
		return JoinResult{}, ErrRoomFull
	}

	res := JoinResult{
		ExistingPeers: make([]int, 0, len(rm.clients)),
		Host:          rm.host.sender,
		Others:        make([]Sender, 0, len(rm.clients)),
	}
	for id, c := range rm.clients {
		res.ExistingPeers = append(res.ExistingPeers, id)
		res.Others = append(res.Others, c.sender)
	}
	sort.Ints(res.ExistingPeers)

	res.PeerID = rm.nextPeerID
	rm.nextPeerID++
	rm.clients[res.PeerID] = p
	p.roomName = name
	p.role = RoleClient
	p.peerID = res.PeerID

	r.log.Debug("peer joined", "room", name, "conn", p.ConnID, "peer_id", res.PeerID)
	return res, nil
}

// Route resolves the recipients of a signal sent by p.
//
// target is only consulted when hasTarget is true. ok=false means the signal
// must be dropped silently: the sender is not in a room, the room is gone
// (host already left), or the targeted client no longer exists. Those are
// races with disconnect, not errors.
func (r *Registry) Route(p *Peer, target int, hasTarget bool) (RouteResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.roomName == "" {
		return RouteResult{}, false
	}
	rm, ok := r.rooms[p.roomName]
	if !ok {
		return RouteResult{}, false
	}

	if p.role == RoleClient {
		// Star topology: client signals always go to the host, never to
		// another client directly.
		return RouteResult{
			FromPeerID: p.peerID,
			Recipients: []Sender{rm.host.sender},
		}, true
	}

	if hasTarget {
		c, ok := rm.clients[target]
		if !ok {
			return RouteResult{}, false
		}
		return RouteResult{
			FromPeerID: HostPeerID,
			Recipients: []Sender{c.sender},
		}, true
	}

	recipients := make([]Sender, 0, len(rm.clients))
	for _, c := range rm.clients {
		recipients = append(recipients, c.sender)
	}
	return RouteResult{FromPeerID: HostPeerID, Recipients: recipients}, true
}

// Leave removes p from its room, tearing the room down when p was the host.
//
// It is idempotent: once a peer has left (or its room was torn down by a host
// departure) the session record is cleared and later calls no-op with
// ok=false.
func (r *Registry) Leave(p *Peer) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.roomName == "" {
		return LeaveResult{}, false
	}
	rm, ok := r.rooms[p.roomName]
	if !ok {
		p.clear()
		return LeaveResult{}, false
	}

	res := LeaveResult{Role: p.role, PeerID: p.peerID}
	switch p.role {
	case RoleHost:
		for _, c := range rm.clients {
			res.Clients = append(res.Clients, c.sender)
			// Clear client records now so their own disconnect cleanup
			// no-ops instead of touching the deleted room.
			c.clear()
		}
		delete(r.rooms, rm.name)
		p.clear()
		r.log.Debug("room closed", "room", rm.name, "conn", p.ConnID, "clients", len(res.Clients))
		return res, true

	case RoleClient:
		delete(rm.clients, p.peerID)
		res.Host = rm.host.sender
		for _, c := range rm.clients {
			res.Clients = append(res.Clients, c.sender)
		}
		p.clear()
		r.log.Debug("peer left", "room", rm.name, "conn", p.ConnID, "peer_id", res.PeerID)
		return res, true
	}

	return LeaveResult{}, false
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// PeerState reports p's current room membership.
func (r *Registry) PeerState(p *Peer) (roomName string, role Role, peerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.roomName, p.role, p.peerID
}
