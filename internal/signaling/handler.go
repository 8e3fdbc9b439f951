package signaling

import (
	"log/slog"

	"github.com/meshsignal/room-relay/internal/metrics"
	"github.com/meshsignal/room-relay/internal/room"
)

// Handler is the room protocol state machine. It is transport-agnostic:
// inbound messages arrive as raw bytes per peer, outbound messages go
// through each peer's Sender. All sends are fire-and-forget.
type Handler struct {
	reg *room.Registry
	m   *metrics.Metrics
	log *slog.Logger

	maxRoomNameBytes int
	maxPasswordBytes int
}

func NewHandler(reg *room.Registry, m *metrics.Metrics, maxRoomNameBytes, maxPasswordBytes int, logger *slog.Logger) *Handler {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reg:              reg,
		m:                m,
		log:              logger.With("component", "signaling"),
		maxRoomNameBytes: maxRoomNameBytes,
		maxPasswordBytes: maxPasswordBytes,
	}
}

// HandleMessage processes one inbound message for p. Malformed or unknown
// messages are counted and dropped; the connection stays up.
func (h *Handler) HandleMessage(p *room.Peer, raw []byte) {
	env, ok := parseEnvelope(raw)
	if !ok {
		h.m.Inc(metrics.MessagesIgnored)
		h.log.Debug("ignoring malformed message", "conn_id", p.ConnID)
		return
	}

	switch env.Type {
	case messageTypeCreateRoom:
		h.handleCreate(p, env)
	case messageTypeJoinRoom:
		h.handleJoin(p, env)
	case messageTypeSignal:
		h.handleSignal(p, env)
	}
}

func (h *Handler) handleCreate(p *room.Peer, env envelope) {
	if msg, ok := h.checkLimits(env); !ok {
		h.m.Inc(metrics.CreateRejected)
		h.send(p, newError(msg))
		return
	}

	if err := h.reg.Create(p, env.RoomName, env.Password); err != nil {
		h.m.Inc(metrics.CreateRejected)
		h.send(p, newError(err.Error()))
		return
	}

	h.m.Inc(metrics.RoomsCreated)
	h.send(p, roomCreatedMsg{
		Type:     messageTypeRoomCreated,
		RoomName: env.RoomName,
		PeerID:   room.HostPeerID,
	})
}

func (h *Handler) handleJoin(p *room.Peer, env envelope) {
	if msg, ok := h.checkLimits(env); !ok {
		h.m.Inc(metrics.JoinRejected)
		h.send(p, newError(msg))
		return
	}

	res, err := h.reg.Join(p, env.RoomName, env.Password)
	if err != nil {
		h.m.Inc(metrics.JoinRejected)
		h.send(p, newError(err.Error()))
		return
	}

	h.m.Inc(metrics.PeersJoined)

	// Ack the joiner first, then announce it to the host and to the clients
	// that were already present.
	h.send(p, newRoomJoined(env.RoomName, res.PeerID, res.ExistingPeers))

	joined := peerJoinedMsg{Type: messageTypePeerJoined, PeerID: res.PeerID}
	h.sendTo(res.Host, joined)
	for _, other := range res.Others {
		h.sendTo(other, joined)
	}
}

func (h *Handler) handleSignal(p *room.Peer, env envelope) {
	target := 0
	hasTarget := env.TargetPeerID != nil
	if hasTarget {
		target = *env.TargetPeerID
	}

	route, ok := h.reg.Route(p, target, hasTarget)
	if !ok {
		// Sender not in a live room, or the target just left. Not an error.
		h.m.Inc(metrics.SignalsDropped)
		return
	}

	out := signalMsg{
		Type:       messageTypeSignal,
		Data:       env.Data,
		FromPeerID: route.FromPeerID,
	}
	for _, rcpt := range route.Recipients {
		h.sendTo(rcpt, out)
	}
	h.m.Inc(metrics.SignalsRelayed)
}

// HandleDisconnect runs the cleanup contract for a closed connection. Safe
// to call more than once for the same peer.
func (h *Handler) HandleDisconnect(p *room.Peer) {
	res, ok := h.reg.Leave(p)
	if !ok {
		return
	}

	if res.Role == room.RoleHost {
		h.m.Inc(metrics.RoomsClosed)
		gone := hostDisconnectedMsg{Type: messageTypeHostDisconnected}
		for _, c := range res.Clients {
			h.sendTo(c, gone)
			c.Shutdown()
		}
		return
	}

	h.m.Inc(metrics.PeersLeft)
	left := peerLeftMsg{Type: messageTypePeerLeft, PeerID: res.PeerID}
	if res.Host != nil {
		h.sendTo(res.Host, left)
	}
	for _, c := range res.Clients {
		h.sendTo(c, left)
	}
}

func (h *Handler) checkLimits(env envelope) (string, bool) {
	if h.maxRoomNameBytes > 0 && len(env.RoomName) > h.maxRoomNameBytes {
		return "room name too long", false
	}
	if h.maxPasswordBytes > 0 && len(env.Password) > h.maxPasswordBytes {
		return "password too long", false
	}
	return "", true
}

func (h *Handler) send(p *room.Peer, v any) {
	if !p.Send(v) {
		h.m.Inc(metrics.SendsDropped)
	}
}

func (h *Handler) sendTo(s room.Sender, v any) {
	if s == nil {
		return
	}
	if !s.Send(v) {
		h.m.Inc(metrics.SendsDropped)
	}
}
