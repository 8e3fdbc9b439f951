package metrics

import "sync"

// Event counter names.
const (
	RoomsCreated    = "rooms_created"
	RoomsClosed     = "rooms_closed"
	PeersJoined     = "peers_joined"
	PeersLeft       = "peers_left"
	CreateRejected  = "create_rejected"
	JoinRejected    = "join_rejected"
	SignalsRelayed  = "signals_relayed"
	SignalsDropped  = "signals_dropped"
	MessagesIgnored = "messages_ignored"
	SendsDropped    = "sends_dropped"
	RateLimited     = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a real metrics backend can scrape these through
// the Prometheus text handler; in tests the counters double as observable
// evidence that enforcement paths actually fired.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
