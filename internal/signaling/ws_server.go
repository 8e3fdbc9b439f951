package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshsignal/room-relay/internal/metrics"
	"github.com/meshsignal/room-relay/internal/ratelimit"
	"github.com/meshsignal/room-relay/internal/room"
)

const (
	wsWriteWait = 1 * time.Second

	// sendQueueSize bounds the per-connection outbound queue. Sends to a
	// full queue are dropped so a stalled peer never blocks routing.
	sendQueueSize = 64
)

// Config wires together the runtime dependencies for the WebSocket server.
type Config struct {
	Registry *room.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Clock is used for message rate limiting; nil means the wall clock.
	Clock ratelimit.Clock

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	MaxRoomNameBytes     int
	MaxPasswordBytes     int
}

// Server upgrades HTTP requests to signaling WebSocket connections and runs
// the per-connection read loop. Origin checks are handled by middleware
// before the upgrade, so CheckOrigin accepts everything here.
type Server struct {
	handler *Handler
	m       *metrics.Metrics
	log     *slog.Logger
	clock   ratelimit.Clock

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = 64 * 1024
	}
	maxPerSecond := cfg.MaxMessagesPerSecond
	if maxPerSecond <= 0 {
		maxPerSecond = 50
	}

	return &Server{
		handler: NewHandler(cfg.Registry, m, cfg.MaxRoomNameBytes, cfg.MaxPasswordBytes, logger),
		m:       m,
		log:     logger.With("component", "ws_server"),
		clock:   cfg.Clock,

		idleTimeout:          idleTimeout,
		pingInterval:         pingInterval,
		maxMessageBytes:      maxMessageBytes,
		maxMessagesPerSecond: maxPerSecond,

		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the protocol state machine, mainly for tests that drive
// it without a transport.
func (s *Server) Handler() *Handler {
	return s.handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newWSSession(conn, s.pingInterval)
	peer := room.NewPeer(sess)
	log := s.log.With("conn_id", peer.ConnID)
	log.Debug("connection open", "remote_addr", conn.RemoteAddr().String())

	go sess.writeLoop()
	defer func() {
		s.handler.HandleDisconnect(peer)
		sess.Shutdown()
		// Give the writer a moment to flush queued messages and the close
		// frame before tearing down the connection.
		select {
		case <-sess.writerDone:
		case <-time.After(wsWriteWait):
		}
		_ = conn.Close()
		log.Debug("connection closed")
	}()

	conn.SetReadLimit(s.maxMessageBytes)
	refresh := func() {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
	refresh()
	conn.SetPongHandler(func(string) error {
		refresh()
		return nil
	})

	limiter := ratelimit.NewTokenBucket(s.clock, int64(s.maxMessagesPerSecond), int64(s.maxMessagesPerSecond))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		refresh()

		// Binary frames carry nothing in this protocol.
		if msgType != websocket.TextMessage {
			s.m.Inc(metrics.MessagesIgnored)
			continue
		}

		if !limiter.Allow(1) {
			s.m.Inc(metrics.RateLimited)
			log.Warn("message rate limit exceeded")
			sess.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.handler.HandleMessage(peer, data)
	}
}

// wsSession is the room.Sender for one WebSocket connection. A single
// writer goroutine owns all writes; Send only enqueues.
type wsSession struct {
	conn *websocket.Conn

	sendCh     chan any
	done       chan struct{}
	writerDone chan struct{}

	pingInterval time.Duration

	closeOnce sync.Once
	mu        sync.Mutex
	closeCode int
	closeText string
}

func newWSSession(conn *websocket.Conn, pingInterval time.Duration) *wsSession {
	return &wsSession{
		conn:         conn,
		sendCh:       make(chan any, sendQueueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		pingInterval: pingInterval,
		closeCode:    websocket.CloseNormalClosure,
	}
}

// Send enqueues v for delivery. It never blocks: a full queue or an
// already-closed session drops the message and reports false.
func (s *wsSession) Send(v any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendCh <- v:
		return true
	default:
		return false
	}
}

// Shutdown stops the writer after draining queued messages and sends a
// close frame. Idempotent.
func (s *wsSession) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *wsSession) closeWith(code int, text string) {
	s.mu.Lock()
	s.closeCode = code
	s.closeText = text
	s.mu.Unlock()
	s.Shutdown()
}

func (s *wsSession) writeLoop() {
	defer close(s.writerDone)
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case v := <-s.sendCh:
			if !s.writeJSON(v) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.drainAndClose()
			return
		}
	}
}

func (s *wsSession) drainAndClose() {
	for {
		select {
		case v := <-s.sendCh:
			if !s.writeJSON(v) {
				return
			}
		default:
			s.mu.Lock()
			code, text := s.closeCode, s.closeText
			s.mu.Unlock()
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(wsWriteWait),
			)
			return
		}
	}
}

func (s *wsSession) writeJSON(v any) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(v) == nil
}
