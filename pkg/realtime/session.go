package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// State is the session lifecycle state.
type State int32

const (
	// StateConnecting waits for the authentication handshake.
	StateConnecting State = iota
	// StateAuthenticated has verified credentials but no subscriptions.
	StateAuthenticated
	// StateActive is the only state in which domain events are delivered.
	StateActive
	// StateClosing is tearing down registrations and presence.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one authenticated realtime connection for one user. It is
// owned by its read and write loops; everything else talks to it
// through Enqueue and Close. The outbound queue is bounded: a session
// that cannot drain it is evicted rather than allowed to stall the
// broadcaster.
type Session struct {
	// Identity
	ID        string
	UserID    string
	User      protocol.UserSummary
	CreatedAt time.Time

	// Connection
	conn    *websocket.Conn
	writeMu sync.Mutex // Protects conn writes

	state     atomic.Int32
	closeOnce sync.Once

	// Outbound queue and shutdown signal
	outbound chan *protocol.ServerMessage
	done     chan struct{}

	lastActive atomic.Int64 // unix nanos, refreshed by any inbound traffic

	// Collaborators, wired at creation
	registry *Registry
	presence *Presence
	onClose  func(*Session)

	// subMu serializes subscribe/unsubscribe handling against teardown
	// so a registration and its presence reference mutate as one unit.
	subMu sync.Mutex

	config *SessionConfig
	logger *slog.Logger

	// Metrics
	msgsSent atomic.Uint64
	msgsRecv atomic.Uint64
}

// generateSessionID returns a cryptographically random session ID.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak session IDs are dangerous; fail hard on entropy loss.
		panic(fmt.Sprintf("realtime: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// newSession creates an authenticated session over the given connection.
func newSession(conn *websocket.Conn, user protocol.UserSummary, config *SessionConfig, logger *slog.Logger) *Session {
	id := generateSessionID()
	s := &Session{
		ID:        id,
		UserID:    user.ID,
		User:      user,
		CreatedAt: time.Now(),
		conn:      conn,
		outbound:  make(chan *protocol.ServerMessage, config.SendQueueSize),
		done:      make(chan struct{}),
		config:    config,
		logger:    logger.With("session_id", id, "user_id", user.ID),
	}
	s.state.Store(int32(StateAuthenticated))
	s.touch()
	return s
}

// attach wires the session's collaborators before its loops start.
func (s *Session) attach(registry *Registry, presence *Presence) {
	s.registry = registry
	s.presence = presence
}

// releaseSubscriptions drops every registration the session holds and
// the presence reference paired with each. Holding subMu here means a
// concurrent subscribe either lands before the sweep, and is released
// by it, or after, and fails on the closed session.
func (s *Session) releaseSubscriptions() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.registry == nil {
		return
	}
	for _, ch := range s.registry.UnsubscribeAll(s) {
		if s.presence != nil {
			s.presence.Leave(ch, s.User)
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsClosed reports whether the session is closing or closed.
func (s *Session) IsClosed() bool {
	return s.State() >= StateClosing
}

// markActive transitions Authenticated → Active on the first successful
// subscription. Later calls are no-ops.
func (s *Session) markActive() {
	s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// touch refreshes the activity timestamp.
func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last inbound traffic.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Enqueue places a message on the outbound queue without blocking.
// Returns ErrSlowConsumer when the queue is full — the caller evicts
// the session — and ErrSessionClosed after teardown has begun.
func (s *Session) Enqueue(msg *protocol.ServerMessage) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}
	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// sendControl enqueues a control response to this session alone. A full
// queue here is the same slow-consumer condition as on the event path.
func (s *Session) sendControl(msgType string, data any) {
	if err := s.Enqueue(protocol.NewServerMessage(msgType, data)); err != nil {
		if err == ErrSlowConsumer {
			s.logger.Warn("control message dropped, evicting slow consumer", "type", msgType)
			go s.Close()
		}
	}
}

// sendError answers the offending session with an error message while
// the connection stays open.
func (s *Session) sendError(msgType, message string) {
	s.sendControl(msgType, protocol.ErrorData{Message: message})
}

// Close tears the session down exactly once. Safe to call concurrently
// from the error path, the eviction path, and explicit logout: the
// sequence is state → Closing, release registrations and presence,
// cancel both loops, close the socket, state → Closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)

		if s.onClose != nil {
			s.onClose(s)
		}

		// Best-effort close frame; the peer may already be gone.
		if s.conn != nil {
			s.writeMu.Lock()
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
			s.writeMu.Unlock()
		}

		s.state.Store(int32(StateClosed))
		s.logger.Info("session closed",
			"sent", s.msgsSent.Load(),
			"received", s.msgsRecv.Load())
	})
}

// Done exposes the shutdown signal, mainly for tests.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// QueueLen returns the number of undelivered outbound messages.
func (s *Session) QueueLen() int {
	return len(s.outbound)
}
