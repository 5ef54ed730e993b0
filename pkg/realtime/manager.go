package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// SessionManager owns the table of live sessions: creation, lookup,
// per-user indexing, the session limit, and the idle cleanup loop.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[*Session]struct{}

	config      *SessionConfig
	maxSessions int

	cleanupInterval time.Duration
	done            chan struct{}
	cleanupDone     chan struct{}
	shutdownOnce    sync.Once

	// onSessionClose runs after a session is removed from the table.
	// The server wires registry and presence teardown here.
	onSessionClose func(*Session)

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peakSessions int

	metrics *Metrics
	logger  *slog.Logger
}

// ManagerStats is a snapshot of session accounting.
type ManagerStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// NewSessionManager creates a SessionManager. maxSessions of 0 means no
// limit.
func NewSessionManager(config *SessionConfig, maxSessions int, cleanupInterval time.Duration, metrics *Metrics, logger *slog.Logger) *SessionManager {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	sm := &SessionManager{
		sessions:        make(map[string]*Session),
		byUser:          make(map[string]map[*Session]struct{}),
		config:          config,
		maxSessions:     maxSessions,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		metrics:         metrics,
		logger:          logger.With("component", "session_manager"),
	}

	go sm.cleanupLoop()

	return sm
}

// SetOnSessionClose sets the teardown callback invoked once per closed
// session, after removal from the table.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) {
	sm.onSessionClose = fn
}

// Create registers a new authenticated session for the connection.
func (sm *SessionManager) Create(conn *websocket.Conn, user protocol.UserSummary) (*Session, error) {
	sm.mu.Lock()

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}

	sess := newSession(conn, user, sm.config, sm.logger)
	sess.onClose = sm.handleClose

	sm.sessions[sess.ID] = sess
	userSet, ok := sm.byUser[user.ID]
	if !ok {
		userSet = make(map[*Session]struct{})
		sm.byUser[user.ID] = userSet
	}
	userSet[sess] = struct{}{}

	sm.totalCreated.Add(1)
	if len(sm.sessions) > sm.peakSessions {
		sm.peakSessions = len(sm.sessions)
	}
	active := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.sessionCreated()
	sm.logger.Info("session created",
		"session_id", sess.ID,
		"user_id", user.ID,
		"active_sessions", active)

	return sess, nil
}

// handleClose is the Session.onClose hook: removes the session from the
// table and runs the server's teardown callback. Runs exactly once per
// session (guarded by Session.closeOnce).
func (sm *SessionManager) handleClose(sess *Session) {
	sm.mu.Lock()
	if _, exists := sm.sessions[sess.ID]; exists {
		delete(sm.sessions, sess.ID)
		if userSet, ok := sm.byUser[sess.UserID]; ok {
			delete(userSet, sess)
			if len(userSet) == 0 {
				delete(sm.byUser, sess.UserID)
			}
		}
		sm.totalClosed.Add(1)
	}
	sm.mu.Unlock()

	sm.metrics.sessionClosed()
	if sm.onSessionClose != nil {
		sm.onSessionClose(sess)
	}
}

// Get returns the session with the given ID, or nil.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// ByUser returns a snapshot of the user's live sessions.
func (sm *SessionManager) ByUser(userID string) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	set := sm.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for sess := range set {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Stats returns a snapshot of session accounting.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return ManagerStats{
		Active:       len(sm.sessions),
		TotalCreated: sm.totalCreated.Load(),
		TotalClosed:  sm.totalClosed.Load(),
		Peak:         sm.peakSessions,
	}
}

// cleanupLoop reaps sessions idle past IdleTimeout.
func (sm *SessionManager) cleanupLoop() {
	defer close(sm.cleanupDone)

	ticker := time.NewTicker(sm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.reapIdle()
		case <-sm.done:
			return
		}
	}
}

func (sm *SessionManager) reapIdle() {
	cutoff := time.Now().Add(-sm.config.IdleTimeout)

	sm.mu.RLock()
	var idle []*Session
	for _, sess := range sm.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	sm.mu.RUnlock()

	for _, sess := range idle {
		sm.logger.Info("closing idle session",
			"session_id", sess.ID,
			"last_active", sess.LastActive())
		sess.Close()
	}
}

// Shutdown closes every session and stops the cleanup loop. Idempotent.
func (sm *SessionManager) Shutdown() {
	sm.shutdownOnce.Do(func() {
		close(sm.done)
		<-sm.cleanupDone

		sm.mu.RLock()
		sessions := make([]*Session, 0, len(sm.sessions))
		for _, sess := range sm.sessions {
			sessions = append(sessions, sess)
		}
		sm.mu.RUnlock()

		for _, sess := range sessions {
			sess.Close()
		}
	})
}
