package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boardstream-dev/boardstream/pkg/auth"
	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// Server ties the realtime core together: it upgrades connections,
// runs the authentication handshake, and owns the registry, presence
// tracker, broadcaster and session manager for its lifetime.
type Server struct {
	config   *Config
	upgrader websocket.Upgrader

	registry    *Registry
	presence    *Presence
	broadcaster *Broadcaster
	manager     *SessionManager

	router     chi.Router
	httpServer *http.Server

	transportCtx    context.Context
	transportCancel context.CancelFunc

	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a Server from the config. Verifier and Authorizer
// are required; metrics may be nil.
func NewServer(config *Config, metrics *Metrics, logger *slog.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.withDefaults()
	if config.Verifier == nil {
		return nil, fmt.Errorf("realtime: config requires a Verifier")
	}
	if config.Authorizer == nil {
		return nil, fmt.Errorf("realtime: config requires an Authorizer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		metrics: metrics,
		logger:  logger.With("component", "realtime_server"),
	}

	s.registry = NewRegistry(config.Authorizer, metrics, logger)
	s.broadcaster = NewBroadcaster(s.registry, config.Transport, metrics, logger)
	s.presence = NewPresence(s.broadcaster.Publish, config.TypingIdle, metrics, logger)
	s.manager = NewSessionManager(config.SessionConfig, config.MaxSessions, config.CleanupInterval, metrics, logger)
	s.manager.SetOnSessionClose(s.teardownSession)

	// A session evicted for backpressure goes through the same teardown
	// as any other close.
	s.broadcaster.SetEvictFunc(func(sess *Session) {
		go sess.Close()
	})

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:    config.Address,
		Handler: s.router,
	}

	return s, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	for _, mw := range s.config.Middleware {
		r.Use(mw)
	}
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler returns the HTTP handler, for mounting under an outer router
// or an httptest server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Broadcaster returns the fan-out hub. Mutation handlers publish
// through it after their durable commit.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Presence returns the presence tracker.
func (s *Server) Presence() *Presence {
	return s.presence
}

// Registry returns the subscription registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.manager
}

// teardownSession releases every registration and presence reference the
// session held. Runs exactly once per session via the manager.
func (s *Server) teardownSession(sess *Session) {
	sess.releaseSubscriptions()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.manager.Count())
}

// HandleWebSocket upgrades the connection and runs the authentication
// handshake. Until authentication_success nothing else is accepted: the
// token arrives either as a ?token= query parameter or as the first
// authenticate message within the grace window.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	claims, err := s.authenticate(r, conn)
	if err != nil {
		var authErr *AuthError
		reason := "authentication failed"
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		s.logger.Info("authentication rejected", "reason", reason, "remote", r.RemoteAddr)
		s.rejectConn(conn, reason)
		return
	}

	user := protocol.UserSummary{
		ID:       claims.UserID,
		Username: claims.Username,
	}

	sess, err := s.manager.Create(conn, user)
	if err != nil {
		if errors.Is(err, ErrMaxSessionsReached) {
			s.logger.Warn("session limit reached", "user_id", user.ID)
			s.rejectConn(conn, "server at capacity")
			return
		}
		s.logger.Error("session creation failed", "error", err)
		conn.Close()
		return
	}

	sess.attach(s.registry, s.presence)

	// Loops are not running yet, so writing directly is safe and
	// guarantees authentication_success precedes everything else.
	if err := s.writeDirect(conn, protocol.NewServerMessage(protocol.MsgAuthenticationSuccess, protocol.AuthSuccessData{
		UserID:    user.ID,
		SessionID: sess.ID,
	})); err != nil {
		sess.Close()
		return
	}

	sess.Start()
}

// authenticate resolves the handshake token: the ?token= query parameter
// wins; otherwise the first frame must be an authenticate message,
// arriving within AuthGrace.
func (s *Server) authenticate(r *http.Request, conn *websocket.Conn) (*auth.Claims, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return s.verify(r.Context(), token)
	}

	conn.SetReadLimit(s.config.SessionConfig.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.SessionConfig.AuthGrace))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, &AuthError{Reason: "authentication timeout", Err: err}
	}

	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		return nil, &AuthError{Reason: "malformed message", Err: err}
	}
	if msg.Type != protocol.MsgAuthenticate {
		return nil, &AuthError{Reason: "authentication required", Err: fmt.Errorf("realtime: got %q before authenticate", msg.Type)}
	}
	data, err := msg.Authenticate()
	if err != nil || data.Token == "" {
		return nil, &AuthError{Reason: "missing token", Err: err}
	}

	return s.verify(r.Context(), data.Token)
}

func (s *Server) verify(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.config.Verifier.Verify(ctx, token)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, &AuthError{Reason: reason, Err: err}
	}
	return claims, nil
}

// rejectConn answers a failed handshake and closes the socket. The
// error message is written best-effort; the peer may already be gone.
func (s *Server) rejectConn(conn *websocket.Conn, reason string) {
	s.writeDirect(conn, protocol.NewServerMessage(protocol.MsgAuthenticationError, protocol.ErrorData{Message: reason}))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
	conn.Close()
}

func (s *Server) writeDirect(conn *websocket.Conn, msg *protocol.ServerMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.SessionConfig.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Start connects the transport, if any, and serves HTTP until the
// listener fails or Shutdown runs.
func (s *Server) Start() error {
	if s.config.Transport != nil {
		s.transportCtx, s.transportCancel = context.WithCancel(context.Background())
		if err := AttachTransport(s.transportCtx, s.broadcaster, s.config.Transport); err != nil {
			return fmt.Errorf("realtime: transport start: %w", err)
		}
		s.logger.Info("fan-out transport attached", "origin", s.broadcaster.Origin())
	}

	s.logger.Info("server listening", "address", s.config.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every session, and
// detaches the transport. Bounded by ShutdownTimeout when the caller's
// context has no earlier deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", "active_sessions", s.manager.Count())

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	err := s.httpServer.Shutdown(ctx)

	s.manager.Shutdown()
	s.broadcaster.Close()

	if s.transportCancel != nil {
		s.transportCancel()
	}
	if s.config.Transport != nil {
		if cerr := s.config.Transport.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	s.logger.Info("shutdown complete")
	return err
}
