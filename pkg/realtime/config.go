package realtime

import (
	"net/http"
	"net/url"
	"time"

	"github.com/boardstream-dev/boardstream/pkg/auth"
)

// SessionConfig holds the per-session tunables. Every constant the
// protocol leaves open (queue capacity, typing idle window, heartbeat
// cadence) lives here rather than as hidden tuning.
type SessionConfig struct {
	// AuthGrace is how long a connection may sit in Connecting before
	// its first authenticate message. Default: 10 seconds.
	AuthGrace time.Duration

	// ReadTimeout is the read deadline, refreshed by any inbound
	// traffic including heartbeat pongs. At two missed heartbeats the
	// deadline expires and the session closes. Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the per-message write deadline. Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between server pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// IdleTimeout is how long a session may go without any activity
	// before the cleanup loop closes it. Default: 5 minutes.
	IdleTimeout time.Duration

	// SendQueueSize is the outbound queue capacity. A session whose
	// queue overflows is evicted as a slow consumer. Default: 128.
	SendQueueSize int

	// MaxMessageSize is the largest accepted inbound frame.
	// Default: 64KB.
	MaxMessageSize int64
}

// DefaultSessionConfig returns a SessionConfig with the documented
// defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		AuthGrace:         10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		SendQueueSize:     128,
		MaxMessageSize:    64 * 1024,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Config holds the server configuration.
type Config struct {
	// Address is the listen address. Default: ":8080".
	Address string

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the Origin header on upgrade.
	// Default: same-origin only.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig configures individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// MaxSessions caps concurrent sessions. 0 means no limit.
	MaxSessions int

	// TypingIdle is how long a typing indicator lives without a refresh
	// before user_stopped_typing is emitted automatically.
	// Default: 4 seconds.
	TypingIdle time.Duration

	// CleanupInterval is how often idle sessions are reaped.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Verifier validates handshake tokens. Required.
	Verifier auth.TokenVerifier

	// Authorizer answers channel membership checks on every subscribe.
	// Required.
	Authorizer Authorizer

	// Transport is the optional cross-process fan-out relay. Nil for
	// single-process deployments.
	Transport Transport

	// Middleware wraps the HTTP routes (metrics, tracing, logging).
	Middleware []func(http.Handler) http.Handler
}

// DefaultConfig returns a Config with the documented defaults. Verifier
// and Authorizer must still be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     SameOriginCheck,
		SessionConfig:   DefaultSessionConfig(),
		TypingIdle:      4 * time.Second,
		CleanupInterval: 30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// withDefaults fills unset fields in place and returns the config.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.SessionConfig == nil {
		c.SessionConfig = defaults.SessionConfig
	}
	if c.TypingIdle == 0 {
		c.TypingIdle = defaults.TypingIdle
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return c
}

// SameOriginCheck accepts upgrades whose Origin host matches the request
// host, and requests without an Origin header (curl, same-origin).
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
