package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession builds a session without a network connection. Tests
// that need the socket teardown path use the e2e server tests instead.
func newTestSession(id, userID string, queueSize int) *Session {
	s := &Session{
		ID:       id,
		UserID:   userID,
		User:     protocol.UserSummary{ID: userID, Username: userID},
		outbound: make(chan *protocol.ServerMessage, queueSize),
		done:     make(chan struct{}),
		config:   DefaultSessionConfig(),
		logger:   testLogger(),
	}
	s.state.Store(int32(StateAuthenticated))
	s.touch()
	return s
}

// allowAll authorizes every membership check.
var allowAll = AuthorizerFunc(func(context.Context, string, protocol.Channel) (bool, error) {
	return true, nil
})

// eventSink collects published events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []*protocol.DomainEvent
}

func (s *eventSink) publish(event *protocol.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) all() []*protocol.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) types() []protocol.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// drain empties a session's outbound queue.
func drain(t *testing.T, sess *Session) []*protocol.ServerMessage {
	t.Helper()
	var out []*protocol.ServerMessage
	for {
		select {
		case msg := <-sess.outbound:
			out = append(out, msg)
		default:
			return out
		}
	}
}
