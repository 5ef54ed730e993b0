package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// Authorizer answers channel membership questions. It is the boundary
// to whatever owns the durable project/task data; the registry invokes
// it synchronously on every subscribe and never caches the answer,
// since roles can change between calls.
type Authorizer interface {
	IsProjectMember(ctx context.Context, userID, projectID string) (bool, error)
	IsTaskMember(ctx context.Context, userID, taskID string) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface, routing
// both kinds through one callback. Test helper.
type AuthorizerFunc func(ctx context.Context, userID string, ch protocol.Channel) (bool, error)

func (f AuthorizerFunc) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	return f(ctx, userID, protocol.ProjectChannel(projectID))
}

func (f AuthorizerFunc) IsTaskMember(ctx context.Context, userID, taskID string) (bool, error) {
	return f(ctx, userID, protocol.TaskChannel(taskID))
}

// Registry maps channels to their subscribed sessions. Channels exist
// implicitly: an entry appears with the first subscriber and vanishes
// with the last. Membership sets are mutated only through Subscribe,
// Unsubscribe and UnsubscribeAll.
type Registry struct {
	mu        sync.RWMutex
	channels  map[protocol.Channel]map[*Session]struct{}
	bySession map[*Session]map[protocol.Channel]struct{}

	authorizer Authorizer
	metrics    *Metrics
	logger     *slog.Logger
}

// NewRegistry creates a Registry backed by the given authorizer.
func NewRegistry(authorizer Authorizer, metrics *Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels:   make(map[protocol.Channel]map[*Session]struct{}),
		bySession:  make(map[*Session]map[protocol.Channel]struct{}),
		authorizer: authorizer,
		metrics:    metrics,
		logger:     logger.With("component", "registry"),
	}
}

// Subscribe adds the session to the channel after re-verifying channel
// membership with the authorizer. Idempotent: subscribing twice is a
// no-op. On denial nothing is mutated and ErrNotAMember is returned for
// the requester alone.
func (r *Registry) Subscribe(ctx context.Context, sess *Session, ch protocol.Channel) error {
	allowed, err := r.authorize(ctx, sess.UserID, ch)
	if err != nil {
		return fmt.Errorf("realtime: membership check for %s: %w", ch, err)
	}
	if !allowed {
		r.metrics.subscriptionDenied()
		return ErrNotAMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.IsClosed() {
		return ErrSessionClosed
	}

	members, ok := r.channels[ch]
	if !ok {
		members = make(map[*Session]struct{})
		r.channels[ch] = members
	}
	if _, exists := members[sess]; exists {
		return nil
	}
	members[sess] = struct{}{}

	chans, ok := r.bySession[sess]
	if !ok {
		chans = make(map[protocol.Channel]struct{})
		r.bySession[sess] = chans
	}
	chans[ch] = struct{}{}

	r.metrics.subscriptionAdded()
	r.logger.Debug("subscribed", "session_id", sess.ID, "user_id", sess.UserID, "channel", ch.String())
	return nil
}

func (r *Registry) authorize(ctx context.Context, userID string, ch protocol.Channel) (bool, error) {
	switch ch.Kind {
	case protocol.ChannelProject:
		return r.authorizer.IsProjectMember(ctx, userID, ch.ID)
	case protocol.ChannelTask:
		return r.authorizer.IsTaskMember(ctx, userID, ch.ID)
	default:
		return false, fmt.Errorf("realtime: unknown channel kind %q", ch.Kind)
	}
}

// Unsubscribe removes the session from the channel. Removing a channel
// the session never joined is a no-op. Unsubscribing from a project
// channel does not touch any task channels the session also holds.
func (r *Registry) Unsubscribe(sess *Session, ch protocol.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sess, ch)
}

// UnsubscribeAll removes every registration of the session and returns
// the channels it held, so the caller can decrement presence for each.
// Called exactly once from the session teardown path.
func (r *Registry) UnsubscribeAll(sess *Session) []protocol.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	chans := r.bySession[sess]
	if len(chans) == 0 {
		delete(r.bySession, sess)
		return nil
	}
	out := make([]protocol.Channel, 0, len(chans))
	for ch := range chans {
		out = append(out, ch)
		r.removeLocked(sess, ch)
	}
	return out
}

func (r *Registry) removeLocked(sess *Session, ch protocol.Channel) {
	members, ok := r.channels[ch]
	if !ok {
		return
	}
	if _, exists := members[sess]; !exists {
		return
	}
	delete(members, sess)
	if len(members) == 0 {
		delete(r.channels, ch)
	}

	if chans, ok := r.bySession[sess]; ok {
		delete(chans, ch)
		if len(chans) == 0 {
			delete(r.bySession, sess)
		}
	}
	r.metrics.subscriptionRemoved()
}

// Members returns a snapshot of the sessions subscribed to the channel.
func (r *Registry) Members(ch protocol.Channel) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[ch]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(members))
	for sess := range members {
		out = append(out, sess)
	}
	return out
}

// Channels returns a snapshot of the channels the session holds.
func (r *Registry) Channels(sess *Session) []protocol.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans := r.bySession[sess]
	if len(chans) == 0 {
		return nil
	}
	out := make([]protocol.Channel, 0, len(chans))
	for ch := range chans {
		out = append(out, ch)
	}
	return out
}

// IsSubscribed reports whether the session holds the channel.
func (r *Registry) IsSubscribed(sess *Session, ch protocol.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySession[sess][ch]
	return ok
}
