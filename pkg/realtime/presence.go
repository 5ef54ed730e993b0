package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

type presenceKey struct {
	channel protocol.Channel
	userID  string
}

type presenceEntry struct {
	user       protocol.UserSummary
	refs       int
	lastTyping time.Time
}

type typingKey struct {
	channel protocol.Channel
	userID  string
	taskID  string
}

type typingState struct {
	user  protocol.UserSummary
	timer *time.Timer

	// deadline is the expiry instant as of the latest refresh. The
	// expiry callback re-checks it under the lock: a timer that fired
	// concurrently with a refresh must not kill the refreshed
	// indicator.
	deadline time.Time
}

// Presence tracks which users are live on which channels. Each entry
// reference-counts the user's concurrent sessions: user_joined fires
// only on the 0→1 transition and user_left only on 1→0, so three open
// tabs produce exactly one join. Typing indicators auto-expire after
// the idle window, so a client that crashes mid-typing never leaves a
// stale indicator behind.
//
// Presence events flow through the same publish path as every other
// domain event; publish is injected to keep the tracker decoupled from
// the broadcaster.
type Presence struct {
	mu      sync.Mutex
	entries map[presenceKey]*presenceEntry
	typing  map[typingKey]*typingState

	publish    func(*protocol.DomainEvent)
	typingIdle time.Duration
	metrics    *Metrics
	logger     *slog.Logger
}

// NewPresence creates a Presence tracker. publish is invoked for every
// emitted presence event; typingIdle is the auto-expiry window.
func NewPresence(publish func(*protocol.DomainEvent), typingIdle time.Duration, metrics *Metrics, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	if typingIdle <= 0 {
		typingIdle = 4 * time.Second
	}
	return &Presence{
		entries:    make(map[presenceKey]*presenceEntry),
		typing:     make(map[typingKey]*typingState),
		publish:    publish,
		typingIdle: typingIdle,
		metrics:    metrics,
		logger:     logger.With("component", "presence"),
	}
}

// Join increments the user's reference count on the channel, emitting
// user_joined only when the count transitions from zero.
func (p *Presence) Join(ch protocol.Channel, user protocol.UserSummary) {
	p.mu.Lock()
	key := presenceKey{channel: ch, userID: user.ID}
	entry, ok := p.entries[key]
	if !ok {
		entry = &presenceEntry{user: user}
		p.entries[key] = entry
	}
	entry.refs++
	joined := entry.refs == 1
	p.mu.Unlock()

	if !joined {
		return
	}
	p.metrics.presenceJoined()
	p.publish(&protocol.DomainEvent{
		Type:     protocol.EventUserJoined,
		Channels: []protocol.Channel{ch},
		ActorID:  user.ID,
		Payload: protocol.PresenceData{
			User:      user,
			Channel:   ch,
			Timestamp: time.Now().UTC(),
		},
	})
}

// Leave decrements the user's reference count on the channel, emitting
// user_left only when the count reaches zero. Counts never go negative:
// a leave without a matching join is a no-op.
func (p *Presence) Leave(ch protocol.Channel, user protocol.UserSummary) {
	p.mu.Lock()
	key := presenceKey{channel: ch, userID: user.ID}
	entry, ok := p.entries[key]
	if !ok || entry.refs == 0 {
		p.mu.Unlock()
		return
	}
	entry.refs--
	left := entry.refs == 0
	var expired *typingState
	var expiredTask string
	if left {
		delete(p.entries, key)
		// The user's last session is gone; any live typing indicator
		// on this channel must not linger.
		for tk, ts := range p.typing {
			if tk.channel == ch && tk.userID == user.ID {
				ts.timer.Stop()
				delete(p.typing, tk)
				expired = ts
				expiredTask = tk.taskID
			}
		}
	}
	p.mu.Unlock()

	if !left {
		return
	}
	p.metrics.presenceLeft()
	if expired != nil {
		p.emitStoppedTyping(ch, expired.user, expiredTask)
	}
	p.publish(&protocol.DomainEvent{
		Type:     protocol.EventUserLeft,
		Channels: []protocol.Channel{ch},
		ActorID:  user.ID,
		Payload: protocol.PresenceData{
			User:      user,
			Channel:   ch,
			Timestamp: time.Now().UTC(),
		},
	})
}

// Typing emits user_typing immediately and arms the auto-expiry timer.
// A repeated call refreshes the timer instead of emitting a duplicate
// indicator lifecycle.
func (p *Presence) Typing(ch protocol.Channel, user protocol.UserSummary, taskID string) {
	key := typingKey{channel: ch, userID: user.ID, taskID: taskID}

	p.mu.Lock()
	if entry, ok := p.entries[presenceKey{channel: ch, userID: user.ID}]; ok {
		entry.lastTyping = time.Now()
	}
	if ts, ok := p.typing[key]; ok {
		ts.deadline = time.Now().Add(p.typingIdle)
		ts.timer.Reset(p.typingIdle)
		p.mu.Unlock()
		return
	}
	ts := &typingState{user: user, deadline: time.Now().Add(p.typingIdle)}
	ts.timer = time.AfterFunc(p.typingIdle, func() {
		p.expireTyping(key)
	})
	p.typing[key] = ts
	p.mu.Unlock()

	p.publish(&protocol.DomainEvent{
		Type:     protocol.EventUserTyping,
		Channels: []protocol.Channel{ch},
		ActorID:  user.ID,
		Payload: protocol.TypingData{
			User:      user,
			TaskID:    taskID,
			Channel:   ch,
			Timestamp: time.Now().UTC(),
		},
	})
}

// StopTyping cancels the indicator and emits user_stopped_typing. A stop
// without a live indicator is a no-op.
func (p *Presence) StopTyping(ch protocol.Channel, user protocol.UserSummary, taskID string) {
	key := typingKey{channel: ch, userID: user.ID, taskID: taskID}

	p.mu.Lock()
	ts, ok := p.typing[key]
	if ok {
		ts.timer.Stop()
		delete(p.typing, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	p.emitStoppedTyping(ch, user, taskID)
}

// expireTyping is the timer callback for an indicator that was never
// explicitly stopped.
func (p *Presence) expireTyping(key typingKey) {
	p.mu.Lock()
	ts, ok := p.typing[key]
	if ok {
		// A refresh that won the lock against this fired timer already
		// moved the deadline; honor it and re-arm instead of expiring.
		if remaining := time.Until(ts.deadline); remaining > 0 {
			ts.timer.Reset(remaining)
			p.mu.Unlock()
			return
		}
		delete(p.typing, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	p.metrics.typingAutoExpired()
	p.logger.Debug("typing indicator expired", "user_id", key.userID, "task_id", key.taskID)
	p.emitStoppedTyping(key.channel, ts.user, key.taskID)
}

func (p *Presence) emitStoppedTyping(ch protocol.Channel, user protocol.UserSummary, taskID string) {
	p.publish(&protocol.DomainEvent{
		Type:     protocol.EventUserStoppedTyping,
		Channels: []protocol.Channel{ch},
		ActorID:  user.ID,
		Payload: protocol.TypingData{
			User:      user,
			TaskID:    taskID,
			Channel:   ch,
			Timestamp: time.Now().UTC(),
		},
	})
}

// Count returns the user's live session count on the channel.
func (p *Presence) Count(ch protocol.Channel, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[presenceKey{channel: ch, userID: userID}]
	if !ok {
		return 0
	}
	return entry.refs
}

// Users returns the users currently present on the channel.
func (p *Presence) Users(ch protocol.Channel) []protocol.UserSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.UserSummary
	for key, entry := range p.entries {
		if key.channel == ch && entry.refs > 0 {
			out = append(out, entry.user)
		}
	}
	return out
}
