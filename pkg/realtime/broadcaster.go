package realtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// channelState carries the per-channel publish serialization point: the
// sequence counter and the lock that makes every publish on one channel
// a single writer. Different channels publish concurrently.
type channelState struct {
	mu  sync.Mutex
	seq uint64
}

// relayQueueSize bounds the backlog of events awaiting transport
// publication.
const relayQueueSize = 1024

// Broadcaster is the fan-out hub. Mutation handlers call Publish after
// a durable commit; the broadcaster resolves subscribers through the
// registry, assigns per-channel sequence numbers, skips the acting
// user's own sessions, and enqueues without ever blocking on a slow
// subscriber. With a Transport configured, locally published events are
// relayed to other processes carrying their assigned sequences.
type Broadcaster struct {
	registry  *Registry
	transport Transport

	// origin tags events published by this broadcaster so a relayed
	// event is never forwarded back onto the transport (loop
	// prevention).
	origin string

	// publishMu makes sequence assignment and the relay hand-off one
	// atomic step: the bus must carry events in per-channel sequence
	// order, and the per-channel locks alone cannot order the hand-off
	// of two publishes racing on the same channel.
	publishMu sync.Mutex

	statesMu sync.RWMutex
	states   map[protocol.Channel]*channelState

	// relayCh feeds the single relay worker, which publishes to the
	// transport in hand-off order. Nil without a transport.
	relayCh   chan *protocol.DomainEvent
	relayDone chan struct{}
	closeOnce sync.Once

	// evict is called with a session whose outbound queue overflowed.
	// Wired to the session manager by the server; defaults to closing
	// the session directly.
	evict func(*Session)

	metrics *Metrics
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster over the given registry.
// transport may be nil for single-process deployments.
func NewBroadcaster(registry *Registry, transport Transport, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		registry:  registry,
		transport: transport,
		origin:    newOriginID(),
		states:    make(map[protocol.Channel]*channelState),
		metrics:   metrics,
		logger:    logger.With("component", "broadcaster"),
	}
	b.evict = func(sess *Session) {
		go sess.Close()
	}
	if transport != nil {
		b.relayCh = make(chan *protocol.DomainEvent, relayQueueSize)
		b.relayDone = make(chan struct{})
		go b.relayLoop()
	}
	return b
}

// relayLoop is the only writer to the transport. Draining the queue
// from one goroutine preserves the hand-off order on the bus.
func (b *Broadcaster) relayLoop() {
	for {
		select {
		case event := <-b.relayCh:
			if err := b.transport.Publish(context.Background(), event); err != nil {
				b.logger.Error("transport publish failed", "error", err, "type", string(event.Type))
				continue
			}
			b.metrics.transportRelayed()
		case <-b.relayDone:
			return
		}
	}
}

// Close stops the relay worker. Events still queued are dropped; a
// broadcaster without a transport has nothing to stop.
func (b *Broadcaster) Close() {
	if b.relayDone == nil {
		return
	}
	b.closeOnce.Do(func() {
		close(b.relayDone)
	})
}

// newOriginID generates the broadcaster's process-unique origin tag.
func newOriginID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("realtime: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Origin returns the broadcaster's origin tag.
func (b *Broadcaster) Origin() string { return b.origin }

// SetEvictFunc replaces the slow-consumer eviction hook.
func (b *Broadcaster) SetEvictFunc(fn func(*Session)) {
	if fn != nil {
		b.evict = fn
	}
}

func (b *Broadcaster) state(ch protocol.Channel) *channelState {
	b.statesMu.RLock()
	cs, ok := b.states[ch]
	b.statesMu.RUnlock()
	if ok {
		return cs
	}

	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	if cs, ok = b.states[ch]; ok {
		return cs
	}
	cs = &channelState{}
	b.states[ch] = cs
	return cs
}

// Publish broadcasts a locally originated domain event. It never blocks
// and never fails: a full subscriber queue evicts that one session.
func (b *Broadcaster) Publish(event *protocol.DomainEvent) {
	b.deliver(event, true)
}

// deliverRemote delivers an event received from the transport to local
// subscribers. It is never re-forwarded.
func (b *Broadcaster) deliverRemote(event *protocol.DomainEvent) {
	b.deliver(event, false)
}

func (b *Broadcaster) deliver(event *protocol.DomainEvent, local bool) {
	if event == nil || len(event.Channels) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if !local {
		for _, ch := range event.Channels {
			cs := b.state(ch)
			cs.mu.Lock()
			if seq := event.SequenceFor(ch); seq > cs.seq {
				// Keep the local counter ahead of relayed sequences so a
				// later local publish on this channel stays monotonic.
				cs.seq = seq
			}
			b.fanOut(event, ch, false)
			cs.mu.Unlock()
		}
		return
	}

	event.Origin = b.origin
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Sequences == nil {
		event.Sequences = make(map[string]uint64, len(event.Channels))
	}
	b.metrics.eventPublished(string(event.Type))

	b.publishMu.Lock()
	for _, ch := range event.Channels {
		cs := b.state(ch)
		cs.mu.Lock()
		cs.seq++
		event.Sequences[ch.String()] = cs.seq
		b.fanOut(event, ch, true)
		cs.mu.Unlock()
	}
	if b.relayCh != nil {
		select {
		case b.relayCh <- event:
		default:
			b.metrics.eventDropped()
			b.logger.Error("relay queue full, dropping event", "type", string(event.Type))
		}
	}
	b.publishMu.Unlock()
}

// fanOut enqueues the event on the channel's subscribers. Called with
// the channel's lock held.
func (b *Broadcaster) fanOut(event *protocol.DomainEvent, ch protocol.Channel, local bool) {
	members := b.registry.Members(ch)
	msg := protocol.NewEventMessage(event, ch)

	for _, sess := range members {
		// The actor's own sessions already hold the optimistic
		// local result; exclusion applies only where the action
		// originated.
		if local && event.ActorID != "" && sess.UserID == event.ActorID {
			continue
		}
		if err := sess.Enqueue(msg); err != nil {
			if errors.Is(err, ErrSlowConsumer) {
				b.metrics.eventDropped()
				b.metrics.slowConsumerEvicted()
				b.logger.Warn("evicting slow consumer",
					"session_id", sess.ID,
					"user_id", sess.UserID,
					"channel", ch.String())
				b.evict(sess)
			}
			continue
		}
		b.metrics.eventDelivered()
	}
}

// Sequence returns the last sequence number assigned on the channel.
func (b *Broadcaster) Sequence(ch protocol.Channel) uint64 {
	cs := b.state(ch)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.seq
}
