package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// Transport relays domain events between server processes so that a
// horizontally scaled deployment forms one logical broadcast domain.
// A single-process deployment runs without one.
type Transport interface {
	// Publish forwards a locally published event, carrying its already
	// assigned per-channel sequence numbers.
	Publish(ctx context.Context, event *protocol.DomainEvent) error

	// Start begins consuming relayed events, invoking handler for each
	// until ctx is cancelled. The handler receives every event on the
	// bus including this process's own; callers filter by origin.
	Start(ctx context.Context, handler func(*protocol.DomainEvent)) error

	// Close releases transport resources.
	Close() error
}

// DefaultBusChannel is the redis pub/sub channel the transport uses.
const DefaultBusChannel = "boardstream:events"

// RedisTransport relays events over a redis pub/sub channel. Every
// process publishes to and subscribes from one bus channel; receivers
// drop events tagged with their own broadcaster origin.
type RedisTransport struct {
	client *redis.Client
	bus    string
	logger *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisTransport creates a transport over the given client. An empty
// bus uses DefaultBusChannel.
func NewRedisTransport(client *redis.Client, bus string, logger *slog.Logger) *RedisTransport {
	if bus == "" {
		bus = DefaultBusChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{
		client: client,
		bus:    bus,
		logger: logger.With("component", "redis_transport"),
	}
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, event *protocol.DomainEvent) error {
	payload, err := protocol.EncodeDomainEvent(event)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.bus, payload).Err()
}

// Start implements Transport. It subscribes to the bus and dispatches
// decoded events to handler until ctx is cancelled. Malformed messages
// are logged and skipped; the relay never interprets payloads.
func (t *RedisTransport) Start(ctx context.Context, handler func(*protocol.DomainEvent)) error {
	t.mu.Lock()
	t.pubsub = t.client.Subscribe(ctx, t.bus)
	pubsub := t.pubsub
	t.mu.Unlock()

	// Force the subscription to be established before returning so a
	// caller can publish immediately after Start.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := protocol.DecodeDomainEvent([]byte(msg.Payload))
				if err != nil {
					t.logger.Warn("dropping malformed relay message", "error", err)
					continue
				}
				handler(event)
			}
		}
	}()
	return nil
}

// Close implements Transport.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub != nil {
		if err := t.pubsub.Close(); err != nil {
			return err
		}
		t.pubsub = nil
	}
	return nil
}

// AttachTransport wires a broadcaster to a transport: relayed events
// from other origins are delivered to local subscribers, never
// re-forwarded. Events carrying this broadcaster's own origin are
// dropped on receipt.
func AttachTransport(ctx context.Context, b *Broadcaster, t Transport) error {
	return t.Start(ctx, func(event *protocol.DomainEvent) {
		if event.Origin == b.Origin() {
			return
		}
		b.deliverRemote(event)
	})
}
