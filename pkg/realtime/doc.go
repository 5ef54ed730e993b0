// Package realtime is the synchronization core of the task board: it
// turns committed mutations into ordered, authorized broadcasts to every
// interested WebSocket session.
//
// # Components
//
//   - Session: one authenticated connection with a read loop, a write
//     loop, and a bounded outbound queue.
//   - Registry: maps channels (project, task) to subscribed sessions and
//     re-checks authorization on every subscribe.
//   - Broadcaster: assigns per-channel sequence numbers, excludes the
//     acting user's own sessions, fans out without ever blocking, and
//     relays across processes through an optional Transport.
//   - Presence: reference-counted join/leave state per (channel, user)
//     with auto-expiring typing indicators.
//   - SessionManager: owns the live session table and its limits.
//   - Server: chi-routed HTTP front with the /ws upgrade endpoint.
//
// The durable store, CRUD handlers, and token minting are external
// collaborators. Mutation handlers publish a domain event only after a
// durable commit; the core never broadcasts uncommitted state.
//
// # Backpressure
//
// Publish is fire-and-forget into per-session bounded queues. A session
// that cannot drain its queue is evicted (slow consumer) rather than
// allowed to stall fan-out to anyone else.
package realtime
