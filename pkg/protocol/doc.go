// Package protocol defines the wire protocol between task board clients
// and the realtime server.
//
// All messages travel as JSON text frames over a WebSocket connection.
// Client → server messages use the envelope {type, data}; server → client
// messages use {type, data, sequence?, timestamp}. The sequence field is
// present only on domain events and is strictly increasing per channel.
//
// # Channels
//
// Broadcast scope is expressed as a channel: a (kind, resource id) pair
// rendered as "project:<id>" or "task:<id>". Sessions subscribe to
// channels and receive every domain event published on them.
//
// # Domain events
//
// Domain events are a closed set of variants (task_created, task_moved,
// user_typing, ...), each with one concrete payload shape. The open-ended
// Metadata map exists for audit data only; routing and actor information
// are always typed fields.
package protocol
