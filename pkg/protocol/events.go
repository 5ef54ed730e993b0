package protocol

import (
	"time"
)

// EventType tags a domain event variant.
type EventType string

const (
	// Task events.
	EventTaskCreated EventType = "task_created"
	EventTaskUpdated EventType = "task_updated"
	EventTaskMoved   EventType = "task_moved"
	EventTaskDeleted EventType = "task_deleted"

	// Board events.
	EventBoardCreated EventType = "board_created"
	EventBoardUpdated EventType = "board_updated"
	EventBoardDeleted EventType = "board_deleted"

	// Comment events.
	EventCommentCreated EventType = "comment_created"
	EventCommentDeleted EventType = "comment_deleted"

	// Presence events.
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
)

// domainEventTypes is the closed set of broadcastable variants.
var domainEventTypes = map[EventType]struct{}{
	EventTaskCreated:       {},
	EventTaskUpdated:       {},
	EventTaskMoved:         {},
	EventTaskDeleted:       {},
	EventBoardCreated:      {},
	EventBoardUpdated:      {},
	EventBoardDeleted:      {},
	EventCommentCreated:    {},
	EventCommentDeleted:    {},
	EventUserJoined:        {},
	EventUserLeft:          {},
	EventUserTyping:        {},
	EventUserStoppedTyping: {},
}

// IsDomainEvent reports whether t is a broadcastable domain event variant.
func IsDomainEvent(t EventType) bool {
	_, ok := domainEventTypes[t]
	return ok
}

// DomainEvent is an immutable record of a committed state change,
// handed to the broadcaster by a mutation handler after a durable write.
//
// Channels lists every broadcast scope the event targets (a task event
// typically targets both its project channel and its task channel).
// ActorID carries the user who caused the change so the broadcaster can
// skip echoing the event back to that user's own sessions.
type DomainEvent struct {
	// ID uniquely identifies the event across processes and reconnects,
	// assigned at first publish. Clients may use it for dedupe.
	ID string `json:"event_id,omitempty"`

	Type     EventType `json:"type"`
	Channels []Channel `json:"channels"`
	ActorID  string    `json:"actor_id"`

	// Payload is the variant's snapshot data: one of the *Data structs
	// below for locally constructed events, or a decoded map for events
	// that arrived over the fan-out transport (the relay never
	// interprets payloads).
	Payload any `json:"payload"`

	// Sequences holds the per-channel sequence numbers assigned at
	// broadcast time, keyed by channel wire form. Events relayed across
	// processes keep their original numbers so every subscriber observes
	// the same order.
	Sequences map[string]uint64 `json:"sequences,omitempty"`

	// Origin tags the broadcaster instance that first published the
	// event. A process never re-forwards an event carrying its own
	// origin back onto the transport.
	Origin string `json:"origin,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Metadata carries open-ended audit data only. Nothing the core
	// interprets may live here.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SequenceFor returns the sequence assigned for the given channel, or 0
// if the event has not been sequenced on it.
func (e *DomainEvent) SequenceFor(ch Channel) uint64 {
	if e.Sequences == nil {
		return 0
	}
	return e.Sequences[ch.String()]
}

// UserSummary is the compact user representation embedded in payloads.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// TaskSnapshot is the task state carried by task events. The durable
// store owns the full schema; this is the broadcast view of it.
type TaskSnapshot struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	BoardID     string    `json:"board_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	Position    string    `json:"position"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BoardSnapshot is the board state carried by board events.
type BoardSnapshot struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentSnapshot is the comment state carried by comment events.
type CommentSnapshot struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Body      string    `json:"body"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskEventData is the payload for task_created and task_updated.
type TaskEventData struct {
	Task      TaskSnapshot `json:"task"`
	ProjectID string       `json:"project_id"`
	User      UserSummary  `json:"user"`
}

// TaskMovedData is the payload for task_moved. Position is the canonical
// key the server committed; clients replace their optimistic key with it.
type TaskMovedData struct {
	TaskID     string      `json:"task_id"`
	ProjectID  string      `json:"project_id"`
	FromStatus string      `json:"from_status"`
	ToStatus   string      `json:"to_status"`
	Position   string      `json:"position"`
	User       UserSummary `json:"user"`
}

// TaskDeletedData is the payload for task_deleted.
type TaskDeletedData struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// BoardEventData is the payload for board_created and board_updated.
type BoardEventData struct {
	Board     BoardSnapshot `json:"board"`
	ProjectID string        `json:"project_id"`
	User      UserSummary   `json:"user"`
}

// BoardDeletedData is the payload for board_deleted.
type BoardDeletedData struct {
	BoardID   string `json:"board_id"`
	ProjectID string `json:"project_id"`
}

// CommentEventData is the payload for comment_created.
type CommentEventData struct {
	Comment   CommentSnapshot `json:"comment"`
	TaskID    string          `json:"task_id"`
	ProjectID string          `json:"project_id"`
	User      UserSummary     `json:"user"`
}

// CommentDeletedData is the payload for comment_deleted.
type CommentDeletedData struct {
	CommentID string `json:"comment_id"`
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// PresenceData is the payload for user_joined and user_left.
type PresenceData struct {
	User      UserSummary `json:"user"`
	Channel   Channel     `json:"channel"`
	Timestamp time.Time   `json:"timestamp"`
}

// TypingData is the payload for user_typing and user_stopped_typing.
type TypingData struct {
	User      UserSummary `json:"user"`
	TaskID    string      `json:"task_id"`
	Channel   Channel     `json:"channel"`
	Timestamp time.Time   `json:"timestamp"`
}
