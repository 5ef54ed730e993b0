package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a client → server message.
type MessageType string

const (
	MsgAuthenticate  MessageType = "authenticate"
	MsgSubscribe     MessageType = "subscribe"
	MsgUnsubscribe   MessageType = "unsubscribe"
	MsgTyping        MessageType = "typing"
	MsgStoppedTyping MessageType = "stopped_typing"
	MsgPong          MessageType = "pong"
)

// Server → client control message types. Domain events reuse their
// EventType as the envelope type.
const (
	MsgAuthenticationSuccess = "authentication_success"
	MsgAuthenticationError   = "authentication_error"
	MsgSubscriptionSuccess   = "subscription_success"
	MsgSubscriptionError     = "subscription_error"
	MsgError                 = "error"
	MsgPing                  = "ping"
)

// ClientMessage is the decoded envelope of a client → server frame.
// Data is left raw; use the typed accessors to decode per message type.
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthenticateData is the payload of an authenticate message.
type AuthenticateData struct {
	Token string `json:"token"`
}

// SubscribeData is the payload of subscribe and unsubscribe messages.
type SubscribeData struct {
	Channel Channel `json:"channel"`
}

// TypingMsgData is the payload of typing and stopped_typing messages.
type TypingMsgData struct {
	TaskID string `json:"task_id"`
}

// DecodeClientMessage parses a raw text frame into a ClientMessage.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("protocol: malformed message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message missing type")
	}
	return &msg, nil
}

// Authenticate decodes the authenticate payload.
func (m *ClientMessage) Authenticate() (*AuthenticateData, error) {
	var data AuthenticateData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("protocol: malformed authenticate data: %w", err)
	}
	return &data, nil
}

// Subscription decodes the subscribe/unsubscribe payload.
func (m *ClientMessage) Subscription() (*SubscribeData, error) {
	var data SubscribeData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("protocol: malformed subscription data: %w", err)
	}
	if data.Channel.IsZero() {
		return nil, fmt.Errorf("protocol: subscription missing channel")
	}
	return &data, nil
}

// Typing decodes the typing/stopped_typing payload.
func (m *ClientMessage) Typing() (*TypingMsgData, error) {
	var data TypingMsgData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("protocol: malformed typing data: %w", err)
	}
	if data.TaskID == "" {
		return nil, fmt.Errorf("protocol: typing missing task_id")
	}
	return &data, nil
}

// ServerMessage is the server → client envelope. Channel and Sequence
// are set only on domain events; control messages omit them. Sequence
// is scoped to Channel: ordering holds within a channel, never across.
type ServerMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewServerMessage builds a control message envelope stamped with the
// current time.
func NewServerMessage(msgType string, data any) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventMessage wraps a domain event for delivery on one channel,
// carrying the sequence number assigned for that channel.
func NewEventMessage(event *DomainEvent, ch Channel) *ServerMessage {
	return &ServerMessage{
		Type:      string(event.Type),
		Data:      event.Payload,
		Channel:   ch.String(),
		Sequence:  event.SequenceFor(ch),
		Timestamp: event.Timestamp,
	}
}

// Encode renders the message as a JSON text frame.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ErrorData is the payload of authentication_error, subscription_error
// and error messages.
type ErrorData struct {
	Message string `json:"message"`
}

// AuthSuccessData is the payload of authentication_success.
type AuthSuccessData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SubscriptionSuccessData is the payload of subscription_success.
type SubscriptionSuccessData struct {
	Channel Channel `json:"channel"`
}

// EncodeDomainEvent renders a domain event for the fan-out transport.
func EncodeDomainEvent(event *DomainEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeDomainEvent parses a domain event received from the fan-out
// transport. The payload stays as decoded JSON; relayed events are
// delivered, never interpreted.
func DecodeDomainEvent(raw []byte) (*DomainEvent, error) {
	var event DomainEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("protocol: malformed domain event: %w", err)
	}
	if !IsDomainEvent(event.Type) {
		return nil, fmt.Errorf("protocol: unknown event type %q", event.Type)
	}
	return &event, nil
}
