package protocol

import (
	"fmt"
	"strings"
)

// ChannelKind identifies the resource type a channel broadcasts about.
type ChannelKind string

const (
	ChannelProject ChannelKind = "project"
	ChannelTask    ChannelKind = "task"
)

// Valid reports whether the kind is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	return k == ChannelProject || k == ChannelTask
}

// Channel is a logical broadcast scope keyed by (kind, resource id).
// A channel exists implicitly while at least one session is subscribed;
// it carries no state of its own beyond membership.
type Channel struct {
	Kind ChannelKind
	ID   string
}

// ProjectChannel returns the channel for a project board.
func ProjectChannel(projectID string) Channel {
	return Channel{Kind: ChannelProject, ID: projectID}
}

// TaskChannel returns the channel for a task detail view.
func TaskChannel(taskID string) Channel {
	return Channel{Kind: ChannelTask, ID: taskID}
}

// String renders the channel in its wire form, e.g. "project:42".
func (c Channel) String() string {
	return string(c.Kind) + ":" + c.ID
}

// IsZero reports whether the channel is the zero value.
func (c Channel) IsZero() bool {
	return c.Kind == "" && c.ID == ""
}

// MarshalText implements encoding.TextMarshaler so channels serialize as
// their wire form inside JSON payloads and map keys.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChannel parses a channel from its wire form.
func ParseChannel(s string) (Channel, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Channel{}, fmt.Errorf("protocol: malformed channel %q", s)
	}
	k := ChannelKind(kind)
	if !k.Valid() {
		return Channel{}, fmt.Errorf("protocol: unknown channel kind %q", kind)
	}
	return Channel{Kind: k, ID: id}, nil
}
