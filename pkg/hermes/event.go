package hermes

import (
	"fmt"
	"time"
)

// EventKind names what happened to a message.
type EventKind string

// Event kinds published by drivers.
const (
	EventKindMessageCreated   EventKind = "message.created"
	EventKindMessageEdited    EventKind = "message.edited"
	EventKindMessageRetracted EventKind = "message.retracted"
	EventKindReactionAdded    EventKind = "reaction.added"
	EventKindReactionRemoved  EventKind = "reaction.removed"
)

// Platform names a chat network.
type Platform string

// PlatformTelegram is the only platform with a built-in driver.
const PlatformTelegram Platform = "telegram"

// ConversationType classifies a chat.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource names the driver instance an event came from.
type EventSource struct {
	Platform Platform
	// ID is the driver name from configuration.
	ID string
}

// EventSink names the driver instance that should carry an outbound request.
type EventSink struct {
	Platform Platform
	// ID is the driver name from configuration.
	ID string
}

// Event is the envelope drivers publish and modules consume.
//
// Exactly one of Message, Mutation and Reaction is set, depending on Kind.
// Edits and retractions carry a Mutation whose Before snapshot is filled in
// when the driver still remembers the message.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	Source     EventSource

	Conversation Conversation
	// Actor is the author of the message, or the user who reacted. Drivers
	// fill it from their message store for retractions when they can.
	Actor Actor

	Message  *Message
	Mutation *Mutation
	Reaction *Reaction

	// Metadata holds raw driver details, such as update ids, for logging.
	Metadata map[string]string
}

// Conversation is the chat an event belongs to.
type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor is a platform account.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
	// IsSelf is set for the account the driver itself is logged in as.
	IsSelf bool
}

// Automated reports whether messages from this actor must never be treated as originals.
func (a Actor) Automated() bool {
	return a.IsBot || a.IsSelf
}

// Message is a newly posted message.
type Message struct {
	ID        string
	ReplyToID string
	Text      string
	// Entities are formatted ranges of Text, measured in code points.
	Entities  []TextEntity
	CreatedAt time.Time
	// EditedAt is zero for messages that were never edited.
	EditedAt time.Time
}

// Snapshot captures the mutable state of this message.
func (m *Message) Snapshot() *MessageSnapshot {
	if m == nil {
		return nil
	}

	return &MessageSnapshot{
		Text:      m.Text,
		Entities:  cloneTextEntities(m.Entities),
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}

// MutationType tells edits from retractions.
type MutationType string

const (
	MutationTypeEdit       MutationType = "edit"
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation describes a change to an existing message.
type Mutation struct {
	Type            MutationType
	TargetMessageID string
	// Before is nil when the driver never saw the message.
	Before *MessageSnapshot
	// After is nil for retractions.
	After *MessageSnapshot
}

// MessageSnapshot is the content of a message at one point in time.
type MessageSnapshot struct {
	Text      string
	Entities  []TextEntity
	CreatedAt time.Time
	EditedAt  time.Time
}

// ReactionAction tells added reactions from removed ones.
type ReactionAction string

const (
	ReactionActionAdd    ReactionAction = "add"
	ReactionActionRemove ReactionAction = "remove"
)

// Reaction is one emoji put on or taken off a message.
type Reaction struct {
	MessageID string
	Emoji     string
	Action    ReactionAction
}

// Validate reports an ErrInvalidEvent when required fields for Kind are missing.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
		if e.Message.ID == "" {
			return fmt.Errorf("%w: message.created requires message id", ErrInvalidEvent)
		}
	case EventKindMessageEdited, EventKindMessageRetracted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: mutation event requires mutation payload", ErrInvalidEvent)
		}
		if e.Mutation.TargetMessageID == "" {
			return fmt.Errorf("%w: mutation event requires target message id", ErrInvalidEvent)
		}
		if e.Kind == EventKindMessageEdited && e.Mutation.After == nil {
			return fmt.Errorf("%w: message.edited requires after snapshot", ErrInvalidEvent)
		}
	case EventKindReactionAdded, EventKindReactionRemoved:
		if e.Reaction == nil {
			return fmt.Errorf("%w: reaction event requires reaction payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// MessageRef returns the identity of the message this event is about.
func (e *Event) MessageRef() (MessageRef, bool) {
	if e == nil {
		return MessageRef{}, false
	}

	var messageID string
	switch {
	case e.Message != nil:
		messageID = e.Message.ID
	case e.Mutation != nil:
		messageID = e.Mutation.TargetMessageID
	case e.Reaction != nil:
		messageID = e.Reaction.MessageID
	}
	if messageID == "" || e.Conversation.ID == "" {
		return MessageRef{}, false
	}

	return MessageRef{
		SinkID:         e.Source.ID,
		ConversationID: e.Conversation.ID,
		MessageID:      messageID,
	}, true
}
