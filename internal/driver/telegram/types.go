package telegram

import (
	"time"

	"ex-hermes/pkg/hermes"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeEdit identifies edited message updates.
	UpdateTypeEdit UpdateType = "edit"
	// UpdateTypeDelete identifies deleted message updates.
	UpdateTypeDelete UpdateType = "delete"
	// UpdateTypeReactionAdd identifies reaction add updates.
	UpdateTypeReactionAdd UpdateType = "reaction_add"
	// UpdateTypeReactionRemove identifies reaction remove updates.
	UpdateTypeReactionRemove UpdateType = "reaction_remove"
)

// Update is the adapter's platform DTO before neutral decoding.
//
// Delete updates for private chats and basic groups carry no chat; Chat.ID is
// empty and the journal restores it from remembered messages.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Edit       *EditPayload
	Delete     *DeletePayload
	Reaction   *ReactionPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  hermes.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
	IsSelf      bool
}

// MessagePayload is a Telegram message projection.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
	Entities  []hermes.TextEntity
	CreatedAt time.Time
	EditedAt  time.Time
}

// EditPayload carries the post-edit content; the pre-edit state is not part
// of Telegram edit updates.
type EditPayload struct {
	MessageID string
	Text      string
	Entities  []hermes.TextEntity
	CreatedAt time.Time
	EditedAt  time.Time
}

// DeletePayload identifies one deleted message.
type DeletePayload struct {
	MessageID string
}

// ReactionPayload carries one emoji reaction delta.
type ReactionPayload struct {
	MessageID string
	Emoji     string
}
