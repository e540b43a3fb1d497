package telegram

import (
	"fmt"
	"slices"
	"time"

	"ex-hermes/pkg/hermes"
)

// decodeUpdate converts a Telegram update into a neutral event.
//
// The result is not validated: delete updates may still lack their
// conversation until the journal restores it.
func decodeUpdate(update Update) (*hermes.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode %s: missing message payload", update.Type)
		}
		event.Kind = hermes.EventKindMessageCreated
		event.Message = &hermes.Message{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
			Entities:  slices.Clone(update.Message.Entities),
			CreatedAt: update.Message.CreatedAt,
			EditedAt:  update.Message.EditedAt,
		}
	case UpdateTypeEdit:
		if update.Edit == nil {
			return nil, fmt.Errorf("decode %s: missing edit payload", update.Type)
		}
		event.Kind = hermes.EventKindMessageEdited
		event.Mutation = &hermes.Mutation{
			Type:            hermes.MutationTypeEdit,
			TargetMessageID: update.Edit.MessageID,
			After: &hermes.MessageSnapshot{
				Text:      update.Edit.Text,
				Entities:  slices.Clone(update.Edit.Entities),
				CreatedAt: update.Edit.CreatedAt,
				EditedAt:  update.Edit.EditedAt,
			},
		}
	case UpdateTypeDelete:
		if update.Delete == nil {
			return nil, fmt.Errorf("decode %s: missing delete payload", update.Type)
		}
		event.Kind = hermes.EventKindMessageRetracted
		event.Mutation = &hermes.Mutation{
			Type:            hermes.MutationTypeRetraction,
			TargetMessageID: update.Delete.MessageID,
		}
	case UpdateTypeReactionAdd, UpdateTypeReactionRemove:
		if update.Reaction == nil {
			return nil, fmt.Errorf("decode %s: missing reaction payload", update.Type)
		}
		event.Kind = hermes.EventKindReactionAdded
		action := hermes.ReactionActionAdd
		if update.Type == UpdateTypeReactionRemove {
			event.Kind = hermes.EventKindReactionRemoved
			action = hermes.ReactionActionRemove
		}
		event.Reaction = &hermes.Reaction{
			MessageID: update.Reaction.MessageID,
			Emoji:     update.Reaction.Emoji,
			Action:    action,
		}
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	return event, nil
}

func newBaseEvent(update Update) *hermes.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &hermes.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Source:     hermes.EventSource{Platform: DriverPlatform},
		Conversation: hermes.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: hermes.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
			IsSelf:      update.Actor.IsSelf,
		},
		Metadata: update.Metadata,
	}
}
