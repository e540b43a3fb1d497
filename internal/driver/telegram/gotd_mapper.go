package telegram

import (
	"strconv"
	"strings"
	"time"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tg"
)

// gotdUpdateMapper maps flattened gotd envelopes into adapter updates and
// teaches the peer cache every peer it sees.
type gotdUpdateMapper struct {
	peers *PeerCache
}

func newGotdUpdateMapper(peers *PeerCache) gotdUpdateMapper {
	return gotdUpdateMapper{peers: peers}
}

// Map converts one envelope. The accepted flag is false for update classes
// the driver does not surface.
func (m gotdUpdateMapper) Map(envelope gotdUpdateEnvelope) (Update, bool, error) {
	m.peers.RememberEnvelope(envelope)

	if envelope.reaction != nil {
		return m.mapReactionDelta(envelope)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateEditMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateEditChannelMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateDeleteMessages:
		return mapDeleteMessages(update, envelope)
	case *tg.UpdateDeleteChannelMessages:
		return m.mapDeleteChannelMessages(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func (m gotdUpdateMapper) mapNewMessage(raw tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	message, ok := raw.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat, actor := m.resolveMessageContext(message, envelope)
	payload := &MessagePayload{
		ID:        strconv.Itoa(message.ID),
		Text:      message.Message,
		Entities:  mapInboundTextEntities(message.Message, message.Entities),
		CreatedAt: intToTimeUTC(message.Date),
	}
	if editDate, ok := message.GetEditDate(); ok {
		payload.EditedAt = intToTimeUTC(editDate)
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToMessageID)
			}
		}
	}

	occurredAt := firstNonZeroTime(payload.CreatedAt, envelope.occurredAt)

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, payload.ID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m gotdUpdateMapper) mapEditMessage(raw tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	message, ok := raw.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}
	// Reaction changes on user accounts arrive as hidden edits.
	if message.EditHide {
		return Update{}, false, nil
	}

	chat, actor := m.resolveMessageContext(message, envelope)
	edit := &EditPayload{
		MessageID: strconv.Itoa(message.ID),
		Text:      message.Message,
		Entities:  mapInboundTextEntities(message.Message, message.Entities),
		CreatedAt: intToTimeUTC(message.Date),
	}
	if editDate, ok := message.GetEditDate(); ok {
		edit.EditedAt = intToTimeUTC(editDate)
	}
	occurredAt := firstNonZeroTime(edit.EditedAt, envelope.occurredAt, edit.CreatedAt)

	return Update{
		ID:         composeUpdateID(UpdateTypeEdit, chat.ID, edit.MessageID, strconv.FormatInt(occurredAt.Unix(), 10)),
		Type:       UpdateTypeEdit,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Edit:       edit,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// mapDeleteMessages maps a private or basic group delete; Telegram does not
// say which chat it belongs to.
func mapDeleteMessages(update *tg.UpdateDeleteMessages, envelope gotdUpdateEnvelope) (Update, bool, error) {
	if len(update.Messages) == 0 {
		return Update{}, false, nil
	}
	messageID := strconv.Itoa(update.Messages[0])

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, "", messageID, strconv.Itoa(update.Pts)),
		Type:       UpdateTypeDelete,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Delete:     &DeletePayload{MessageID: messageID},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m gotdUpdateMapper) mapDeleteChannelMessages(
	update *tg.UpdateDeleteChannelMessages,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if len(update.Messages) == 0 {
		return Update{}, false, nil
	}
	chat := resolveChatByChannelID(update.ChannelID, envelope)
	messageID := strconv.Itoa(update.Messages[0])

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, chat.ID, messageID, strconv.Itoa(update.Pts)),
		Type:       UpdateTypeDelete,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Chat:       chat,
		Delete:     &DeletePayload{MessageID: messageID},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m gotdUpdateMapper) mapReactionDelta(envelope gotdUpdateEnvelope) (Update, bool, error) {
	delta := envelope.reaction
	if delta.emoji == "" {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(delta.peer, envelope)
	actor := resolveActorFromPeer(delta.actor, envelope)
	m.peers.RememberConversation(chat, resolveInputPeerFromPeer(delta.peer, envelope))
	messageID := strconv.Itoa(delta.messageID)

	return Update{
		ID:         composeUpdateID(delta.action, chat.ID, messageID, actor.ID, delta.emoji),
		Type:       delta.action,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Chat:       chat,
		Actor:      actor,
		Reaction: &ReactionPayload{
			MessageID: messageID,
			Emoji:     delta.emoji,
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

// resolveMessageContext resolves chat and author and remembers the chat peer.
func (m gotdUpdateMapper) resolveMessageContext(message *tg.Message, envelope gotdUpdateEnvelope) (ChatRef, ActorRef) {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	m.peers.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))

	var actor ActorRef
	switch {
	case message.FromID != nil:
		actor = resolveActorFromPeer(message.FromID, envelope)
	case !message.Out:
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}
	if message.Out {
		actor.IsSelf = true
	}

	return chat, actor
}

type gotdChatInfo struct {
	title     string
	kind      hermes.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if notEmpty, ok := user.AsNotEmpty(); ok && notEmpty != nil {
			out[notEmpty.ID] = notEmpty
		}
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      hermes.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      hermes.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		}
	}

	return out
}

func channelKind(megagroup bool) hermes.ConversationType {
	if megagroup {
		return hermes.ConversationTypeGroup
	}

	return hermes.ConversationTypeChannel
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{
			ID:    actor.ID,
			Type:  hermes.ConversationTypePrivate,
			Title: actor.DisplayName,
		}
	case *tg.PeerChat:
		return resolveChatByChatID(typed.ChatID, envelope)
	case *tg.PeerChannel:
		return resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{}
	}
}

func resolveChatByChatID(chatID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(chatID, 10), Type: hermes.ConversationTypeGroup}
	if info, ok := envelope.chatsByID[chatID]; ok {
		chat.Title = info.title
	}

	return chat
}

func resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(channelID, 10), Type: hermes.ConversationTypeChannel}
	if info, ok := envelope.chatsByID[channelID]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChatID, 10),
			DisplayName: lookupChatTitle(typed.ChatID, envelope),
		}
	case *tg.PeerChannel:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChannelID, 10),
			DisplayName: lookupChatTitle(typed.ChannelID, envelope),
		}
	default:
		return ActorRef{}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{}
	}
	id := strconv.FormatInt(userID, 10)
	user, ok := envelope.usersByID[userID]
	if !ok {
		return ActorRef{ID: id}
	}

	displayName := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if displayName == "" {
		displayName = user.Username
	}

	return ActorRef{
		ID:          id,
		Username:    user.Username,
		DisplayName: displayName,
		IsBot:       user.Bot,
		IsSelf:      user.Self,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := envelope.usersByID[typed.UserID]; ok {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		if info, ok := envelope.chatsByID[typed.ChannelID]; ok {
			return info.inputPeer
		}
	}

	return nil
}

func lookupChatTitle(chatID int64, envelope gotdUpdateEnvelope) string {
	return envelope.chatsByID[chatID].title
}

func firstNonZeroTime(values ...time.Time) time.Time {
	for _, value := range values {
		if !value.IsZero() {
			return value
		}
	}

	return time.Time{}
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...string) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	for _, part := range parts {
		if part != "" {
			values = append(values, part)
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
