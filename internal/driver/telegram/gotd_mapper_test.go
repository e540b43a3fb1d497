package telegram

import (
	"testing"
	"time"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tg"
)

func newTestEnvelope(update tg.UpdateClass) gotdUpdateEnvelope {
	return gotdUpdateEnvelope{
		update:     update,
		occurredAt: time.Unix(1_700_000_100, 0).UTC(),
		usersByID: indexGotdUsers([]tg.UserClass{
			&tg.User{ID: 42, AccessHash: 4242, Username: "alice", FirstName: "Alice", LastName: "Liddell"},
			&tg.User{ID: 7, AccessHash: 77, Username: "hermesbot", Bot: true, Self: true},
		}),
		chatsByID: indexGotdChats([]tg.ChatClass{
			&tg.Channel{ID: 500, AccessHash: 5005, Title: "ghostty", Megagroup: true},
			&tg.Chat{ID: 77, Title: "basic"},
		}),
		updateClass: update.TypeName(),
	}
}

func TestGotdUpdateMapperNewMessage(t *testing.T) {
	t.Parallel()

	peers := NewPeerCache()
	mapper := newGotdUpdateMapper(peers)

	message := &tg.Message{
		ID:      11,
		PeerID:  &tg.PeerChannel{ChannelID: 500},
		Date:    1_700_000_000,
		Message: "see #12",
	}
	message.SetFromID(&tg.PeerUser{UserID: 42})
	replyTo := &tg.MessageReplyHeader{}
	replyTo.SetReplyToMsgID(9)
	message.SetReplyTo(replyTo)
	message.SetEntities([]tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 3}})

	update, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateNewChannelMessage{Message: message}))
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if update.Type != UpdateTypeMessage {
		t.Fatalf("type = %s, want message", update.Type)
	}
	if update.ID != "tg:message:500:11" {
		t.Fatalf("id = %q, want tg:message:500:11", update.ID)
	}
	if update.Chat.ID != "500" || update.Chat.Title != "ghostty" || update.Chat.Type != hermes.ConversationTypeGroup {
		t.Fatalf("chat = %+v, want megagroup ghostty", update.Chat)
	}
	if update.Actor.ID != "42" || update.Actor.DisplayName != "Alice Liddell" || update.Actor.IsSelf {
		t.Fatalf("actor = %+v, want Alice", update.Actor)
	}
	if update.Message.ReplyToID != "9" || len(update.Message.Entities) != 1 {
		t.Fatalf("message = %+v, want reply to 9 with one entity", update.Message)
	}
	if update.Metadata["gotd_update"] != "updateNewChannelMessage" {
		t.Fatalf("metadata = %v, want update class", update.Metadata)
	}

	peer, err := peers.Resolve(hermes.Conversation{ID: "500"})
	if err != nil {
		t.Fatalf("peer not remembered: %v", err)
	}
	if channel, ok := peer.(*tg.InputPeerChannel); !ok || channel.AccessHash != 5005 {
		t.Fatalf("peer = %#v, want channel with access hash", peer)
	}
}

func TestGotdUpdateMapperOutgoingMessageIsSelf(t *testing.T) {
	t.Parallel()

	mapper := newGotdUpdateMapper(NewPeerCache())
	message := &tg.Message{
		ID:      12,
		Out:     true,
		PeerID:  &tg.PeerUser{UserID: 42},
		Date:    1_700_000_000,
		Message: "**Issue #12**",
	}

	update, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateNewMessage{Message: message}))
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if !update.Actor.IsSelf {
		t.Fatalf("actor = %+v, want self", update.Actor)
	}
	if update.Chat.ID != "42" || update.Chat.Type != hermes.ConversationTypePrivate {
		t.Fatalf("chat = %+v, want private chat with 42", update.Chat)
	}
}

func TestGotdUpdateMapperEdit(t *testing.T) {
	t.Parallel()

	mapper := newGotdUpdateMapper(NewPeerCache())

	visible := &tg.Message{ID: 11, PeerID: &tg.PeerChat{ChatID: 77}, Date: 1_700_000_000, Message: "see #13"}
	visible.SetFromID(&tg.PeerUser{UserID: 42})
	visible.SetEditDate(1_700_000_050)

	update, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateEditMessage{Message: visible}))
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if update.Type != UpdateTypeEdit || update.Edit.MessageID != "11" || update.Edit.Text != "see #13" {
		t.Fatalf("update = %+v, want edit of 11", update)
	}
	if !update.OccurredAt.Equal(time.Unix(1_700_000_050, 0).UTC()) {
		t.Fatalf("occurredAt = %v, want edit date", update.OccurredAt)
	}
	if update.Chat.Title != "basic" {
		t.Fatalf("chat = %+v, want basic group", update.Chat)
	}

	hidden := &tg.Message{ID: 11, PeerID: &tg.PeerChat{ChatID: 77}, EditHide: true}
	if _, accepted, _ := mapper.Map(newTestEnvelope(&tg.UpdateEditMessage{Message: hidden})); accepted {
		t.Fatal("hidden edit accepted, want skipped")
	}
}

func TestGotdUpdateMapperDeletes(t *testing.T) {
	t.Parallel()

	mapper := newGotdUpdateMapper(NewPeerCache())

	private, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateDeleteMessages{Messages: []int{11}, Pts: 3}))
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if private.Chat.ID != "" {
		t.Fatalf("private delete chat = %+v, want empty", private.Chat)
	}
	if private.Delete.MessageID != "11" || private.ID != "tg:delete:11:3" {
		t.Fatalf("private delete = %+v, want message 11", private)
	}

	channel, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateDeleteChannelMessages{
		ChannelID: 500,
		Messages:  []int{12},
		Pts:       4,
	}))
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if channel.Chat.ID != "500" || channel.ID != "tg:delete:500:12:4" {
		t.Fatalf("channel delete = %+v, want chat 500", channel)
	}

	if _, accepted, _ := mapper.Map(newTestEnvelope(&tg.UpdateDeleteMessages{})); accepted {
		t.Fatal("empty delete accepted")
	}
}

func TestGotdUpdateMapperReaction(t *testing.T) {
	t.Parallel()

	mapper := newGotdUpdateMapper(NewPeerCache())
	envelope := newTestEnvelope(&tg.UpdateBotMessageReaction{})
	envelope.reaction = &gotdReactionDelta{
		action:    UpdateTypeReactionAdd,
		messageID: 13,
		emoji:     "📌",
		actor:     &tg.PeerUser{UserID: 42},
		peer:      &tg.PeerChannel{ChannelID: 500},
	}

	update, accepted, err := mapper.Map(envelope)
	if err != nil || !accepted {
		t.Fatalf("Map = accepted %v err %v, want accepted", accepted, err)
	}
	if update.Reaction.MessageID != "13" || update.Reaction.Emoji != "📌" {
		t.Fatalf("reaction = %+v, want 📌 on 13", update.Reaction)
	}
	if update.Actor.Username != "alice" || update.Chat.ID != "500" {
		t.Fatalf("update = %+v, want alice in 500", update)
	}

	envelope.reaction = &gotdReactionDelta{action: UpdateTypeReactionAdd, messageID: 13}
	if _, accepted, _ := mapper.Map(envelope); accepted {
		t.Fatal("reaction without emoji accepted")
	}
}

func TestGotdUpdateMapperSkipsUnknownUpdates(t *testing.T) {
	t.Parallel()

	mapper := newGotdUpdateMapper(NewPeerCache())
	if _, accepted, err := mapper.Map(newTestEnvelope(&tg.UpdateUserTyping{UserID: 42})); accepted || err != nil {
		t.Fatalf("Map = accepted %v err %v, want skipped", accepted, err)
	}
}

func TestResolveActorByUserIDSelf(t *testing.T) {
	t.Parallel()

	actor := resolveActorByUserID(7, newTestEnvelope(&tg.UpdateUserTyping{}))
	if !actor.IsSelf || !actor.IsBot || actor.DisplayName != "hermesbot" {
		t.Fatalf("actor = %+v, want self bot named by username", actor)
	}
	if resolveActorByUserID(0, gotdUpdateEnvelope{}) != (ActorRef{}) {
		t.Fatal("zero user id should resolve to empty actor")
	}
	if got := resolveActorByUserID(99, gotdUpdateEnvelope{}); got.ID != "99" {
		t.Fatalf("unknown user = %+v, want id only", got)
	}
}
