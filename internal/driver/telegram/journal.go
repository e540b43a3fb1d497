package telegram

import (
	"ex-hermes/internal/msgstore"
	"ex-hermes/pkg/hermes"
)

// journal fills in the message context Telegram leaves out of edit and
// delete updates, from snapshots of earlier traffic.
type journal struct {
	store *msgstore.Store
}

func newJournal(store *msgstore.Store) *journal {
	if store == nil {
		store = msgstore.New(0, 0)
	}

	return &journal{store: store}
}

// observe records or enriches event in place. It returns false when a delete
// cannot be attributed to any conversation.
func (j *journal) observe(event *hermes.Event) bool {
	switch event.Kind {
	case hermes.EventKindMessageCreated:
		j.store.Put(
			msgstore.Key{ConversationID: event.Conversation.ID, MessageID: event.Message.ID},
			msgstore.Record{
				Conversation: event.Conversation,
				Author:       event.Actor,
				ReplyToID:    event.Message.ReplyToID,
				Snapshot:     *event.Message.Snapshot(),
			},
		)
	case hermes.EventKindMessageEdited:
		j.observeEdit(event)
	case hermes.EventKindMessageRetracted:
		return j.observeDelete(event)
	}

	return true
}

func (j *journal) observeEdit(event *hermes.Event) {
	key := msgstore.Key{ConversationID: event.Conversation.ID, MessageID: event.Mutation.TargetMessageID}
	record, known := j.store.Get(key)
	if !known {
		j.store.Put(key, msgstore.Record{
			Conversation: event.Conversation,
			Author:       event.Actor,
			Snapshot:     *event.Mutation.After,
		})
		return
	}

	if event.Mutation.Before == nil {
		before := record.Snapshot
		event.Mutation.Before = &before
	}
	if event.Actor.ID == "" {
		event.Actor = record.Author
	}
	j.store.Update(key, *event.Mutation.After)
}

func (j *journal) observeDelete(event *hermes.Event) bool {
	messageID := event.Mutation.TargetMessageID
	key := msgstore.Key{ConversationID: event.Conversation.ID, MessageID: messageID}

	var (
		record msgstore.Record
		known  bool
	)
	if key.ConversationID == "" {
		key, record, known = j.store.FindByMessageID(messageID)
		if !known {
			return false
		}
	} else {
		record, known = j.store.Get(key)
	}
	if !known {
		return true
	}

	if event.Conversation.ID == "" {
		event.Conversation = record.Conversation
	}
	if event.Actor.ID == "" && !event.Actor.IsSelf {
		event.Actor = record.Author
	}
	before := record.Snapshot
	event.Mutation.Before = &before
	j.store.Delete(key)

	return true
}

// rememberSent records a message the running account produced.
func (j *journal) rememberSent(conversation hermes.Conversation, messageID string, snapshot hermes.MessageSnapshot, replyToID string) {
	j.store.Put(
		msgstore.Key{ConversationID: conversation.ID, MessageID: messageID},
		msgstore.Record{
			Conversation: conversation,
			Author:       hermes.Actor{IsSelf: true},
			ReplyToID:    replyToID,
			Snapshot:     snapshot,
		},
	)
}

// rememberEdited replaces the snapshot of a message the running account edited.
func (j *journal) rememberEdited(conversation hermes.Conversation, messageID string, snapshot hermes.MessageSnapshot) {
	j.store.Update(msgstore.Key{ConversationID: conversation.ID, MessageID: messageID}, snapshot)
}

// forget drops a message the running account deleted.
func (j *journal) forget(conversation hermes.Conversation, messageID string) {
	j.store.Delete(msgstore.Key{ConversationID: conversation.ID, MessageID: messageID})
}
