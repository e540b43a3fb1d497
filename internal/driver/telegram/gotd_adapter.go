package telegram

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel is a gotd update handler that flattens update batches
// into a buffered stream of single-update envelopes.
type GotdUpdateChannel struct {
	updates chan gotdUpdateEnvelope
}

// NewGotdUpdateChannel creates the bridge between gotd and the update source.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan gotdUpdateEnvelope, buffer)}
}

// Updates returns the envelope stream.
func (s *GotdUpdateChannel) Updates() <-chan gotdUpdateEnvelope {
	return s.updates
}

// Handle flattens gotd update batches and forwards each unit to the stream.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates publish: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

// gotdUpdateEnvelope is one update with the entities that arrived beside it.
type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
	reaction    *gotdReactionDelta
}

type gotdReactionDelta struct {
	action    UpdateType
	messageID int
	emoji     string
	actor     tg.PeerClass
	peer      tg.PeerClass
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return splitGotdUpdate(gotdUpdateEnvelope{
			update:      typed.Update,
			occurredAt:  intToTimeUTC(typed.Date),
			updateClass: classOf(typed.Update),
		}), nil
	case *tg.UpdateShortMessage:
		fields := shortMessage{
			id:      typed.ID,
			out:     typed.Out,
			peer:    &tg.PeerUser{UserID: typed.UserID},
			date:    typed.Date,
			text:    typed.Message,
			pts:     typed.Pts,
			count:   typed.PtsCount,
			class:   typed.TypeName(),
			replyTo: typed.ReplyTo,
		}
		if !typed.Out {
			fields.from = &tg.PeerUser{UserID: typed.UserID}
		}
		fields.entities, _ = typed.GetEntities()
		return []gotdUpdateEnvelope{fields.envelope()}, nil
	case *tg.UpdateShortChatMessage:
		fields := shortMessage{
			id:      typed.ID,
			out:     typed.Out,
			peer:    &tg.PeerChat{ChatID: typed.ChatID},
			from:    &tg.PeerUser{UserID: typed.FromID},
			date:    typed.Date,
			text:    typed.Message,
			pts:     typed.Pts,
			count:   typed.PtsCount,
			class:   typed.TypeName(),
			replyTo: typed.ReplyTo,
		}
		fields.entities, _ = typed.GetEntities()
		return []gotdUpdateEnvelope{fields.envelope()}, nil
	case *tg.UpdatesTooLong:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	shared := gotdUpdateEnvelope{
		occurredAt: intToTimeUTC(date),
		usersByID:  indexGotdUsers(users),
		chatsByID:  indexGotdChats(chats),
	}

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		item := shared
		item.update = update
		item.updateClass = classOf(update)
		batch = append(batch, splitGotdUpdate(item)...)
	}

	return batch
}

func classOf(update tg.UpdateClass) string {
	if update == nil {
		return ""
	}

	return update.TypeName()
}

// splitGotdUpdate fans multi-message deletes and reaction lists out so every
// envelope describes exactly one message change.
func splitGotdUpdate(envelope gotdUpdateEnvelope) []gotdUpdateEnvelope {
	switch typed := envelope.update.(type) {
	case nil:
		return nil
	case *tg.UpdateDeleteMessages:
		return perMessage(envelope, typed.Messages, func(id int) tg.UpdateClass {
			clone := *typed
			clone.Messages = []int{id}
			return &clone
		})
	case *tg.UpdateDeleteChannelMessages:
		return perMessage(envelope, typed.Messages, func(id int) tg.UpdateClass {
			clone := *typed
			clone.Messages = []int{id}
			return &clone
		})
	case *tg.UpdateBotMessageReaction:
		return perReaction(envelope, botReactionDeltas(typed))
	case *tg.UpdateMessageReactions:
		return perReaction(envelope, recentReactionDeltas(typed))
	default:
		return []gotdUpdateEnvelope{envelope}
	}
}

func perMessage(envelope gotdUpdateEnvelope, ids []int, single func(int) tg.UpdateClass) []gotdUpdateEnvelope {
	out := make([]gotdUpdateEnvelope, len(ids))
	for index, id := range ids {
		out[index] = envelope
		out[index].update = single(id)
	}

	return out
}

func perReaction(envelope gotdUpdateEnvelope, deltas []gotdReactionDelta) []gotdUpdateEnvelope {
	out := make([]gotdUpdateEnvelope, len(deltas))
	for index := range deltas {
		out[index] = envelope
		out[index].reaction = &deltas[index]
	}

	return out
}

// shortMessage holds the fields Telegram inlines in its short message
// containers, which are rebuilt into a regular UpdateNewMessage.
type shortMessage struct {
	id       int
	out      bool
	peer     tg.PeerClass
	from     tg.PeerClass
	date     int
	text     string
	pts      int
	count    int
	class    string
	replyTo  tg.MessageReplyHeaderClass
	entities []tg.MessageEntityClass
}

func (m shortMessage) envelope() gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      m.id,
		Out:     m.out,
		PeerID:  m.peer,
		Date:    m.date,
		Message: m.text,
	}
	if m.from != nil {
		message.SetFromID(m.from)
	}
	if m.replyTo != nil {
		message.SetReplyTo(m.replyTo)
	}
	if len(m.entities) > 0 {
		message.SetEntities(m.entities)
	}

	return gotdUpdateEnvelope{
		update:      &tg.UpdateNewMessage{Message: message, Pts: m.pts, PtsCount: m.count},
		occurredAt:  intToTimeUTC(m.date),
		updateClass: m.class,
	}
}

// botReactionDeltas diffs the old and new reaction sets a bot account receives.
func botReactionDeltas(update *tg.UpdateBotMessageReaction) []gotdReactionDelta {
	before := reactionSet(update.OldReactions)
	after := reactionSet(update.NewReactions)

	delta := func(action UpdateType, emoji string) gotdReactionDelta {
		return gotdReactionDelta{
			action:    action,
			messageID: update.MsgID,
			emoji:     emoji,
			actor:     update.Actor,
			peer:      update.Peer,
		}
	}

	var deltas []gotdReactionDelta
	for _, emoji := range setDifference(after, before) {
		deltas = append(deltas, delta(UpdateTypeReactionAdd, emoji))
	}
	for _, emoji := range setDifference(before, after) {
		deltas = append(deltas, delta(UpdateTypeReactionRemove, emoji))
	}

	return deltas
}

// recentReactionDeltas reports each recent reaction a user account sees as
// an add. Telegram sends aggregate state here, so removals are invisible and
// reactions already seen repeat.
func recentReactionDeltas(update *tg.UpdateMessageReactions) []gotdReactionDelta {
	recent, ok := update.Reactions.GetRecentReactions()
	if !ok {
		return nil
	}

	deltas := make([]gotdReactionDelta, 0, len(recent))
	for _, item := range recent {
		if emoji := reactionToEmoji(item.Reaction); emoji != "" {
			deltas = append(deltas, gotdReactionDelta{
				action:    UpdateTypeReactionAdd,
				messageID: update.MsgID,
				emoji:     emoji,
				actor:     item.PeerID,
				peer:      update.Peer,
			})
		}
	}

	return deltas
}

func reactionSet(reactions []tg.ReactionClass) []string {
	out := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if emoji := reactionToEmoji(reaction); emoji != "" && !slices.Contains(out, emoji) {
			out = append(out, emoji)
		}
	}

	return out
}

// setDifference returns the members of left missing from right, in left order.
func setDifference(left, right []string) []string {
	var out []string
	for _, emoji := range left {
		if !slices.Contains(right, emoji) {
			out = append(out, emoji)
		}
	}

	return out
}

func reactionToEmoji(reaction tg.ReactionClass) string {
	switch typed := reaction.(type) {
	case *tg.ReactionEmoji:
		return typed.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(typed.DocumentID, 10)
	default:
		return ""
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
