package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ex-hermes/internal/msgstore"
	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

const (
	defaultOutboundTimeout = 3 * time.Second
	// maxCallbackDataBytes is the Telegram limit for inline button payloads.
	maxCallbackDataBytes = 64
)

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity stamped on outbound errors.
func WithSinkRef(ref hermes.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

// WithClock overrides the timestamp source used for sent-message snapshots.
func WithClock(now func() time.Time) OutboundOption {
	return func(cfg *outboundConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
//
// Every message it sends or edits is recorded in the shared snapshot store so
// later updates about it carry the running account as author.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	journal  *journal
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       hermes.EventSink
	now        func() time.Time
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	store *msgstore.Store,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client.API()), peers, store, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	store *msgstore.Store,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		sink:       hermes.EventSink{Platform: DriverPlatform},
		now:        time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		journal:  newJournal(store),
		telegram: rpc,
	}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request hermes.SendMessageRequest,
) (*hermes.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return nil, fmt.Errorf("send message entities: %w", err)
	}
	markup, err := buildReplyMarkup(request.View)
	if err != nil {
		return nil, fmt.Errorf("send message view: %w", err)
	}

	rpcRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.Text,
		Entities:  entities,
		NoWebpage: request.DisableLinkPreview,
		Silent:    request.Silent,
	}
	if markup != nil {
		rpcRequest.ReplyMarkup = markup
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
		rpcRequest.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyID}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, rpcRequest)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w",
			request.Target.Conversation.ID,
			mapTelegramOutboundError(hermes.OutboundOperationSendMessage, d.sinkFor(request.Target), err),
		)
	}

	sentAt := d.cfg.now()
	messageID := strconv.Itoa(id)
	d.journal.rememberSent(request.Target.Conversation, messageID, hermes.MessageSnapshot{
		Text:      request.Text,
		Entities:  request.Entities,
		CreatedAt: sentAt,
	}, request.ReplyToMessageID)

	d.logOutbound(ctx, hermes.OutboundOperationSendMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", messageID,
		"reply_to_message_id", request.ReplyToMessageID,
		"view", !request.View.Empty(),
	)

	return &hermes.OutboundMessage{
		ID:     messageID,
		Target: request.Target,
		SentAt: sentAt,
	}, nil
}

// EditMessage replaces text and controls of an existing Telegram message.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request hermes.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("edit message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message parse id %s: %w", request.MessageID, err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return fmt.Errorf("edit message entities: %w", err)
	}
	markup, err := buildReplyMarkup(request.View)
	if err != nil {
		return fmt.Errorf("edit message view: %w", err)
	}
	if markup == nil {
		markup = &tg.ReplyInlineMarkup{}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err = d.telegram.EditMessage(rpcCtx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          messageID,
		Message:     request.Text,
		Entities:    entities,
		NoWebpage:   request.DisableLinkPreview,
		ReplyMarkup: markup,
	})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("edit message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(hermes.OutboundOperationEditMessage, d.sinkFor(request.Target), err),
		)
	}

	now := d.cfg.now()
	d.journal.rememberEdited(request.Target.Conversation, request.MessageID, hermes.MessageSnapshot{
		Text:     request.Text,
		Entities: request.Entities,
		EditedAt: now,
	})

	d.logOutbound(ctx, hermes.OutboundOperationEditMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

// DeleteMessage removes an existing Telegram message.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request hermes.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("delete message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("delete message parse id %s: %w", request.MessageID, err)
	}
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && !request.Revoke {
		return fmt.Errorf("delete message %s: %w: non-revoke channel delete",
			request.MessageID, hermes.ErrOutboundUnsupported)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, messageID, request.Revoke); err != nil {
		return fmt.Errorf("delete message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(hermes.OutboundOperationDeleteMessage, d.sinkFor(request.Target), err),
		)
	}
	d.journal.forget(request.Target.Conversation, request.MessageID)

	d.logOutbound(ctx, hermes.OutboundOperationDeleteMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"revoke", request.Revoke,
	)

	return nil
}

// ClearView strips the inline keyboard of an existing message, leaving its
// text untouched.
func (d *SinkDispatcher) ClearView(ctx context.Context, request hermes.ClearViewRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("clear view validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("clear view resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("clear view parse id %s: %w", request.MessageID, err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err = d.telegram.EditMessage(rpcCtx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          messageID,
		ReplyMarkup: &tg.ReplyInlineMarkup{},
	})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("clear view on %s: %w",
			request.MessageID,
			mapTelegramOutboundError(hermes.OutboundOperationClearView, d.sinkFor(request.Target), err),
		)
	}

	d.logOutbound(ctx, hermes.OutboundOperationClearView,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) resolvePeer(target hermes.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != hermes.PlatformTelegram {
		return nil, fmt.Errorf("%w: platform %s", hermes.ErrOutboundUnsupported, target.Sink.Platform)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) sinkFor(target hermes.OutboundTarget) hermes.EventSink {
	sink := d.cfg.sink
	if sink.ID == "" && target.Sink != nil {
		sink.ID = target.Sink.ID
	}

	return sink
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation hermes.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "platform", hermes.PlatformTelegram)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

// buildReplyMarkup renders view as an inline keyboard. Action buttons carry
// "<view id>:<action>" as callback data.
func buildReplyMarkup(view *hermes.View) (*tg.ReplyInlineMarkup, error) {
	if view.Empty() {
		return nil, nil
	}

	markup := &tg.ReplyInlineMarkup{Rows: make([]tg.KeyboardButtonRow, 0, len(view.Rows))}
	for _, row := range view.Rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, button := range row {
			if button.URL != "" {
				buttons = append(buttons, &tg.KeyboardButtonURL{Text: button.Text, URL: button.URL})
				continue
			}
			data := button.Action
			if view.ID != "" {
				data = view.ID + ":" + button.Action
			}
			if len(data) > maxCallbackDataBytes {
				return nil, fmt.Errorf("%w: callback data for %q exceeds %d bytes",
					hermes.ErrInvalidOutboundRequest, button.Text, maxCallbackDataBytes)
			}
			buttons = append(buttons, &tg.KeyboardButtonCallback{Text: button.Text, Data: []byte(data)})
		}
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{Buttons: buttons})
	}

	return markup, nil
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", hermes.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", hermes.ErrInvalidOutboundRequest)
	}

	return value, nil
}

type outboundRPC interface {
	SendText(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error)
	EditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) error
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdOutboundRPC(raw *tg.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:    raw,
		rand:   crypto.DefaultRand(),
		sender: message.NewSender(raw),
	}
}

func (r gotdOutboundRPC) SendText(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) error {
	if _, err := r.raw.MessagesEditMessage(ctx, request); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error {
	if revoke {
		if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
			return fmt.Errorf("revoke delete message: %w", err)
		}

		return nil
	}

	if _, err := r.sender.Delete().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}
