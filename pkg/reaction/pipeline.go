// Package reaction keeps bot replies synchronized with the messages they were derived from.
//
// A Pipeline turns message create, edit and delete events into reply sends,
// edits and deletes, recording every reply in a linker.Registry.
package reaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ex-hermes/pkg/hermes"
	"ex-hermes/pkg/linker"
)

// DefaultViewTimeout is how long reply controls stay attached after a send or edit.
const DefaultViewTimeout = 30 * time.Second

const defaultCleanupTimeout = 10 * time.Second

// Config wires one feature into a pipeline.
type Config struct {
	// Name labels log records.
	Name string
	// Registry stores original to reply links. Required.
	Registry *linker.Registry
	// Dispatcher performs reply sends, edits and deletes. Required.
	Dispatcher hermes.SinkDispatcher
	// Processor derives reply content. Required.
	Processor Processor
	// Interactor posts the first reply. Defaults to Pipeline.Reply.
	Interactor Interactor
	// Views builds reply controls. Nil sends replies without controls.
	Views ViewFactory
	// ViewTimeout is how long controls stay attached. Defaults to DefaultViewTimeout.
	ViewTimeout time.Duration
	// Freezer enables the freeze policy when set.
	Freezer *Freezer
	// FreezeEmoji freezes an original when added as a reaction to one of its replies.
	FreezeEmoji string
}

// Pipeline runs the create, edit and delete hooks of one feature.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time
	views  *viewTimers
}

// Option mutates pipeline construction settings.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp reply edits.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// New validates cfg and builds a pipeline.
func New(cfg Config, options ...Option) (*Pipeline, error) {
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("new reaction pipeline %s: nil registry", cfg.Name)
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("new reaction pipeline %s: nil dispatcher", cfg.Name)
	case cfg.Processor == nil:
		return nil, fmt.Errorf("new reaction pipeline %s: nil processor", cfg.Name)
	}
	if cfg.ViewTimeout <= 0 {
		cfg.ViewTimeout = DefaultViewTimeout
	}

	pipeline := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, option := range options {
		option(pipeline)
	}
	if pipeline.cfg.Interactor == nil {
		pipeline.cfg.Interactor = InteractorFunc(pipeline.Reply)
	}
	pipeline.logger = pipeline.logger.With("pipeline", cfg.Name)
	pipeline.views = newViewTimers(cfg.Dispatcher, cfg.ViewTimeout, pipeline.logger)

	return pipeline, nil
}

// HandleEvent dispatches event to the hook matching its kind.
func (p *Pipeline) HandleEvent(ctx context.Context, event *hermes.Event) error {
	if event == nil {
		return nil
	}

	switch event.Kind {
	case hermes.EventKindMessageCreated:
		return p.OnCreate(ctx, event)
	case hermes.EventKindMessageEdited:
		return p.OnEdit(ctx, event)
	case hermes.EventKindMessageRetracted:
		return p.OnDelete(ctx, event)
	case hermes.EventKindReactionAdded:
		return p.OnReaction(ctx, event)
	default:
		return nil
	}
}

// OnCreate runs the interactor for a new message.
func (p *Pipeline) OnCreate(ctx context.Context, event *hermes.Event) error {
	if event.Message == nil || event.Actor.Automated() {
		return nil
	}

	message, err := messageFromEvent(event)
	if err != nil {
		return fmt.Errorf("%s on create: %w", p.cfg.Name, err)
	}
	if err := p.cfg.Interactor.Interact(ctx, message); err != nil {
		return fmt.Errorf("%s on create %s: %w", p.cfg.Name, message.Ref, err)
	}

	return nil
}

// Reply processes message and, when there is anything to show, sends a reply
// and links it. It is the default Interactor.
func (p *Pipeline) Reply(ctx context.Context, message Message) error {
	content, err := p.cfg.Processor.Process(ctx, message)
	if err != nil {
		return fmt.Errorf("process message: %w", err)
	}
	if content.Empty() {
		return nil
	}

	view := p.buildView(message, content)
	sent, err := p.cfg.Dispatcher.SendMessage(ctx, hermes.SendMessageRequest{
		Target:             message.Target,
		Text:               content.Text,
		Entities:           content.Entities,
		ReplyToMessageID:   message.Ref.MessageID,
		DisableLinkPreview: content.DisableLinkPreview,
		View:               view,
	})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	reply := linker.Reply{
		Ref:       sent.Ref(),
		Target:    sent.Target,
		CreatedAt: sent.SentAt,
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = p.clock()
	}
	p.cfg.Registry.Link(message.Ref, reply)
	if view != nil {
		p.views.restart(reply)
	}

	p.logger.DebugContext(ctx, "reply sent",
		"original", message.Ref.String(),
		"reply", reply.Ref.String(),
		"items", content.ItemCount,
	)

	return nil
}

// OnEdit propagates an edit of an original onto its reply.
func (p *Pipeline) OnEdit(ctx context.Context, event *hermes.Event) error {
	mutation := event.Mutation
	if mutation == nil || mutation.After == nil || event.Actor.Automated() {
		return nil
	}
	if mutation.Before == nil {
		p.logger.DebugContext(ctx, "edit without previous content ignored",
			"conversation", event.Conversation.ID,
			"message_id", mutation.TargetMessageID,
		)
		return nil
	}
	if mutation.Before.Text == mutation.After.Text {
		return nil
	}

	base, err := messageFromEvent(event)
	if err != nil {
		return fmt.Errorf("%s on edit: %w", p.cfg.Name, err)
	}
	before := base.withContent(mutation.Before)
	after := base.withContent(mutation.After)

	oldContent, err := p.cfg.Processor.Process(ctx, before)
	if err != nil {
		return fmt.Errorf("%s on edit %s: process before: %w", p.cfg.Name, base.Ref, err)
	}
	newContent, err := p.cfg.Processor.Process(ctx, after)
	if err != nil {
		return fmt.Errorf("%s on edit %s: process after: %w", p.cfg.Name, base.Ref, err)
	}
	if oldContent.Equal(newContent) {
		return nil
	}
	if p.cfg.Freezer.IsFrozen(base.Ref) {
		return nil
	}

	replies := p.cfg.Registry.Get(base.Ref)
	if len(replies) == 0 {
		if !oldContent.Empty() {
			// The reply was removed or expired earlier.
			return nil
		}
		if err := p.cfg.Interactor.Interact(ctx, after); err != nil {
			return fmt.Errorf("%s on edit %s: %w", p.cfg.Name, base.Ref, err)
		}
		return nil
	}

	if p.cfg.Registry.IsExpired(base.Ref) {
		return nil
	}

	if newContent.Empty() {
		p.cfg.Registry.Unlink(base.Ref)
		p.deleteReplies(ctx, replies)
		return nil
	}

	return p.editReply(ctx, base.Ref, replies[0], after, newContent)
}

func (p *Pipeline) editReply(
	ctx context.Context,
	original hermes.MessageRef,
	reply linker.Reply,
	after Message,
	content ProcessedContent,
) error {
	view := p.buildView(after, content)
	err := p.cfg.Dispatcher.EditMessage(ctx, hermes.EditMessageRequest{
		Target:             reply.Target,
		MessageID:          reply.Ref.MessageID,
		Text:               content.Text,
		Entities:           content.Entities,
		DisableLinkPreview: content.DisableLinkPreview,
		View:               view,
	})
	if hermes.IsOutboundNotFound(err) {
		p.cfg.Registry.Unlink(original)
		p.views.stop(reply.Ref)
		p.logger.InfoContext(ctx, "reply gone, link dropped",
			"original", original.String(),
			"reply", reply.Ref.String(),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s edit reply %s: %w", p.cfg.Name, reply.Ref, err)
	}

	p.cfg.Registry.Touch(reply.Ref, p.clock())
	if view != nil {
		p.views.restart(reply)
	} else {
		p.views.stop(reply.Ref)
	}

	return nil
}

// OnDelete handles deletion of either a reply or an original.
//
// A deleted reply unlinks its original. A deleted original has every reply
// deleted; the resulting reply deletions may come back through this hook and
// are no-ops by then.
func (p *Pipeline) OnDelete(ctx context.Context, event *hermes.Event) error {
	ref, ok := event.MessageRef()
	if !ok {
		return nil
	}

	if event.Actor.Automated() {
		p.forgetReply(ref)
		return nil
	}
	if _, isReply := p.cfg.Registry.OriginalFor(ref); isReply {
		p.forgetReply(ref)
		return nil
	}

	replies := p.cfg.Registry.Get(ref)
	if len(replies) == 0 {
		return nil
	}
	p.deleteReplies(ctx, replies)
	p.cfg.Registry.Unlink(ref)

	return nil
}

// OnReaction freezes an original when its reply receives the freeze emoji.
func (p *Pipeline) OnReaction(ctx context.Context, event *hermes.Event) error {
	if p.cfg.Freezer == nil || p.cfg.FreezeEmoji == "" {
		return nil
	}
	if event.Reaction == nil || event.Reaction.Action != hermes.ReactionActionAdd {
		return nil
	}
	if event.Reaction.Emoji != p.cfg.FreezeEmoji || event.Actor.Automated() {
		return nil
	}

	ref, ok := event.MessageRef()
	if !ok {
		return nil
	}
	original, isReply := p.cfg.Registry.OriginalFor(ref)
	if !isReply {
		return nil
	}
	if p.cfg.Freezer.Freeze(original) {
		p.logger.InfoContext(ctx, "original frozen",
			"original", original.String(),
			"actor", event.Actor.ID,
		)
	}

	return nil
}

// Close stops pending view expiries and waits for running ones.
func (p *Pipeline) Close() {
	p.views.close()
}

func (p *Pipeline) forgetReply(reply hermes.MessageRef) {
	p.views.stop(reply)
	p.cfg.Registry.UnlinkByReply(reply)
}

// deleteReplies deletes every reply, logging failures without stopping.
func (p *Pipeline) deleteReplies(ctx context.Context, replies []linker.Reply) {
	for _, reply := range replies {
		p.views.stop(reply.Ref)
		err := p.cfg.Dispatcher.DeleteMessage(ctx, hermes.DeleteMessageRequest{
			Target:    reply.Target,
			MessageID: reply.Ref.MessageID,
			Revoke:    true,
		})
		if err == nil || hermes.IsOutboundNotFound(err) {
			continue
		}
		p.logger.WarnContext(ctx, "delete reply failed",
			"reply", reply.Ref.String(),
			"error", err,
		)
	}
}

func (p *Pipeline) buildView(message Message, content ProcessedContent) *hermes.View {
	if p.cfg.Views == nil {
		return nil
	}
	view := p.cfg.Views(message, content)
	if view.Empty() {
		return nil
	}
	if view.ID == "" {
		view.ID = newViewID()
	}

	return view
}
