package reaction

import (
	"context"
	"fmt"
	"slices"

	"ex-hermes/pkg/hermes"
)

// ProcessedContent is what a feature derives from one message body.
//
// ItemCount <= 0 means there is nothing to show. Change detection compares two
// results with Equal rather than looking at ItemCount alone.
type ProcessedContent struct {
	// Text is the rendered reply body.
	Text string
	// Entities decorates Text.
	Entities []hermes.TextEntity
	// ItemCount is the number of derived items rendered into Text.
	ItemCount int
	// DisableLinkPreview asks the sink not to unfurl links in the reply.
	DisableLinkPreview bool
	// Links are the canonical locations of the rendered items.
	Links []Link
}

// Link is one labeled location of a rendered item.
type Link struct {
	Text string
	URL  string
}

// Empty reports whether the content has nothing to show.
func (c ProcessedContent) Empty() bool {
	return c.ItemCount <= 0
}

// Equal reports whether two results would render the same reply.
func (c ProcessedContent) Equal(other ProcessedContent) bool {
	return c.Text == other.Text &&
		c.ItemCount == other.ItemCount &&
		c.DisableLinkPreview == other.DisableLinkPreview &&
		slices.Equal(c.Entities, other.Entities) &&
		slices.Equal(c.Links, other.Links)
}

// Message is an inbound message as the pipeline sees it.
type Message struct {
	// Ref identifies the message.
	Ref hermes.MessageRef
	// Target routes replies back to the message's conversation.
	Target hermes.OutboundTarget
	// Author is who wrote the message.
	Author hermes.Actor
	// Content is the message state being processed.
	Content hermes.MessageSnapshot
}

// Processor derives reply content from a message.
type Processor interface {
	Process(ctx context.Context, message Message) (ProcessedContent, error)
}

// ProcessorFunc adapts a function into a Processor.
type ProcessorFunc func(ctx context.Context, message Message) (ProcessedContent, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, message Message) (ProcessedContent, error) {
	return f(ctx, message)
}

// Interactor posts and links the first reply for a message.
type Interactor interface {
	Interact(ctx context.Context, message Message) error
}

// InteractorFunc adapts a function into an Interactor.
type InteractorFunc func(ctx context.Context, message Message) error

// Interact calls f.
func (f InteractorFunc) Interact(ctx context.Context, message Message) error {
	return f(ctx, message)
}

// ViewFactory builds the interactive controls attached to a reply.
//
// Returning nil or an empty view sends the reply without controls.
type ViewFactory func(message Message, content ProcessedContent) *hermes.View

// LinkButtons returns a ViewFactory rendering one URL button row per content
// link, keeping at most maxRows rows.
func LinkButtons(maxRows int) ViewFactory {
	return func(_ Message, content ProcessedContent) *hermes.View {
		if maxRows <= 0 {
			return nil
		}
		rows := make([][]hermes.ViewButton, 0, min(len(content.Links), maxRows))
		for _, link := range content.Links {
			if len(rows) == maxRows {
				break
			}
			if link.URL == "" || link.Text == "" {
				continue
			}
			rows = append(rows, []hermes.ViewButton{{Text: link.Text, URL: link.URL}})
		}
		if len(rows) == 0 {
			return nil
		}

		return &hermes.View{Rows: rows}
	}
}

// messageFromEvent builds the pipeline view of a message.created event.
func messageFromEvent(event *hermes.Event) (Message, error) {
	ref, ok := event.MessageRef()
	if !ok {
		return Message{}, fmt.Errorf("%w: event %s has no message identity", hermes.ErrInvalidEvent, event.ID)
	}
	target, err := hermes.OutboundTargetFromEvent(event)
	if err != nil {
		return Message{}, err
	}

	message := Message{
		Ref:    ref,
		Target: target,
		Author: event.Actor,
	}
	if event.Message != nil {
		message.Content = *event.Message.Snapshot()
	}

	return message, nil
}

// withContent returns a copy of m carrying snapshot as its content.
func (m Message) withContent(snapshot *hermes.MessageSnapshot) Message {
	if snapshot != nil {
		m.Content = *snapshot
	}

	return m
}
