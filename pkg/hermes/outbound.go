package hermes

import (
	"context"
	"fmt"
	"time"
)

// SinkDispatcher delivers outbound operations to a platform. Failures are
// reported as *OutboundError where the platform allows classification.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	EditMessage(ctx context.Context, request EditMessageRequest) error
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	ClearView(ctx context.Context, request ClearViewRequest) error
}

// OutboundTarget is a destination conversation, optionally pinned to one
// driver instance through Sink.
type OutboundTarget struct {
	Conversation Conversation
	Sink         *EventSink
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a destination target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
	}
	if event.Source.Platform != "" || event.Source.ID != "" {
		target.Sink = &EventSink{
			Platform: event.Source.Platform,
			ID:       event.Source.ID,
		}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage is a message the dispatcher delivered. SentAt is zero when
// the platform did not report it.
type OutboundMessage struct {
	ID     string
	Target OutboundTarget
	SentAt time.Time
}

// Ref returns the stable identity of the delivered message.
func (m *OutboundMessage) Ref() MessageRef {
	if m == nil {
		return MessageRef{}
	}
	ref := MessageRef{
		ConversationID: m.Target.Conversation.ID,
		MessageID:      m.ID,
	}
	if m.Target.Sink != nil {
		ref.SinkID = m.Target.Sink.ID
	}

	return ref
}

// View is the set of buttons attached to an outbound message. Rows render top
// to bottom and buttons left to right; ID is opaque to drivers.
type View struct {
	ID   string
	Rows [][]ViewButton
}

// Empty reports whether the view renders no controls.
func (v *View) Empty() bool {
	if v == nil {
		return true
	}
	for _, row := range v.Rows {
		if len(row) > 0 {
			return false
		}
	}

	return true
}

// ViewButton opens URL when set and otherwise carries the Action token.
type ViewButton struct {
	Text   string
	URL    string
	Action string
}

// Validate checks button coherence.
func (b ViewButton) Validate() error {
	if b.Text == "" {
		return fmt.Errorf("%w: missing button text", ErrInvalidOutboundRequest)
	}
	if b.URL == "" && b.Action == "" {
		return fmt.Errorf("%w: button %q needs url or action", ErrInvalidOutboundRequest, b.Text)
	}

	return nil
}

// SendMessageRequest posts a new text message, optionally as a reply.
type SendMessageRequest struct {
	Target             OutboundTarget
	Text               string
	Entities           []TextEntity
	ReplyToMessageID   string
	DisableLinkPreview bool
	Silent             bool
	View               *View
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}

	return validateBody("send", r.Text, r.Entities, r.View)
}

// EditMessageRequest replaces the body of a previously sent message. A nil
// View leaves the message without controls.
type EditMessageRequest struct {
	Target             OutboundTarget
	MessageID          string
	Text               string
	Entities           []TextEntity
	DisableLinkPreview bool
	View               *View
}

// Validate checks the request envelope before dispatch.
func (r EditMessageRequest) Validate() error {
	if err := validateExisting("edit", r.Target, r.MessageID); err != nil {
		return err
	}

	return validateBody("edit", r.Text, r.Entities, r.View)
}

// DeleteMessageRequest removes a message. Revoke asks the platform to delete
// it for every participant.
type DeleteMessageRequest struct {
	Target    OutboundTarget
	MessageID string
	Revoke    bool
}

// Validate checks the request envelope before dispatch.
func (r DeleteMessageRequest) Validate() error {
	return validateExisting("delete", r.Target, r.MessageID)
}

// ClearViewRequest strips the controls of a message and keeps its text.
type ClearViewRequest struct {
	Target    OutboundTarget
	MessageID string
}

// Validate checks the request envelope before dispatch.
func (r ClearViewRequest) Validate() error {
	return validateExisting("clear view", r.Target, r.MessageID)
}

func validateExisting(op string, target OutboundTarget, messageID string) error {
	if err := target.Validate(); err != nil {
		return fmt.Errorf("validate %s target: %w", op, err)
	}
	if messageID == "" {
		return fmt.Errorf("%w: %s: missing message id", ErrInvalidOutboundRequest, op)
	}

	return nil
}

func validateBody(op string, text string, entities []TextEntity, view *View) error {
	if text == "" {
		return fmt.Errorf("%w: %s: missing message text", ErrInvalidOutboundRequest, op)
	}
	if err := ValidateTextEntities(text, entities); err != nil {
		return fmt.Errorf("%w: %s entities: %w", ErrInvalidOutboundRequest, op, err)
	}
	if view == nil {
		return nil
	}
	for rowIndex, row := range view.Rows {
		for buttonIndex, button := range row {
			if err := button.Validate(); err != nil {
				return fmt.Errorf("%s view row %d button %d: %w", op, rowIndex, buttonIndex, err)
			}
		}
	}

	return nil
}
