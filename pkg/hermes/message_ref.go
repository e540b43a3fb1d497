package hermes

// MessageRef is the stable, comparable identity of one platform message.
//
// It carries no content, so it is safe to use as a map key across edits.
type MessageRef struct {
	// SinkID is the configured driver instance owning the message.
	SinkID string
	// ConversationID is the platform conversation identifier.
	ConversationID string
	// MessageID is the platform message identifier inside the conversation.
	MessageID string
}

// IsZero reports whether the reference identifies nothing.
func (r MessageRef) IsZero() bool {
	return r.MessageID == "" && r.ConversationID == ""
}

// String renders the reference for logs.
func (r MessageRef) String() string {
	if r.SinkID == "" {
		return r.ConversationID + "/" + r.MessageID
	}

	return r.SinkID + ":" + r.ConversationID + "/" + r.MessageID
}
