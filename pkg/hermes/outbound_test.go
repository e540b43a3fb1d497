package hermes

import (
	"errors"
	"testing"
)

func TestOutboundTargetFromEvent(t *testing.T) {
	t.Parallel()

	event := &Event{
		Kind:         EventKindMessageCreated,
		Source:       EventSource{Platform: PlatformTelegram, ID: "tg-main"},
		Conversation: Conversation{ID: "42", Type: ConversationTypeGroup},
	}

	target, err := OutboundTargetFromEvent(event)
	if err != nil {
		t.Fatalf("OutboundTargetFromEvent() error = %v", err)
	}
	if target.Conversation.ID != "42" {
		t.Fatalf("conversation id = %q, want 42", target.Conversation.ID)
	}
	if target.Sink == nil || target.Sink.ID != "tg-main" {
		t.Fatalf("sink = %+v, want tg-main", target.Sink)
	}

	if _, err := OutboundTargetFromEvent(nil); !errors.Is(err, ErrInvalidOutboundRequest) {
		t.Fatalf("nil event error = %v, want %v", err, ErrInvalidOutboundRequest)
	}
	if _, err := OutboundTargetFromEvent(&Event{Kind: EventKindMessageCreated}); !errors.Is(err, ErrInvalidOutboundRequest) {
		t.Fatalf("missing conversation error = %v, want %v", err, ErrInvalidOutboundRequest)
	}
}

func TestOutboundRequestValidate(t *testing.T) {
	t.Parallel()

	target := OutboundTarget{Conversation: Conversation{ID: "1", Type: ConversationTypePrivate}}

	tests := []struct {
		name    string
		request interface{ Validate() error }
		wantErr bool
	}{
		{
			name:    "send valid",
			request: SendMessageRequest{Target: target, Text: "hello"},
		},
		{
			name:    "send empty text",
			request: SendMessageRequest{Target: target},
			wantErr: true,
		},
		{
			name: "send entity out of range",
			request: SendMessageRequest{
				Target:   target,
				Text:     "hi",
				Entities: []TextEntity{{Type: TextEntityTypeBold, Offset: 1, Length: 5}},
			},
			wantErr: true,
		},
		{
			name: "send view button without target",
			request: SendMessageRequest{
				Target: target,
				Text:   "hi",
				View:   &View{Rows: [][]ViewButton{{{Text: "open"}}}},
			},
			wantErr: true,
		},
		{
			name: "send view with url",
			request: SendMessageRequest{
				Target: target,
				Text:   "hi",
				View:   &View{Rows: [][]ViewButton{{{Text: "open", URL: "https://example.com"}}}},
			},
		},
		{
			name:    "edit missing id",
			request: EditMessageRequest{Target: target, Text: "x"},
			wantErr: true,
		},
		{
			name:    "edit valid",
			request: EditMessageRequest{Target: target, MessageID: "9", Text: "x"},
		},
		{
			name:    "delete missing conversation",
			request: DeleteMessageRequest{MessageID: "9"},
			wantErr: true,
		},
		{
			name:    "clear view valid",
			request: ClearViewRequest{Target: target, MessageID: "9"},
		},
		{
			name:    "clear view missing id",
			request: ClearViewRequest{Target: target},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.request.Validate()
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidOutboundRequest) {
					t.Fatalf("Validate() error = %v, want %v", err, ErrInvalidOutboundRequest)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestOutboundMessageRef(t *testing.T) {
	t.Parallel()

	message := &OutboundMessage{
		ID: "77",
		Target: OutboundTarget{
			Conversation: Conversation{ID: "-100", Type: ConversationTypeGroup},
			Sink:         &EventSink{Platform: PlatformTelegram, ID: "tg-main"},
		},
	}

	want := MessageRef{SinkID: "tg-main", ConversationID: "-100", MessageID: "77"}
	if got := message.Ref(); got != want {
		t.Fatalf("Ref() = %+v, want %+v", got, want)
	}
	if got := (*OutboundMessage)(nil).Ref(); !got.IsZero() {
		t.Fatalf("nil Ref() = %+v, want zero", got)
	}
}

func TestViewEmpty(t *testing.T) {
	t.Parallel()

	if !(*View)(nil).Empty() {
		t.Fatal("nil view Empty() = false, want true")
	}
	if !(&View{Rows: [][]ViewButton{{}}}).Empty() {
		t.Fatal("view with empty rows Empty() = false, want true")
	}
	if (&View{Rows: [][]ViewButton{{{Text: "a", URL: "u"}}}}).Empty() {
		t.Fatal("populated view Empty() = true, want false")
	}
}
