package hermes

import (
	"errors"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := func() Event {
		return Event{
			ID:           "e1",
			Kind:         EventKindMessageCreated,
			OccurredAt:   time.Unix(1, 0),
			Conversation: Conversation{ID: "c1", Type: ConversationTypeGroup},
			Message:      &Message{ID: "m1", Text: "hi"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{name: "valid created", mutate: func(*Event) {}},
		{name: "missing id", mutate: func(e *Event) { e.ID = "" }, wantErr: true},
		{name: "missing message", mutate: func(e *Event) { e.Message = nil }, wantErr: true},
		{name: "missing message id", mutate: func(e *Event) { e.Message.ID = "" }, wantErr: true},
		{
			name: "edit without after",
			mutate: func(e *Event) {
				e.Kind = EventKindMessageEdited
				e.Message = nil
				e.Mutation = &Mutation{Type: MutationTypeEdit, TargetMessageID: "m1"}
			},
			wantErr: true,
		},
		{
			name: "edit with after",
			mutate: func(e *Event) {
				e.Kind = EventKindMessageEdited
				e.Message = nil
				e.Mutation = &Mutation{
					Type:            MutationTypeEdit,
					TargetMessageID: "m1",
					After:           &MessageSnapshot{Text: "new"},
				}
			},
		},
		{
			name: "retraction without before",
			mutate: func(e *Event) {
				e.Kind = EventKindMessageRetracted
				e.Message = nil
				e.Mutation = &Mutation{Type: MutationTypeRetraction, TargetMessageID: "m1"}
			},
		},
		{
			name: "reaction without payload",
			mutate: func(e *Event) {
				e.Kind = EventKindReactionAdded
				e.Message = nil
			},
			wantErr: true,
		},
		{name: "unknown kind", mutate: func(e *Event) { e.Kind = "x.y" }, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event := base()
			testCase.mutate(&event)
			err := event.Validate()
			if testCase.wantErr && !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("Validate() error = %v, want %v", err, ErrInvalidEvent)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestEventMessageRef(t *testing.T) {
	t.Parallel()

	event := &Event{
		Kind:         EventKindMessageRetracted,
		Source:       EventSource{Platform: PlatformTelegram, ID: "tg"},
		Conversation: Conversation{ID: "c"},
		Mutation:     &Mutation{Type: MutationTypeRetraction, TargetMessageID: "m"},
	}

	ref, ok := event.MessageRef()
	if !ok {
		t.Fatal("MessageRef() ok = false, want true")
	}
	if want := (MessageRef{SinkID: "tg", ConversationID: "c", MessageID: "m"}); ref != want {
		t.Fatalf("MessageRef() = %+v, want %+v", ref, want)
	}

	if _, ok := (&Event{Conversation: Conversation{ID: "c"}}).MessageRef(); ok {
		t.Fatal("MessageRef() without payload ok = true, want false")
	}
}

func TestActorAutomated(t *testing.T) {
	t.Parallel()

	if (Actor{ID: "1"}).Automated() {
		t.Fatal("human Automated() = true, want false")
	}
	if !(Actor{IsBot: true}).Automated() {
		t.Fatal("bot Automated() = false, want true")
	}
	if !(Actor{IsSelf: true}).Automated() {
		t.Fatal("self Automated() = false, want true")
	}
}

func TestMessageSnapshotCopiesEntities(t *testing.T) {
	t.Parallel()

	message := &Message{
		Text:     "bold",
		Entities: []TextEntity{{Type: TextEntityTypeBold, Offset: 0, Length: 4}},
	}
	snapshot := message.Snapshot()
	message.Entities[0].Length = 1

	if snapshot.Entities[0].Length != 4 {
		t.Fatalf("snapshot entity length = %d, want 4", snapshot.Entities[0].Length)
	}
}
