package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ex-hermes/pkg/hermes"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingEventDispatcher struct {
	mu     sync.Mutex
	events []*hermes.Event
	err    error
}

func (d *recordingEventDispatcher) Publish(_ context.Context, event *hermes.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, event)
	return d.err
}

func (d *recordingEventDispatcher) snapshot() []*hermes.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*hermes.Event(nil), d.events...)
}

func runDriver(t *testing.T, driver *Driver, updates []Update, dispatcher hermes.EventDispatcher) {
	t.Helper()

	channel := make(chan Update, len(updates))
	for _, update := range updates {
		channel <- update
	}
	close(channel)
	driver.source = ChannelSource{Updates: channel}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := driver.Start(ctx, dispatcher); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestDriverPublishesEnrichedEvents(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(ChannelSource{}, nil, WithName("tg-main"))
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	occurredAt := time.Unix(1_700_000_000, 0).UTC()
	updates := []Update{
		{
			ID: "tg:message:42:7", Type: UpdateTypeMessage, OccurredAt: occurredAt,
			Chat:    ChatRef{ID: "42", Type: hermes.ConversationTypePrivate},
			Actor:   ActorRef{ID: "42", Username: "alice"},
			Message: &MessagePayload{ID: "7", Text: "see #12"},
		},
		{
			ID: "tg:edit:42:7", Type: UpdateTypeEdit, OccurredAt: occurredAt.Add(time.Second),
			Chat:  ChatRef{ID: "42", Type: hermes.ConversationTypePrivate},
			Actor: ActorRef{ID: "42", Username: "alice"},
			Edit:  &EditPayload{MessageID: "7", Text: "see #13"},
		},
		{
			ID: "tg:delete:7:100", Type: UpdateTypeDelete, OccurredAt: occurredAt.Add(2 * time.Second),
			Delete: &DeletePayload{MessageID: "7"},
		},
		{
			ID: "tg:delete:99:101", Type: UpdateTypeDelete, OccurredAt: occurredAt.Add(3 * time.Second),
			Delete: &DeletePayload{MessageID: "99"},
		},
	}

	dispatcher := &recordingEventDispatcher{}
	runDriver(t, driver, updates, dispatcher)

	events := dispatcher.snapshot()
	if len(events) != 3 {
		t.Fatalf("published events = %d, want 3 (unknown delete dropped)", len(events))
	}
	for _, event := range events {
		if event.Source.ID != "tg-main" || event.Source.Platform != hermes.PlatformTelegram {
			t.Fatalf("source = %+v, want telegram/tg-main", event.Source)
		}
	}

	edit := events[1]
	if edit.Mutation.Before == nil || edit.Mutation.Before.Text != "see #12" {
		t.Fatalf("edit before = %+v, want see #12", edit.Mutation.Before)
	}

	retraction := events[2]
	if retraction.Conversation.ID != "42" {
		t.Fatalf("retraction conversation = %q, want 42", retraction.Conversation.ID)
	}
	if retraction.Actor.Username != "alice" {
		t.Fatalf("retraction actor = %+v, want alice", retraction.Actor)
	}
	if retraction.Mutation.Before == nil || retraction.Mutation.Before.Text != "see #13" {
		t.Fatalf("retraction before = %+v, want see #13", retraction.Mutation.Before)
	}
}

func TestDriverSurvivesBadUpdatesAndPublishErrors(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(ChannelSource{}, nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	updates := []Update{
		{ID: "broken", Type: UpdateTypeMessage, Chat: ChatRef{ID: "1"}},
		{ID: "unknown", Type: UpdateType("poll"), Chat: ChatRef{ID: "1"}},
		{
			ID: "tg:message:1:2", Type: UpdateTypeMessage,
			Chat:    ChatRef{ID: "1", Type: hermes.ConversationTypeGroup},
			Message: &MessagePayload{ID: "2", Text: "ok"},
		},
	}

	dispatcher := &recordingEventDispatcher{err: errors.New("bus full")}
	runDriver(t, driver, updates, dispatcher)

	if got := len(dispatcher.snapshot()); got != 1 {
		t.Fatalf("publish attempts = %d, want 1", got)
	}
}

func TestNewDriverValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDriver(nil, nil); err == nil {
		t.Fatal("expected nil source error")
	}

	driver, err := NewDriver(ChannelSource{}, nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	if driver.Name() != DriverType {
		t.Fatalf("name = %q, want %q", driver.Name(), DriverType)
	}
	if err := driver.Start(context.Background(), nil); err == nil {
		t.Fatal("expected nil dispatcher error")
	}
}

func TestDriverStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(ChannelSource{Updates: make(chan Update)}, nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- driver.Start(ctx, &recordingEventDispatcher{})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
