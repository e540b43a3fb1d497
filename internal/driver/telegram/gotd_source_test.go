package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

type fakeGotdSession struct {
	runErr error
}

func (s fakeGotdSession) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if s.runErr != nil {
		return s.runErr
	}

	return fn(ctx)
}

func TestGotdSourceConsumeMapsUpdates(t *testing.T) {
	t.Parallel()

	updates := NewGotdUpdateChannel(8)
	source, err := newGotdSource(fakeGotdSession{}, updates, NewPeerCache(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newGotdSource failed: %v", err)
	}

	message := &tg.Message{ID: 3, PeerID: &tg.PeerChat{ChatID: 77}, Date: 1_700_000_000, Message: "hi"}
	message.SetFromID(&tg.PeerUser{UserID: 42})
	batch := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateUserTyping{UserID: 42},
		&tg.UpdateNewMessage{Message: message},
	}}
	if err := updates.Handle(context.Background(), batch); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan Update, 1)
	err = source.Consume(ctx, func(_ context.Context, update Update) error {
		received <- update
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	got := <-received
	if got.Type != UpdateTypeMessage || got.Message.ID != "3" || got.Chat.ID != "77" {
		t.Fatalf("update = %+v, want message 3 in chat 77", got)
	}
}

func TestGotdSourceSkipsPanickingMapper(t *testing.T) {
	t.Parallel()

	updates := NewGotdUpdateChannel(8)
	source := &GotdSource{
		session: fakeGotdSession{},
		updates: updates,
		mapper:  newGotdUpdateMapper(nil),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := updates.Handle(context.Background(), &tg.UpdateShort{Update: &tg.UpdateUserTyping{}}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	calls := 0
	err := source.Consume(ctx, func(context.Context, Update) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler calls = %d, want 0", calls)
	}
}

func TestGotdSourceErrors(t *testing.T) {
	t.Parallel()

	if _, err := newGotdSource(nil, NewGotdUpdateChannel(1), NewPeerCache(), nil); err == nil {
		t.Fatal("expected nil session error")
	}
	if _, err := newGotdSource(fakeGotdSession{}, nil, NewPeerCache(), nil); err == nil {
		t.Fatal("expected nil update channel error")
	}
	if _, err := newGotdSource(fakeGotdSession{}, NewGotdUpdateChannel(1), nil, nil); err == nil {
		t.Fatal("expected nil peer cache error")
	}

	sessionErr := errors.New("auth key unregistered")
	source, err := newGotdSource(fakeGotdSession{runErr: sessionErr}, NewGotdUpdateChannel(1), NewPeerCache(), nil)
	if err != nil {
		t.Fatalf("newGotdSource failed: %v", err)
	}
	if err := source.Consume(context.Background(), func(context.Context, Update) error { return nil }); !errors.Is(err, sessionErr) {
		t.Fatalf("Consume error = %v, want session error", err)
	}
	if err := source.Consume(context.Background(), nil); err == nil {
		t.Fatal("expected nil handler error")
	}
}
