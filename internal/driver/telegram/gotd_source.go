package telegram

import (
	"context"
	"fmt"
	"log/slog"
)

// gotdSession runs a connected, authenticated gotd session.
type gotdSession interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdSource streams mapped updates out of a live gotd session.
type GotdSource struct {
	session gotdSession
	updates *GotdUpdateChannel
	mapper  gotdUpdateMapper
	logger  *slog.Logger
}

func newGotdSource(
	session gotdSession,
	updates *GotdUpdateChannel,
	peers *PeerCache,
	logger *slog.Logger,
) (*GotdSource, error) {
	switch {
	case session == nil:
		return nil, fmt.Errorf("new gotd source: nil session")
	case updates == nil:
		return nil, fmt.Errorf("new gotd source: nil update channel")
	case peers == nil:
		return nil, fmt.Errorf("new gotd source: nil peer cache")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GotdSource{
		session: session,
		updates: updates,
		mapper:  newGotdUpdateMapper(peers),
		logger:  logger,
	}, nil
}

// Consume runs the session and forwards mapped updates to handler until ctx
// ends. Unmappable updates are logged and skipped.
func (s *GotdSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd updates: nil handler")
	}

	err := s.session.Run(ctx, func(runCtx context.Context) error {
		return s.pump(runCtx, handler)
	})
	if err != nil {
		return fmt.Errorf("consume gotd updates: %w", err)
	}

	return nil
}

func (s *GotdSource) pump(ctx context.Context, handler UpdateHandler) error {
	stream := s.updates.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-stream:
			if !ok {
				return nil
			}

			mapped, accepted, err := s.mapSafely(envelope)
			if err != nil {
				s.logger.WarnContext(ctx, "gotd update skipped", "class", envelope.updateClass, "error", err)
				continue
			}
			if !accepted {
				continue
			}
			if err := handler(ctx, mapped); err != nil {
				return fmt.Errorf("handle gotd update %s: %w", mapped.Type, err)
			}
		}
	}
}

func (s *GotdSource) mapSafely(envelope gotdUpdateEnvelope) (mapped Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update panic: %v", recovered)
		}
	}()

	return s.mapper.Map(envelope)
}
