package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ex-hermes/internal/msgstore"
	"ex-hermes/pkg/hermes"
)

const defaultPublishTimeout = 2 * time.Second

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	logger         *slog.Logger
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds how long one event may wait to enter the bus.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithDriverLogger configures the logger for dropped and undecodable updates.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(cfg *driverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Driver adapts Telegram updates into neutral hermes events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	journal *journal
}

// NewDriver creates a Telegram driver reading from source. Edit and delete
// events are completed from store, which a nil value replaces with a
// private default-sized store.
func NewDriver(source UpdateSource, store *msgstore.Store, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		journal: newJournal(store),
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes Telegram updates and publishes neutral events.
func (d *Driver) Start(ctx context.Context, dispatcher hermes.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver: nil dispatcher")
	}

	err := d.source.Consume(ctx, func(handlerCtx context.Context, update Update) error {
		d.handleUpdate(handlerCtx, update, dispatcher)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

// handleUpdate decodes, enriches and publishes one update. Failures are
// logged; one bad update never stops the session.
func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher hermes.EventDispatcher) {
	event, err := d.decodeSafely(update)
	if err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram update dropped", "update", update.ID, "error", err)
		return
	}
	if !d.journal.observe(event) {
		d.cfg.logger.DebugContext(ctx, "telegram delete for unknown message dropped",
			"message_id", event.Mutation.TargetMessageID,
		)
		return
	}
	event.Source.ID = d.cfg.name
	if err := event.Validate(); err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram update dropped", "update", update.ID, "error", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram event publish failed",
			"event", event.ID,
			"kind", event.Kind,
			"error", err,
		)
	}
}

func (d *Driver) decodeSafely(update Update) (decoded *hermes.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("decode telegram update %s panic: %v", update.Type, recovered)
		}
	}()

	return decodeUpdate(update)
}

// Shutdown releases resources not controlled by the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
