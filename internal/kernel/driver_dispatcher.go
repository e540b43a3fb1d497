package kernel

import (
	"context"
	"fmt"
	"time"

	"ex-hermes/pkg/hermes"
)

// driverDispatcher is the hermes.EventDispatcher handed to one running driver.
//
// It stamps the driver name as the event source when a driver leaves it
// empty, so modules can always route replies back to the producing driver.
type driverDispatcher struct {
	driverName string
	bus        hermes.EventDispatcher
	clock      func() time.Time
}

// Publish fills source defaults and forwards event to the bus.
func (d driverDispatcher) Publish(ctx context.Context, event *hermes.Event) error {
	if event == nil {
		return fmt.Errorf("driver %s publish: %w: nil event", d.driverName, hermes.ErrInvalidEvent)
	}
	if event.Source.ID == "" {
		event.Source.ID = d.driverName
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.clock().UTC()
	}

	if err := d.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("driver %s publish: %w", d.driverName, err)
	}

	return nil
}
