package driver

import (
	"context"
	"log/slog"

	"ex-hermes/internal/driver/telegram"
)

// NewBuiltinRegistry returns a registry with every driver type this binary ships.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry(Descriptor{
		Type:     telegram.DriverType,
		Platform: telegram.DriverPlatform,
		Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
			source, telegramDriver, sinkDispatcher, err := telegram.BuildRuntimeFromConfig(
				definition.Name,
				logger,
				definition.Config,
			)
			if err != nil {
				return Runtime{}, err
			}

			return Runtime{
				Source:         source,
				Driver:         telegramDriver,
				SinkDispatcher: sinkDispatcher,
			}, nil
		},
	})
}
