package hermes

import (
	"fmt"
)

// Well-known service names registered by the bot binary.
const (
	// ServiceLogger resolves to the process *slog.Logger.
	ServiceLogger = "hermes.logger"
	// ServiceSinkDispatcher resolves to the SinkDispatcher that reaches every driver.
	ServiceSinkDispatcher = "hermes.sink_dispatcher"
)

// ServiceRegistry holds process-wide singletons by name.
type ServiceRegistry interface {
	Register(name string, service any) error
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts the result to T.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: unexpected type %T", name, service)
	}

	return typed, nil
}
