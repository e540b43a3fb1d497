package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ex-hermes/pkg/hermes"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name         string
	module       hermes.Module
	capabilities []hermes.Capability

	subMu         sync.Mutex
	subscriptions []hermes.Subscription
}

func (m *moduleRecord) addSubscription(subscription hermes.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes and forgets every owned subscription; repeated calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the hermes.ModuleRuntime handed to one module.
type moduleRuntime struct {
	record   *moduleRecord
	services hermes.ServiceRegistry
	bus      hermes.EventBus
}

// Services returns the registry as seen by this module.
func (r *moduleRuntime) Services() hermes.ServiceRegistry {
	return moduleServiceRegistry{
		base:       r.services,
		moduleName: r.record.name,
	}
}

// Subscribe registers a module-owned subscription covered by a declared capability.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest hermes.InterestSet,
	spec hermes.SubscriptionSpec,
	handler hermes.EventHandler,
) (hermes.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.record.name + "-subscription"
	}
	if !capabilitiesAllow(r.record.capabilities, interest) {
		return nil, fmt.Errorf(
			"module %s subscribe %s: %w: interest not covered by declared capabilities",
			r.record.name,
			spec.Name,
			hermes.ErrInvalidSubscription,
		)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.record.name, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

func capabilitiesAllow(capabilities []hermes.Capability, interest hermes.InterestSet) bool {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return true
		}
	}

	return false
}

// moduleServiceRegistry scopes shared services to one module.
//
// The process logger is handed out with a module attribute attached.
type moduleServiceRegistry struct {
	base       hermes.ServiceRegistry
	moduleName string
}

func (r moduleServiceRegistry) Register(name string, service any) error {
	if err := r.base.Register(name, service); err != nil {
		return fmt.Errorf("module %s: %w", r.moduleName, err)
	}

	return nil
}

func (r moduleServiceRegistry) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", r.moduleName, err)
	}
	if name != hermes.ServiceLogger {
		return service, nil
	}

	logger, ok := service.(*slog.Logger)
	if !ok {
		return service, nil
	}

	return logger.With("module", r.moduleName), nil
}
