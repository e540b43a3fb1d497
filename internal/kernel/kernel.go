// Package kernel wires drivers, modules and the event bus into one runtime.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ex-hermes/pkg/hermes"
)

// Kernel owns the event bus, the service registry and the module and driver lifecycles.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu      sync.RWMutex
	modules []*moduleRecord
	drivers []hermes.Driver

	runMu   sync.Mutex
	running bool
}

// New creates a kernel.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:      cfg,
		services: NewServiceRegistry(),
		bus: NewEventBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
	}
}

// EventBus exposes the kernel event bus.
func (k *Kernel) EventBus() *EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() hermes.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}

	return nil
}

// RegisterModule validates module, runs its OnRegister hook and subscribes its
// declared handlers. A failed registration leaves no trace in the kernel.
func (k *Kernel) RegisterModule(ctx context.Context, module hermes.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if k.findModuleLocked(name) != nil {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, hermes.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)
	k.mu.Unlock()

	runtime := &moduleRuntime{
		record:   record,
		services: k.services,
		bus:      k.bus,
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := module.(hermes.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	for index, handler := range spec.Handlers {
		subscription := handler.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", name, index+1)
		}
		if _, err := runtime.Subscribe(hookCtx, handler.Capability.Interest, subscription, handler.Handler); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s capability %s: %w", name, handler.Capability.Name, err)
		}
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(spec.Handlers),
	)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver hermes.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.drivers {
		if existing.Name() == name {
			return fmt.Errorf("register driver %s: %w", name, hermes.ErrDriverAlreadyRegistered)
		}
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules and drivers and blocks until ctx is canceled or a driver
// fails. Shutdown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	k.runMu.Lock()
	if k.running {
		k.runMu.Unlock()
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true
	k.runMu.Unlock()
	defer func() {
		k.runMu.Lock()
		k.running = false
		k.runMu.Unlock()
	}()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	driversCtx, stopDrivers := context.WithCancel(ctx)
	driverFailed, waitDrivers := k.runDrivers(driversCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverFailed:
	}
	stopDrivers()
	waitDrivers()

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) snapshot() ([]*moduleRecord, []hermes.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules), slices.Clone(k.drivers)
}

func (k *Kernel) startModules(ctx context.Context) error {
	modules, _ := k.snapshot()
	for _, record := range modules {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// runDrivers starts every driver in its own goroutine.
//
// The returned channel yields the first driver failure. The wait function
// blocks until all drivers returned or the shutdown timeout elapsed.
func (k *Kernel) runDrivers(ctx context.Context) (<-chan error, func()) {
	_, drivers := k.snapshot()
	failed := make(chan error, 1)

	var running sync.WaitGroup
	for _, driver := range drivers {
		name := driver.Name()
		dispatcher := driverDispatcher{driverName: name, bus: k.bus, clock: time.Now}

		running.Add(1)
		go func() {
			defer running.Done()
			err := runSafely("driver "+name+" Start", func() error {
				return driver.Start(ctx, dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case failed <- fmt.Errorf("run driver %s: %w", name, err):
			default:
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		running.Wait()
		close(done)
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop before shutdown timeout")
		}
	}

	return failed, wait
}

// shutdownAll stops drivers, then modules, then the bus, even when ctx is already canceled.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	modules, drivers := k.snapshot()

	var shutdownErr error
	for _, driver := range slices.Backward(drivers) {
		name := driver.Name()
		err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		})
		shutdownErr = errors.Join(shutdownErr, err)
	}

	for _, record := range slices.Backward(modules) {
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("module %s: %w", record.name, err))
		}
		hookCtx, hookCancel := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		hookCancel()
		shutdownErr = errors.Join(shutdownErr, err)
	}

	for _, stats := range k.bus.Stats() {
		k.cfg.logger.InfoContext(shutdownCtx, "subscription stats",
			"subscription", stats.Name,
			"delivered", stats.Delivered,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	}
	shutdownErr = errors.Join(shutdownErr, k.bus.Close(shutdownCtx))

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// rollbackModule forgets a module whose registration failed midway.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(candidate *moduleRecord) bool {
		return candidate == record
	})
}

func (k *Kernel) findModuleLocked(name string) *moduleRecord {
	for _, record := range k.modules {
		if record.name == name {
			return record
		}
	}

	return nil
}

func (k *Kernel) checkRequiredServices(capabilities []hermes.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s: %w", capability.Name, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects unnamed, duplicate or handler-less declarations.
func validateModuleSpec(spec hermes.ModuleSpec) error {
	capabilityNames := make(map[string]struct{})
	subscriptionNames := make(map[string]struct{})

	claim := func(seen map[string]struct{}, kind string, name string) error {
		if _, exists := seen[name]; exists {
			return fmt.Errorf("duplicate %s name %s", kind, name)
		}
		seen[name] = struct{}{}
		return nil
	}

	for index, handler := range spec.Handlers {
		if handler.Capability.Name == "" {
			return fmt.Errorf("module handler %d: empty capability name", index)
		}
		if err := claim(capabilityNames, "capability", handler.Capability.Name); err != nil {
			return fmt.Errorf("module handler %d: %w", index, err)
		}
		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		}
		if handler.Subscription.Name == "" {
			continue
		}
		if err := claim(subscriptionNames, "subscription", handler.Subscription.Name); err != nil {
			return fmt.Errorf("module handler %s: %w", handler.Capability.Name, err)
		}
	}

	for index, capability := range spec.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("additional capability %d: empty capability name", index)
		}
		if err := claim(capabilityNames, "capability", capability.Name); err != nil {
			return fmt.Errorf("additional capability %d: %w", index, err)
		}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
