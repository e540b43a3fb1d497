// Package driver builds configured platform drivers and routes outbound
// operations back to the driver instance that owns a conversation.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"ex-hermes/pkg/hermes"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the driver instance identifier stamped on every event it produces.
	Name string `json:"name"`
	// Type selects the descriptor used to build the instance.
	Type string `json:"type"`
	// Enabled controls whether this definition is built at all.
	Enabled bool `json:"enabled"`
	// Config is the type-specific JSON payload.
	Config json.RawMessage `json:"config"`
}

// Runtime is one fully built driver instance.
type Runtime struct {
	Source         hermes.EventSource
	Driver         hermes.Driver
	SinkDispatcher hermes.SinkDispatcher
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds a driver type token to its platform and builder.
type Descriptor struct {
	Type     string
	Platform hermes.Platform
	Builder  BuilderFunc
}

// Registry maps driver type tokens to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates a registry pre-populated with descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	registry := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, descriptor := range descriptors {
		if err := registry.Register(descriptor); err != nil {
			return nil, fmt.Errorf("new registry: %w", err)
		}
	}

	return registry, nil
}

// Register adds one descriptor. Type tokens are write-once.
func (r *Registry) Register(descriptor Descriptor) error {
	switch {
	case descriptor.Type == "":
		return fmt.Errorf("register driver type: empty type")
	case descriptor.Platform == "":
		return fmt.Errorf("register driver type %s: empty platform", descriptor.Type)
	case descriptor.Builder == nil:
		return fmt.Errorf("register driver type %s: nil builder", descriptor.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[descriptor.Type]; exists {
		return fmt.Errorf("register driver type %s: duplicate", descriptor.Type)
	}
	r.descriptors[descriptor.Type] = descriptor

	return nil
}

// Types returns registered type tokens in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.descriptors))
}

// PlatformForType resolves a type token to its platform.
func (r *Registry) PlatformForType(driverType string) (hermes.Platform, error) {
	r.mu.RLock()
	descriptor, exists := r.descriptors[driverType]
	r.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("platform for driver type %s: unsupported type", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition, in order.
//
// Definition errors are collected so a misconfigured file reports every
// broken driver at once; no runtime is returned when any build fails.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		runtimes []Runtime
		buildErr error
	)
	seen := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			logger.DebugContext(ctx, "driver disabled", "driver", definition.Name)
			continue
		}

		runtime, err := r.build(ctx, definition, seen, logger)
		if err != nil {
			buildErr = errors.Join(buildErr, err)
			continue
		}
		runtimes = append(runtimes, runtime)
	}
	if buildErr != nil {
		return nil, fmt.Errorf("build drivers: %w", buildErr)
	}

	return runtimes, nil
}

func (r *Registry) build(
	ctx context.Context,
	definition Definition,
	seen map[string]struct{},
	logger *slog.Logger,
) (Runtime, error) {
	if definition.Name == "" {
		return Runtime{}, fmt.Errorf("driver with type %q: empty name", definition.Type)
	}
	if _, exists := seen[definition.Name]; exists {
		return Runtime{}, fmt.Errorf("driver %s: duplicate name", definition.Name)
	}
	seen[definition.Name] = struct{}{}

	r.mu.RLock()
	descriptor, exists := r.descriptors[definition.Type]
	r.mu.RUnlock()
	if !exists {
		return Runtime{}, fmt.Errorf("driver %s: unsupported type %q", definition.Name, definition.Type)
	}

	runtime, err := descriptor.Builder(ctx, definition, logger.With("driver", definition.Name))
	if err != nil {
		return Runtime{}, fmt.Errorf("driver %s: %w", definition.Name, err)
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("driver %s: builder returned nil driver", definition.Name)
	}
	if runtime.Source.Platform == "" {
		runtime.Source.Platform = descriptor.Platform
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}

// CompositeSinkDispatcher routes outbound operations to per-driver dispatchers
// by the sink carried in each request target.
type CompositeSinkDispatcher struct {
	routes map[string]sinkRoute
}

type sinkRoute struct {
	sink       hermes.EventSink
	dispatcher hermes.SinkDispatcher
}

// NewCompositeSinkDispatcher indexes the sink-capable runtimes by source id.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	routes := make(map[string]sinkRoute, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		id := runtime.Source.ID
		if id == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: runtime without source id")
		}
		if _, exists := routes[id]; exists {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate sink id %s", id)
		}
		routes[id] = sinkRoute{
			sink:       hermes.EventSink{Platform: runtime.Source.Platform, ID: id},
			dispatcher: runtime.SinkDispatcher,
		}
	}

	return &CompositeSinkDispatcher{routes: routes}, nil
}

// SendMessage routes a send to the target sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request hermes.SendMessageRequest,
) (*hermes.OutboundMessage, error) {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return dispatcher.SendMessage(ctx, request)
}

// EditMessage routes an edit to the target sink.
func (d *CompositeSinkDispatcher) EditMessage(ctx context.Context, request hermes.EditMessageRequest) error {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("route edit message: %w", err)
	}

	return dispatcher.EditMessage(ctx, request)
}

// DeleteMessage routes a delete to the target sink.
func (d *CompositeSinkDispatcher) DeleteMessage(ctx context.Context, request hermes.DeleteMessageRequest) error {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("route delete message: %w", err)
	}

	return dispatcher.DeleteMessage(ctx, request)
}

// ClearView routes a view removal to the target sink.
func (d *CompositeSinkDispatcher) ClearView(ctx context.Context, request hermes.ClearViewRequest) error {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("route clear view: %w", err)
	}

	return dispatcher.ClearView(ctx, request)
}

// Sinks returns every routable sink sorted by id.
func (d *CompositeSinkDispatcher) Sinks() []hermes.EventSink {
	sinks := make([]hermes.EventSink, 0, len(d.routes))
	for _, id := range slices.Sorted(maps.Keys(d.routes)) {
		sinks = append(sinks, d.routes[id].sink)
	}

	return sinks
}

// resolve picks a dispatcher by sink id, then by unambiguous platform, then
// falls back to the only configured sink.
func (d *CompositeSinkDispatcher) resolve(target hermes.OutboundTarget) (hermes.SinkDispatcher, error) {
	if len(d.routes) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", hermes.ErrOutboundUnsupported)
	}

	if target.Sink == nil || (target.Sink.ID == "" && target.Sink.Platform == "") {
		if len(d.routes) == 1 {
			for _, route := range d.routes {
				return route.dispatcher, nil
			}
		}
		return nil, fmt.Errorf("%w: missing target sink", hermes.ErrOutboundUnsupported)
	}

	sink := *target.Sink
	if sink.ID != "" {
		route, exists := d.routes[sink.ID]
		if !exists {
			return nil, fmt.Errorf("%w: sink %s not found", hermes.ErrOutboundUnsupported, sink.ID)
		}
		if sink.Platform != "" && sink.Platform != route.sink.Platform {
			return nil, fmt.Errorf("%w: sink %s is %s, not %s",
				hermes.ErrOutboundUnsupported, sink.ID, route.sink.Platform, sink.Platform)
		}
		return route.dispatcher, nil
	}

	var match *sinkRoute
	for _, route := range d.routes {
		if route.sink.Platform != sink.Platform {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: ambiguous sink for platform %s", hermes.ErrOutboundUnsupported, sink.Platform)
		}
		match = &route
	}
	if match == nil {
		return nil, fmt.Errorf("%w: no sink for platform %s", hermes.ErrOutboundUnsupported, sink.Platform)
	}

	return match.dispatcher, nil
}
