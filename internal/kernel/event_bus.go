package kernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ex-hermes/pkg/hermes"
)

// EventBus is the kernel's asynchronous hermes.EventBus.
//
// Every subscription owns a bounded queue drained by its own workers, so a
// slow handler only backs up its own subscription.
type EventBus struct {
	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	onAsyncError          func(context.Context, string, error)

	nextID atomic.Int64

	mu            sync.RWMutex
	closed        bool
	subscriptions map[int64]*busSubscription
}

// SubscriptionStats counts what happened to events offered to one subscription.
type SubscriptionStats struct {
	Name      string
	Delivered int64
	Dropped   int64
	Failed    int64
}

// NewEventBus creates a bus whose subscriptions fall back to the given defaults.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		onAsyncError:          onAsyncError,
		subscriptions:         make(map[int64]*busSubscription),
	}
}

// Publish validates event and enqueues it on every matching subscription.
//
// Drops caused by backpressure are reported asynchronously and do not fail the
// publish; a blocked enqueue canceled by ctx does.
func (b *EventBus) Publish(ctx context.Context, event *hermes.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish event %s: bus closed", event.Kind)
	}
	subs := slices.Collect(maps.Values(b.subscriptions))
	b.mu.RUnlock()

	// Map iteration is random; ordering by id keeps fan-out deterministic.
	slices.SortFunc(subs, func(left, right *busSubscription) int {
		return int(left.id - right.id)
	})

	var publishErr error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, hermes.ErrEventDropped), errors.Is(err, hermes.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			publishErr = errors.Join(publishErr, err)
		}
	}
	if publishErr != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, publishErr)
	}

	return nil
}

// Subscribe registers handler and starts its workers immediately.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest hermes.InterestSet,
	spec hermes.SubscriptionSpec,
	handler hermes.EventHandler,
) (hermes.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: %w: nil handler", spec.Name, hermes.ErrInvalidSubscription)
	}

	id := b.nextID.Add(1)
	spec, err := b.resolveSpec(spec, id)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(id, interest, spec, handler, b)
	b.subscriptions[id] = sub

	return sub, nil
}

// Stats returns counters for every live subscription ordered by registration.
func (b *EventBus) Stats() []SubscriptionStats {
	b.mu.RLock()
	subs := slices.Collect(maps.Values(b.subscriptions))
	b.mu.RUnlock()

	slices.SortFunc(subs, func(left, right *busSubscription) int {
		return int(left.id - right.id)
	})
	stats := make([]SubscriptionStats, 0, len(subs))
	for _, sub := range subs {
		stats = append(stats, sub.stats())
	}

	return stats
}

// Close stops every subscription and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := slices.Collect(maps.Values(b.subscriptions))
	clear(b.subscriptions)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = errors.Join(closeErr, sub.shutdown(ctx))
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) resolveSpec(spec hermes.SubscriptionSpec, id int64) (hermes.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}
	switch spec.Backpressure {
	case "":
		spec.Backpressure = hermes.BackpressureDropNewest
	case hermes.BackpressureDropNewest, hermes.BackpressureDropOldest, hermes.BackpressureBlock:
	default:
		return spec, fmt.Errorf(
			"subscribe %s: %w: unknown backpressure %q",
			spec.Name,
			hermes.ErrInvalidSubscription,
			spec.Backpressure,
		)
	}

	return spec, nil
}

func (b *EventBus) unsubscribe(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[id]
	delete(b.subscriptions, id)
	b.mu.Unlock()

	if !found {
		return nil
	}

	return sub.shutdown(ctx)
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns one queue and its workers.
//
// Workers stop on subscription context cancellation; the queue is never closed,
// so concurrent enqueues cannot panic.
type busSubscription struct {
	id       int64
	interest hermes.InterestSet
	spec     hermes.SubscriptionSpec
	handler  hermes.EventHandler
	bus      *EventBus

	queue  chan *hermes.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func newBusSubscription(
	id int64,
	interest hermes.InterestSet,
	spec hermes.SubscriptionSpec,
	handler hermes.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       id,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		bus:      bus,
		queue:    make(chan *hermes.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	var workers sync.WaitGroup
	for workerID := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.work(workerID)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

func cloneInterestSet(interest hermes.InterestSet) hermes.InterestSet {
	cloned := interest
	cloned.Kinds = slices.Clone(interest.Kinds)
	cloned.Sources = slices.Clone(interest.Sources)

	return cloned
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters the subscription and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) stats() SubscriptionStats {
	return SubscriptionStats{
		Name:      s.spec.Name,
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *busSubscription) enqueue(ctx context.Context, event *hermes.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, hermes.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case hermes.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, hermes.ErrSubscriptionClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	case hermes.BackpressureDropOldest:
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
		}
	}

	s.dropped.Add(1)
	return fmt.Errorf("enqueue %s: %w", s.spec.Name, hermes.ErrEventDropped)
}

func (s *busSubscription) work(workerID int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handle(workerID, event); err != nil {
				s.failed.Add(1)
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
				continue
			}
			s.delivered.Add(1)
		}
	}
}

func (s *busSubscription) handle(workerID int, event *hermes.Event) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s (%s): %w", event.ID, event.Kind, err)
	}

	return nil
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
