package hermes

import (
	"context"
	"time"
)

// BackpressurePolicy picks what a full subscription queue does with the next
// event.
type BackpressurePolicy string

const (
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock waits for room or for the publisher's context.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec configures one consumer. Zero values inherit the kernel
// defaults.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// NewDefaultSubscriptionSpec returns a named spec that inherits kernel defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// NewOrderedSubscriptionSpec returns a spec whose events are handled one at a
// time in publish order. Publishers block rather than lose events.
func NewOrderedSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name, Workers: 1, Backpressure: BackpressureBlock}
}

// Subscription is a live registration returned by EventBus.Subscribe.
type Subscription interface {
	Name() string
	Close(ctx context.Context) error
}

// EventBus fans published events out to subscriptions whose InterestSet
// matches. Each subscription has a bounded queue and its own workers.
type EventBus interface {
	EventDispatcher
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	Close(ctx context.Context) error
}
