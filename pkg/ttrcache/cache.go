// Package ttrcache provides a time-to-refresh cache.
//
// A Cache serves stored values until they expire and refreshes an expired or
// missing key through exactly one in-flight fetch, shared by every concurrent
// caller asking for that key.
package ttrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrFetch wraps every failure returned by a fetch function.
var ErrFetch = errors.New("ttrcache: fetch failed")

// FetchFunc loads the current value for one key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrency-safe TTR cache.
type Cache[K comparable, V any] struct {
	fetch        FetchFunc[K, V]
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        func() time.Time
	keyString    func(K) string

	mu      sync.RWMutex
	entries map[K]entry[V]
	flights singleflight.Group
}

// Option mutates cache construction settings.
type Option[K comparable, V any] func(*Cache[K, V])

// WithClock overrides the time source used for expiry.
func WithClock[K comparable, V any](clock func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFetchTimeout bounds each fetch independently of caller contexts.
func WithFetchTimeout[K comparable, V any](timeout time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

// WithKeyString sets how keys are folded into flight identifiers.
//
// The default formats keys with %#v, which is unique for strings, numbers and
// flat structs.
func WithKeyString[K comparable, V any](keyString func(K) string) Option[K, V] {
	return func(c *Cache[K, V]) {
		if keyString != nil {
			c.keyString = keyString
		}
	}
}

// New creates a cache whose entries stay fresh for ttl after each successful fetch.
func New[K comparable, V any](ttl time.Duration, fetch FetchFunc[K, V], options ...Option[K, V]) (*Cache[K, V], error) {
	if fetch == nil {
		return nil, fmt.Errorf("new ttr cache: nil fetch func")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("new ttr cache: ttl must be positive, got %s", ttl)
	}

	cache := &Cache[K, V]{
		fetch:     fetch,
		ttl:       ttl,
		clock:     time.Now,
		keyString: func(key K) string { return fmt.Sprintf("%#v", key) },
		entries:   make(map[K]entry[V]),
	}
	for _, option := range options {
		option(cache)
	}

	return cache, nil
}

// Get returns the value for key, fetching it when missing or expired.
//
// When a refresh fails and an expired value is still stored, that value is
// returned without error. Otherwise the error wraps ErrFetch and the fetch
// cause. A canceled ctx releases only this caller; the shared fetch keeps
// running for the others.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	now := c.clock()

	c.mu.RLock()
	stored, exists := c.entries[key]
	c.mu.RUnlock()
	if exists && now.Before(stored.expiresAt) {
		return stored.value, nil
	}

	flight := c.flights.DoChan(c.keyString(key), func() (any, error) {
		return c.refresh(ctx, key)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("ttr cache get: %w", ctx.Err())
	case result := <-flight:
		if result.Err == nil {
			value, _ := result.Val.(V)
			return value, nil
		}

		c.mu.RLock()
		stale, hasStale := c.entries[key]
		c.mu.RUnlock()
		if hasStale {
			return stale.value, nil
		}

		return zero, result.Err
	}
}

func (c *Cache[K, V]) refresh(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	stored, exists := c.entries[key]
	c.mu.RUnlock()
	// A flight that finished between the caller's read and DoChan already
	// installed a fresh entry.
	if exists && c.clock().Before(stored.expiresAt) {
		return stored.value, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()
	}

	value, err := c.fetch(fetchCtx, key)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("%w: key %v: %w", ErrFetch, key, err)
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()

	return value, nil
}

// Peek returns the stored value for key without fetching.
//
// The second result reports whether a value exists; fresh reports whether it
// has not yet expired.
func (c *Cache[K, V]) Peek(key K) (value V, ok bool, fresh bool) {
	c.mu.RLock()
	stored, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists {
		return value, false, false
	}

	return stored.value, true, c.clock().Before(stored.expiresAt)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Clear drops every stored entry. In-flight fetches still install their result.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}
