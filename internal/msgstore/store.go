// Package msgstore remembers recent message snapshots so drivers can restore
// the context platforms omit from edit and delete updates.
package msgstore

import (
	"container/list"
	"slices"
	"sync"
	"time"

	"ex-hermes/pkg/hermes"
)

const (
	// DefaultCapacity bounds the number of remembered messages.
	DefaultCapacity = 10000
	// DefaultTTL is how long a snapshot stays usable after its last write.
	DefaultTTL = 48 * time.Hour
)

// Key identifies one message inside one conversation.
type Key struct {
	ConversationID string
	MessageID      string
}

// Record is what the store knows about one message.
type Record struct {
	Conversation hermes.Conversation
	Author       hermes.Actor
	ReplyToID    string
	Snapshot     hermes.MessageSnapshot
}

type entry struct {
	key       Key
	record    Record
	expiresAt time.Time
}

// Store is a concurrency-safe LRU of message records with per-entry expiry.
type Store struct {
	capacity int
	ttl      time.Duration
	clock    func() time.Time

	mu        sync.Mutex
	lru       *list.List
	index     map[Key]*list.Element
	byMessage map[string]map[Key]struct{}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a store. Non-positive capacity or ttl select the defaults.
func New(capacity int, ttl time.Duration, options ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	store := &Store{
		capacity:  capacity,
		ttl:       ttl,
		clock:     time.Now,
		lru:       list.New(),
		index:     make(map[Key]*list.Element),
		byMessage: make(map[string]map[Key]struct{}),
	}
	for _, option := range options {
		option(store)
	}

	return store
}

// Put stores record under key, replacing any previous record.
func (s *Store) Put(key Key, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Snapshot.Entities = slices.Clone(record.Snapshot.Entities)
	expiresAt := s.clock().Add(s.ttl)
	if element, exists := s.index[key]; exists {
		current := element.Value.(*entry)
		current.record = record
		current.expiresAt = expiresAt
		s.lru.MoveToFront(element)
		return
	}

	s.index[key] = s.lru.PushFront(&entry{key: key, record: record, expiresAt: expiresAt})
	keys, exists := s.byMessage[key.MessageID]
	if !exists {
		keys = make(map[Key]struct{}, 1)
		s.byMessage[key.MessageID] = keys
	}
	keys[key] = struct{}{}
	s.trimLocked()
}

// Update replaces the snapshot of a known message and reports the previous one.
//
// Unknown or expired messages are left alone.
func (s *Store) Update(key Key, snapshot hermes.MessageSnapshot) (hermes.MessageSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.liveLocked(key)
	if !ok {
		return hermes.MessageSnapshot{}, false
	}
	previous := current.record.Snapshot
	current.record.Snapshot = snapshot
	current.record.Snapshot.Entities = slices.Clone(snapshot.Entities)
	current.expiresAt = s.clock().Add(s.ttl)
	s.lru.MoveToFront(s.index[key])

	return cloneSnapshot(previous), true
}

// Get returns the live record stored under key.
func (s *Store) Get(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.liveLocked(key)
	if !ok {
		return Record{}, false
	}
	s.lru.MoveToFront(s.index[key])

	return cloneRecord(current.record), true
}

// FindByMessageID returns the only live record carrying messageID.
//
// Some platforms report deletions with a message id but no conversation; the
// lookup fails when the id is unknown or shared by several conversations.
func (s *Store) FindByMessageID(messageID string) (Key, Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found Key
		match *entry
	)
	for key := range s.byMessage[messageID] {
		current, ok := s.liveLocked(key)
		if !ok {
			continue
		}
		if match != nil {
			return Key{}, Record{}, false
		}
		found, match = key, current
	}
	if match == nil {
		return Key{}, Record{}, false
	}

	return found, cloneRecord(match.record), true
}

// Delete forgets key and reports whether it was stored.
func (s *Store) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.index[key]
	s.deleteLocked(key)

	return exists
}

// Len returns the number of stored records, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Len()
}

func (s *Store) liveLocked(key Key) (*entry, bool) {
	element, exists := s.index[key]
	if !exists {
		return nil, false
	}
	current := element.Value.(*entry)
	if !s.clock().Before(current.expiresAt) {
		s.deleteLocked(key)
		return nil, false
	}

	return current, true
}

func (s *Store) trimLocked() {
	for s.lru.Len() > s.capacity {
		back := s.lru.Back()
		if back == nil {
			return
		}
		s.deleteLocked(back.Value.(*entry).key)
	}
}

func (s *Store) deleteLocked(key Key) {
	element, exists := s.index[key]
	if !exists {
		return
	}
	s.lru.Remove(element)
	delete(s.index, key)

	keys := s.byMessage[key.MessageID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.byMessage, key.MessageID)
	}
}

func cloneRecord(record Record) Record {
	record.Snapshot = cloneSnapshot(record.Snapshot)
	return record
}

func cloneSnapshot(snapshot hermes.MessageSnapshot) hermes.MessageSnapshot {
	snapshot.Entities = slices.Clone(snapshot.Entities)
	return snapshot
}
