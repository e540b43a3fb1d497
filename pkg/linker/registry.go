// Package linker tracks which bot replies were derived from which original messages.
package linker

import (
	"slices"
	"sync"
	"time"

	"ex-hermes/pkg/hermes"
)

// DefaultConsistencyWindow is how long replies stay synchronized with their original.
const DefaultConsistencyWindow = 24 * time.Hour

// Reply is one tracked bot message derived from an original.
type Reply struct {
	// Ref identifies the reply message.
	Ref hermes.MessageRef
	// Target is where edit and delete operations for the reply are routed.
	Target hermes.OutboundTarget
	// CreatedAt is when the reply was sent.
	CreatedAt time.Time
	// EditedAt is when the reply was last edited, zero when never edited.
	EditedAt time.Time
}

// LastUpdated returns EditedAt when set and CreatedAt otherwise.
func (r Reply) LastUpdated() time.Time {
	if !r.EditedAt.IsZero() {
		return r.EditedAt
	}

	return r.CreatedAt
}

// Registry maps original message identities to their ordered replies.
//
// Every method is one atomic step under the registry lock. The zero value is
// not usable; construct with New.
type Registry struct {
	window   time.Duration
	clock    func() time.Time
	onUnlink []func(original hermes.MessageRef)

	mu    sync.Mutex
	links map[hermes.MessageRef][]Reply
}

// Option mutates registry construction settings.
type Option func(*Registry)

// WithConsistencyWindow overrides DefaultConsistencyWindow.
func WithConsistencyWindow(window time.Duration) Option {
	return func(r *Registry) {
		if window > 0 {
			r.window = window
		}
	}
}

// WithClock overrides the time source used by IsExpired.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithUnlinkHook registers a callback invoked after an original stops being tracked.
//
// Hooks run outside the registry lock.
func WithUnlinkHook(hook func(original hermes.MessageRef)) Option {
	return func(r *Registry) {
		if hook != nil {
			r.onUnlink = append(r.onUnlink, hook)
		}
	}
}

// New creates an empty registry.
func New(options ...Option) *Registry {
	registry := &Registry{
		window: DefaultConsistencyWindow,
		clock:  time.Now,
		links:  make(map[hermes.MessageRef][]Reply),
	}
	for _, option := range options {
		option(registry)
	}

	return registry
}

// Link appends replies to the original's link set, creating it when absent.
//
// A reply already linked to a different original is moved, so each reply
// belongs to exactly one original. Re-linking the same reply is a no-op.
func (r *Registry) Link(original hermes.MessageRef, replies ...Reply) {
	if len(replies) == 0 {
		return
	}

	var emptied []hermes.MessageRef

	r.mu.Lock()
	for _, reply := range replies {
		if owner, found := r.originalForLocked(reply.Ref); found {
			if owner == original {
				continue
			}
			if r.removeReplyLocked(owner, reply.Ref) {
				emptied = append(emptied, owner)
			}
		}
		r.links[original] = append(r.links[original], reply)
	}
	r.mu.Unlock()

	r.notifyUnlinked(emptied...)
}

// Get returns a copy of the replies linked to original, empty when untracked.
func (r *Registry) Get(original hermes.MessageRef) []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.links[original])
}

// Tracked reports whether original has at least one linked reply.
func (r *Registry) Tracked(original hermes.MessageRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.links[original]) > 0
}

// Unlink removes the whole link set of original.
//
// It reports whether anything was removed; unlinking an untracked original is
// a no-op.
func (r *Registry) Unlink(original hermes.MessageRef) bool {
	r.mu.Lock()
	_, existed := r.links[original]
	delete(r.links, original)
	r.mu.Unlock()

	if existed {
		r.notifyUnlinked(original)
	}

	return existed
}

// OriginalFor finds the original that reply is linked to.
func (r *Registry) OriginalFor(reply hermes.MessageRef) (hermes.MessageRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.originalForLocked(reply)
}

// UnlinkByReply unlinks the original that reply belongs to.
//
// It returns that original and whether one was found.
func (r *Registry) UnlinkByReply(reply hermes.MessageRef) (hermes.MessageRef, bool) {
	r.mu.Lock()
	original, found := r.originalForLocked(reply)
	if found {
		delete(r.links, original)
	}
	r.mu.Unlock()

	if found {
		r.notifyUnlinked(original)
	}

	return original, found
}

// IsExpired reports whether the most recent update across original's replies
// is older than the consistency window. An expired original is unlinked.
//
// An untracked original is never expired.
func (r *Registry) IsExpired(original hermes.MessageRef) bool {
	now := r.clock()

	r.mu.Lock()
	replies := r.links[original]
	if len(replies) == 0 {
		r.mu.Unlock()
		return false
	}

	var latest time.Time
	for _, reply := range replies {
		if updated := reply.LastUpdated(); updated.After(latest) {
			latest = updated
		}
	}
	expired := now.Sub(latest) > r.window
	if expired {
		delete(r.links, original)
	}
	r.mu.Unlock()

	if expired {
		r.notifyUnlinked(original)
	}

	return expired
}

// Touch records that reply was edited at editedAt.
//
// It reports whether the reply is tracked.
func (r *Registry) Touch(reply hermes.MessageRef, editedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	original, found := r.originalForLocked(reply)
	if !found {
		return false
	}
	replies := r.links[original]
	for index := range replies {
		if replies[index].Ref == reply {
			replies[index].EditedAt = editedAt
		}
	}

	return true
}

// Len returns the number of tracked originals.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.links)
}

func (r *Registry) originalForLocked(reply hermes.MessageRef) (hermes.MessageRef, bool) {
	for original, replies := range r.links {
		for _, candidate := range replies {
			if candidate.Ref == reply {
				return original, true
			}
		}
	}

	return hermes.MessageRef{}, false
}

// removeReplyLocked drops one reply and reports whether the set became empty.
func (r *Registry) removeReplyLocked(original hermes.MessageRef, reply hermes.MessageRef) bool {
	remaining := slices.DeleteFunc(r.links[original], func(candidate Reply) bool {
		return candidate.Ref == reply
	})
	if len(remaining) == 0 {
		delete(r.links, original)
		return true
	}
	r.links[original] = remaining

	return false
}

func (r *Registry) notifyUnlinked(originals ...hermes.MessageRef) {
	for _, original := range originals {
		for _, hook := range r.onUnlink {
			hook(original)
		}
	}
}
