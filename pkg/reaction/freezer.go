package reaction

import (
	"sync"

	"ex-hermes/pkg/hermes"
)

// Freezer records originals whose replies no longer follow edits.
//
// Freezing is a policy kept next to the link registry. Wire Thaw as the
// registry's unlink hook so a frozen original is released once it is no
// longer tracked.
type Freezer struct {
	mu     sync.Mutex
	frozen map[hermes.MessageRef]struct{}
}

// NewFreezer creates an empty freezer.
func NewFreezer() *Freezer {
	return &Freezer{frozen: make(map[hermes.MessageRef]struct{})}
}

// Freeze stops edit propagation for original and reports whether it was newly frozen.
func (f *Freezer) Freeze(original hermes.MessageRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.frozen[original]; exists {
		return false
	}
	f.frozen[original] = struct{}{}

	return true
}

// IsFrozen reports whether original is frozen.
func (f *Freezer) IsFrozen(original hermes.MessageRef) bool {
	if f == nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.frozen[original]
	return exists
}

// Thaw forgets original.
func (f *Freezer) Thaw(original hermes.MessageRef) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.frozen, original)
}
