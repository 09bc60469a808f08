package pipeline

import (
	"errors"
	"sync"
)

// ErrUnknownCallback is returned by Unregister for a key that was never
// issued, or was already unregistered. Per spec.md §8 this is a no-op,
// not an error the caller needs to handle — Unregister never returns it;
// it exists so callers that want to assert non-membership still have a
// sentinel to check against.
var ErrUnknownCallback = errors.New("pipeline: unknown callback key")

// Callback receives one dispatched Frame. It must not retain Frame's
// pixel buffer past the call unless it clones it, and must not call
// back into Register/Unregister (that would deadlock on the registry
// lock held during fan-out).
type Callback func(Frame)

type entry struct {
	key  uint32
	name string
	cb   Callback
}

// CallbackRegistry is an insertion-ordered, mutation-safe set of
// callbacks keyed by a process-unique uint32. Registration and
// unregistration take the same lock fan-out holds, so callbacks always
// observe a consistent snapshot and no add/remove is ever lost — at the
// cost of a long-running callback blocking registry mutation.
type CallbackRegistry struct {
	mu      sync.Mutex
	next    uint32
	entries []entry
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{}
}

// Register adds cb and returns its key, unique for the process lifetime.
func (r *CallbackRegistry) Register(cb Callback) uint32 {
	return r.RegisterNamed("unnamed", cb)
}

// RegisterNamed adds cb under a human-readable name (used only for
// metrics labels) and returns its key.
func (r *CallbackRegistry) RegisterNamed(name string, cb Callback) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key := r.next
	r.entries = append(r.entries, entry{key: key, name: name, cb: cb})
	return key
}

// Unregister removes the callback for key. Unregistering an unknown key
// is a no-op: no panic, no effect (spec.md §8 invariant 8).
func (r *CallbackRegistry) Unregister(key uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.key == key {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every registered callback, in registration order,
// with frame. The registry lock is held for the duration of fan-out so
// that concurrent Register/Unregister calls cannot interleave with or
// be lost by an in-flight dispatch; a key unregistered concurrently is
// guaranteed to either fire once more or never again, never both, and
// is guaranteed not to fire after its Unregister call returns.
func (r *CallbackRegistry) Dispatch(frame Frame, each func(key uint32, name string, cb Callback)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		each(e.key, e.name, e.cb)
	}
}

// Len reports the number of currently registered callbacks.
func (r *CallbackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
