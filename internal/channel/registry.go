package channel

import "sync"

// Registry is the process-wide, thread-safe channel map. All consumers read
// channels dynamically via Get/All; a reload calls Replace to atomically
// swap the whole map. The map shape (add/remove/replace) is guarded by its
// own RWMutex; individual Channel mutation uses the channel's own mutex —
// this is the "per-channel lock, not one global lock" scheme spec.md §5
// requires.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Get returns the named channel, or (nil, false) if absent.
func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// All returns a snapshot slice of every channel currently registered.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}

// Names returns the set of channel names currently registered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for n := range r.channels {
		out = append(out, n)
	}
	return out
}

// Replace atomically swaps the entire channel map for hot reload.
// Credentials and stats from like-named channels are not migrated — a
// reload is a replacement of state (spec.md §5), not a merge.
func (r *Registry) Replace(channels []*Channel) {
	m := make(map[string]*Channel, len(channels))
	for _, c := range channels {
		m[c.Name] = c
	}
	r.mu.Lock()
	r.channels = m
	r.mu.Unlock()
}

// Put inserts or replaces a single channel (used by tests and by config
// bootstrapping before the first Replace).
func (r *Registry) Put(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.Name] = c
}
