package policy

import (
	"sync"
	"sync/atomic"
)

// Holder owns the active policy. Readers take a snapshot with Current; the
// snapshot only changes through Reload.
type Holder struct {
	path    string
	current atomic.Pointer[LoadedPolicy]

	mu          sync.Mutex
	subscribers []func(LoadedPolicy)
}

func NewHolder(path string) (*Holder, error) {
	loaded, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return NewStaticHolder(path, loaded), nil
}

// NewStaticHolder wraps an already loaded policy.
func NewStaticHolder(path string, loaded LoadedPolicy) *Holder {
	h := &Holder{path: path}
	h.current.Store(&loaded)
	return h
}

func (h *Holder) Path() string { return h.path }

func (h *Holder) Current() LoadedPolicy {
	return *h.current.Load()
}

// Subscribe registers fn for future reloads and calls it once with the
// current policy.
func (h *Holder) Subscribe(fn func(LoadedPolicy)) {
	h.mu.Lock()
	h.subscribers = append(h.subscribers, fn)
	h.mu.Unlock()
	fn(h.Current())
}

// Reload re-reads the policy file. An invalid file leaves the active policy
// in place.
func (h *Holder) Reload() (LoadedPolicy, error) {
	loaded, err := LoadPolicy(h.path)
	if err != nil {
		return h.Current(), err
	}
	h.Swap(loaded)
	return loaded, nil
}

func (h *Holder) Swap(loaded LoadedPolicy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(&loaded)
	for _, fn := range h.subscribers {
		fn(loaded)
	}
}
