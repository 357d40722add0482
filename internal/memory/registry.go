package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/SkynetNext/growbuf/internal/config"
)

// Registry builds and caches the named allocators of a configuration
type Registry struct {
	configs map[string]config.AllocatorConfig

	mu         sync.RWMutex
	allocators map[string]Allocator // name -> allocator
}

// NewRegistry creates a registry over the given allocator configs
func NewRegistry(cfgs []config.AllocatorConfig) *Registry {
	r := &Registry{
		configs:    make(map[string]config.AllocatorConfig, len(cfgs)),
		allocators: make(map[string]Allocator),
	}
	for _, c := range cfgs {
		r.configs[c.Name] = c
	}
	return r
}

// Get gets or builds the allocator with the given name
func (r *Registry) Get(name string) (Allocator, error) {
	r.mu.RLock()
	a, ok := r.allocators[name]
	r.mu.RUnlock()

	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.build(name, map[string]bool{})
}

// build creates name and its parents; r.mu must be held
func (r *Registry) build(name string, visiting map[string]bool) (Allocator, error) {
	// Double-check
	if a, ok := r.allocators[name]; ok {
		return a, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, name)
	}
	if visiting[name] {
		return nil, fmt.Errorf("allocator %q: parent chain forms a cycle", name)
	}
	visiting[name] = true

	var a Allocator
	switch cfg.Kind {
	case config.KindHeap, "":
		a = NewHeapAllocator()
	case config.KindPool:
		p, err := NewPoolAllocator(int(cfg.MinSize.Bytes()), int(cfg.MaxSize.Bytes()), cfg.Factor)
		if err != nil {
			return nil, fmt.Errorf("failed to create allocator %q: %w", name, err)
		}
		a = p
	case config.KindQuota:
		parent, err := r.build(cfg.Parent, visiting)
		if err != nil {
			return nil, fmt.Errorf("failed to create allocator %q: %w", name, err)
		}
		a = NewQuotaAllocator(parent, int64(cfg.Limit.Bytes()))
	default:
		return nil, fmt.Errorf("allocator %q: unsupported kind %q", name, cfg.Kind)
	}

	if cfg.Instrument {
		a = Instrument(name, a)
	}

	r.allocators[name] = a
	return a, nil
}

// Names returns the configured allocator names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
