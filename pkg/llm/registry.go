package llm

import (
	"fmt"
	"sort"
	"sync"

	"health-coach-go/internal/config"
)

// Registry resolves providers by name. It is populated explicitly at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(). Registering a duplicate name is an error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry constructs one provider per configured entry.
func BuildRegistry(cfgs []config.ProviderConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfgs {
		var p Provider
		switch pc.Kind {
		case "openai_compatible":
			p = NewCompatibleClient(pc)
		case "openai":
			p = NewOpenAIClient(pc)
		default:
			return nil, fmt.Errorf("unknown provider kind %q for %q", pc.Kind, pc.Name)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
