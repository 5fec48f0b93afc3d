package app

import (
	"fmt"

	"github.com/fd1az/token-distributor/business/aggregator/domain"
)

// Registry keeps adapters in fallback order. The first one is preferred.
type Registry struct {
	ordered []Adapter
	byName  map[domain.Provider]Adapter
}

// NewRegistry orders adapters by order, which must name each one exactly once.
func NewRegistry(order []domain.Provider, adapters ...Adapter) (*Registry, error) {
	byName := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Provider()] = a
	}

	r := &Registry{byName: make(map[domain.Provider]Adapter, len(order))}
	for _, p := range order {
		a, ok := byName[p]
		if !ok {
			return nil, fmt.Errorf("no adapter for %q", p)
		}
		if _, dup := r.byName[p]; dup {
			return nil, fmt.Errorf("duplicate aggregator %q in order", p)
		}
		r.ordered = append(r.ordered, a)
		r.byName[p] = a
	}
	if len(r.ordered) == 0 {
		return nil, fmt.Errorf("no aggregators configured")
	}
	return r, nil
}

// Preferred is the first adapter in order.
func (r *Registry) Preferred() Adapter {
	return r.ordered[0]
}

// Ordered returns the adapters in fallback order.
func (r *Registry) Ordered() []Adapter {
	out := make([]Adapter, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Supporting returns, in order, the adapters that support mode.
func (r *Registry) Supporting(mode domain.Mode) []Adapter {
	var out []Adapter
	for _, a := range r.ordered {
		if a.Supports(mode) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) Get(p domain.Provider) (Adapter, bool) {
	a, ok := r.byName[p]
	return a, ok
}
