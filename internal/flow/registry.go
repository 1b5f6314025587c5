package flow

import (
	"fmt"
	"sort"
)

// Registry maps flow names to definitions. It is populated once during
// process start and read-only afterwards; reads need no locking because
// nothing mutates it once Seal has been called.
type Registry struct {
	defs   map[string]*Definition
	order  []*Definition
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds def. A second definition under the same name fails with
// *DuplicateFlowError and leaves the original in place.
func (r *Registry) Register(def *Definition) error {
	if r.sealed {
		return fmt.Errorf("register %q: %w", def.Name(), ErrRegistrySealed)
	}
	if _, ok := r.defs[def.Name()]; ok {
		return &DuplicateFlowError{Name: def.Name()}
	}
	r.defs[def.Name()] = def
	r.order = append(r.order, def)
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return def, nil
}

// Names returns registered flow names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	res := make([]*Definition, len(r.order))
	copy(res, r.order)
	return res
}

// Len returns the number of registered flows.
func (r *Registry) Len() int { return len(r.order) }

// Seal ends the registration phase.
func (r *Registry) Seal() { r.sealed = true }
