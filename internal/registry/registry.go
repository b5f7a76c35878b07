package registry

import (
	"iter"
	"sync"
)

// entry pairs a definition with its overwrite generation. The generation
// feeds the builder cache key so overwriting a definition invalidates
// cached builds without touching instances already handed out.
type entry struct {
	def Definition
	gen uint64
}

// Registry is the keyed, categorized store of unit definitions. It is
// pure bookkeeping: no execution logic lives here. Reads are concurrent;
// writes take the exclusive lock because builders may be mid-resolution.
type Registry struct {
	mu    sync.RWMutex
	units map[Category]map[string]*entry
	order map[Category][]string // Registration order per category
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		units: make(map[Category]map[string]*entry),
		order: make(map[Category][]string),
	}
}

// Register adds a definition. If (category, key) is already present and
// overwrite is false, *DuplicateKeyError is returned. With overwrite the
// previous entry is replaced; instances already built from it keep their
// reference, but cached builds are invalidated. Registering a definition
// whose DependsOn references unregistered keys is allowed (resolution is
// lazy); building it is what fails.
func (r *Registry) Register(def Definition, overwrite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cat := r.units[def.Category]
	if cat == nil {
		cat = make(map[string]*entry)
		r.units[def.Category] = cat
	}

	if prev, exists := cat[def.Key]; exists {
		if !overwrite {
			return &DuplicateKeyError{Category: def.Category, Key: def.Key}
		}
		cat[def.Key] = &entry{def: def.clone(), gen: prev.gen + 1}
		return nil
	}

	cat[def.Key] = &entry{def: def.clone()}
	r.order[def.Category] = append(r.order[def.Category], def.Key)
	return nil
}

// Get returns the definition registered under (category, key).
func (r *Registry) Get(category Category, key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.units[category][key]
	if !ok {
		return Definition{}, false
	}
	return e.def.clone(), true
}

// Resolve finds a definition by key across categories, searching steps
// first, then frameworks, then workflows. Dependency declarations name
// bare keys, so this is the lookup the builder uses.
func (r *Registry) Resolve(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cat := range resolveOrder {
		if e, ok := r.units[cat][key]; ok {
			return e.def.clone(), true
		}
	}
	return Definition{}, false
}

// generation returns the overwrite generation of (category, key).
func (r *Registry) generation(category Category, key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.units[category][key]; ok {
		return e.gen
	}
	return 0
}

// ListByCategory yields definitions in registration order, lazily. The
// key set is snapshotted up front; definitions are fetched as consumed,
// and keys overwritten mid-iteration yield their latest definition.
func (r *Registry) ListByCategory(category Category) iter.Seq[Definition] {
	r.mu.RLock()
	keys := append([]string(nil), r.order[category]...)
	r.mu.RUnlock()

	return func(yield func(Definition) bool) {
		for _, key := range keys {
			def, ok := r.Get(category, key)
			if !ok {
				continue
			}
			if !yield(def) {
				return
			}
		}
	}
}

// ListAll returns every registered definition, grouped by category in
// resolution order, registration order within each category.
func (r *Registry) ListAll() []Definition {
	var all []Definition
	for _, cat := range resolveOrder {
		for def := range r.ListByCategory(cat) {
			all = append(all, def)
		}
	}
	return all
}
