package registry

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
)

// BuildContext carries the external collaborators bound into a unit at
// build time. Binding here is the only place they enter the core.
// Name and Values participate in the cache fingerprint; the logger does
// not (two contexts differing only in logger are the same build).
type BuildContext struct {
	Name   string
	Logger *log.Logger `hash:"ignore"`
	Values map[string]string
}

// fingerprint hashes the cache-relevant parts of the context.
func (bc BuildContext) fingerprint() (uint64, error) {
	return hashstructure.Hash(bc, hashstructure.FormatV2, nil)
}

// Runnable is a built, executable unit instance. It keeps its own copy
// of the definition, so overwriting the registry entry later does not
// retroactively affect it.
type Runnable struct {
	def    Definition
	logger *log.Logger
	base   map[string]string // Context values bound at build time
	deps   map[string]*Runnable
}

// Key returns the unit key.
func (r *Runnable) Key() string { return r.def.Key }

// Category returns the unit category.
func (r *Runnable) Category() Category { return r.def.Category }

// Definition returns a copy of the bound definition.
func (r *Runnable) Definition() Definition { return r.def.clone() }

// StepKeys returns the unit's dependency keys in declared order. For
// workflow units this is the ordered list of steps to run.
func (r *Runnable) StepKeys() []string {
	return append([]string(nil), r.def.DependsOn...)
}

// Dep returns the built dependency registered under key.
func (r *Runnable) Dep(key string) (*Runnable, bool) {
	d, ok := r.deps[key]
	return d, ok
}

// Execute runs the unit's executable with build-time values merged under
// the caller's values, and the resolved dependencies attached.
func (r *Runnable) Execute(ctx context.Context, values map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(r.base)+len(values))
	for k, v := range r.base {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return r.def.Executable(ctx, &ExecContext{
		Logger: r.logger,
		Values: merged,
		Deps:   r.deps,
	})
}

type cacheKey struct {
	category    Category
	key         string
	gen         uint64
	fingerprint uint64
}

// Builder validates definitions, resolves their dependencies through the
// registry, and produces runnable instances. Builds are cached by
// (category, key, context fingerprint); overwriting a definition bumps
// its generation, which makes the stale cache entries unreachable.
type Builder struct {
	reg   *Registry
	mu    sync.Mutex
	cache map[cacheKey]*Runnable
}

// NewBuilder creates a builder backed by the given registry.
func NewBuilder(reg *Registry) *Builder {
	return &Builder{
		reg:   reg,
		cache: make(map[cacheKey]*Runnable),
	}
}

// Build produces a runnable instance from the definition. It fails fast
// with *InvalidDefinitionError when required fields are missing and with
// *UnresolvedDependencyError on the first dependency key the registry
// cannot resolve; there is no partial build.
func (b *Builder) Build(def Definition, bc BuildContext) (*Runnable, error) {
	return b.build(def, bc, map[string]bool{})
}

// BuildKey resolves (category, key) in the registry and builds it.
func (b *Builder) BuildKey(category Category, key string, bc BuildContext) (*Runnable, error) {
	def, ok := b.reg.Get(category, key)
	if !ok {
		return nil, &UnresolvedDependencyError{Key: key, Missing: key}
	}
	return b.Build(def, bc)
}

func (b *Builder) build(def Definition, bc BuildContext, inProgress map[string]bool) (*Runnable, error) {
	var missing []string
	if def.Key == "" {
		missing = append(missing, "key")
	}
	if !def.Category.Valid() {
		missing = append(missing, "category")
	}
	if def.Executable == nil {
		missing = append(missing, "executable")
	}
	if len(missing) > 0 {
		return nil, &InvalidDefinitionError{Key: def.Key, Missing: missing}
	}

	fp, err := bc.fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting build context: %w", err)
	}
	ck := cacheKey{
		category:    def.Category,
		key:         def.Key,
		gen:         b.reg.generation(def.Category, def.Key),
		fingerprint: fp,
	}

	b.mu.Lock()
	cached, ok := b.cache[ck]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	if inProgress[def.Key] {
		return nil, fmt.Errorf("unit %q participates in a dependency cycle", def.Key)
	}
	inProgress[def.Key] = true
	defer delete(inProgress, def.Key)

	deps := make(map[string]*Runnable, len(def.DependsOn))
	for _, depKey := range def.DependsOn {
		depDef, ok := b.reg.Resolve(depKey)
		if !ok {
			return nil, &UnresolvedDependencyError{Key: def.Key, Missing: depKey}
		}
		built, err := b.build(depDef, bc, inProgress)
		if err != nil {
			return nil, err
		}
		deps[depKey] = built
	}

	base := make(map[string]string, len(bc.Values))
	for k, v := range bc.Values {
		base[k] = v
	}
	logger := bc.Logger
	if logger == nil {
		logger = log.Default()
	}
	runnable := &Runnable{
		def:    def.clone(),
		logger: logger,
		base:   base,
		deps:   deps,
	}

	b.mu.Lock()
	// Entries left behind by overwritten definitions are unreachable
	// (older generation); drop them so repeated re-registration does not
	// grow the cache without bound.
	for k := range b.cache {
		if k.category == ck.category && k.key == ck.key && k.gen < ck.gen {
			delete(b.cache, k)
		}
	}
	b.cache[ck] = runnable
	b.mu.Unlock()

	return runnable, nil
}
