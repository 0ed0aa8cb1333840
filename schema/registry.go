/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package schema

import (
	"fmt"
	"sync"

	"github.com/suparena/querycore/errors"
)

// Registry holds the entity definitions one engine instance operates on.
// Registries are independent values, not process-global state, so several
// engines with different schemas can coexist in one process.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityDef
	order    []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*EntityDef)}
}

// Register validates and adds an entity definition. Cross-entity references
// (relation targets, junction entities) are checked lazily by Finalize, so
// mutually-referencing entities may register in any order.
func (r *Registry) Register(def *EntityDef) error {
	def.buildIndexes()
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[def.Name]; exists {
		return errors.NewValidationError(def.Name, "entity already registered")
	}
	r.entities[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Finalize verifies every relation target and junction resolves to a
// registered entity and that junction foreign keys exist. It must be called
// once after all entities are registered and before the registry is used.
func (r *Registry) Finalize() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		ent := r.entities[name]
		for i := range ent.Relations {
			rel := &ent.Relations[i]
			target, ok := r.entities[rel.Target]
			if !ok {
				return errors.NewValidationError(name+"."+rel.Name, fmt.Sprintf("relation target %q is not registered", rel.Target))
			}
			switch rel.Kind {
			case HasMany:
				if _, ok := target.Field(rel.ForeignKey); !ok {
					return errors.NewValidationError(name+"."+rel.Name, fmt.Sprintf("foreign key %q is not a field of %s", rel.ForeignKey, rel.Target))
				}
			case ManyToMany:
				junction, ok := r.entities[rel.Through]
				if !ok {
					return errors.NewValidationError(name+"."+rel.Name, fmt.Sprintf("junction entity %q is not registered", rel.Through))
				}
				if _, ok := junction.Field(rel.ThroughSourceKey); !ok {
					return errors.NewValidationError(name+"."+rel.Name, fmt.Sprintf("junction key %q is not a field of %s", rel.ThroughSourceKey, rel.Through))
				}
				if _, ok := junction.Field(rel.ThroughTargetKey); !ok {
					return errors.NewValidationError(name+"."+rel.Name, fmt.Sprintf("junction key %q is not a field of %s", rel.ThroughTargetKey, rel.Through))
				}
			}
		}
	}
	return nil
}

// Entity retrieves a registered entity definition by name.
func (r *Registry) Entity(name string) (*EntityDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entities[name]
	if !ok {
		return nil, errors.NewValidationError(name, "entity is not registered")
	}
	return ent, nil
}

// Entities returns all definitions in registration order.
func (r *Registry) Entities() []*EntityDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityDef, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Reference names a relation on a referencing entity that points at a given
// target entity through a foreign key.
type Reference struct {
	Entity   *EntityDef
	Relation *RelationDef
}

// ReferencingRestrict lists every BelongsTo relation in the registry whose
// target is the named entity and which forbids deleting a still-referenced
// target (required relations, plus optional ones marked RestrictDelete). The
// write coordinator uses this to reject deletes that would orphan rows.
func (r *Registry) ReferencingRestrict(target string) []Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var refs []Reference
	for _, name := range r.order {
		ent := r.entities[name]
		for i := range ent.Relations {
			rel := &ent.Relations[i]
			if rel.Kind == BelongsTo && rel.Target == target && (rel.Required || rel.RestrictDelete) {
				refs = append(refs, Reference{Entity: ent, Relation: rel})
			}
		}
	}
	return refs
}
