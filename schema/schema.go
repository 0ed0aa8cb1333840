/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package schema

import (
	"fmt"

	"github.com/suparena/querycore/errors"
)

// FieldKind enumerates the scalar kinds a field can hold.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindDecimal
	KindTime
	KindJson
	KindStringList
)

var kindNames = map[FieldKind]string{
	KindString:     "string",
	KindInt:        "int",
	KindBool:       "bool",
	KindDecimal:    "decimal",
	KindTime:       "time",
	KindJson:       "json",
	KindStringList: "stringList",
}

func (k FieldKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindFromString resolves the textual form used in YAML schemas.
func KindFromString(s string) (FieldKind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Ordered reports whether values of this kind support range comparison
// operators (lt/lte/gt/gte).
func (k FieldKind) Ordered() bool {
	switch k {
	case KindInt, KindDecimal, KindTime, KindString:
		return true
	}
	return false
}

// FieldDef describes a single scalar field.
type FieldDef struct {
	Name     string
	Kind     FieldKind
	Nullable bool
	Unique   bool
	// Enum restricts a string field to a closed value set; empty means
	// unrestricted.
	Enum []string
	// Default is assigned on create when the caller omits the field. For enum
	// fields this is the default member; for others a literal of the field's
	// kind.
	Default any
	// NonNegative and Positive constrain numeric fields at write time.
	NonNegative bool
	Positive    bool
	// Immutable marks a snapshot field: set on create, rejected on update.
	Immutable bool
}

// RowCheck is an entity-level invariant over a composed row, run by the write
// coordinator after field-level validation. Values use the canonical Go forms.
type RowCheck struct {
	Name  string
	Check func(row map[string]any) error
}

// RelationKind enumerates how two entities relate.
type RelationKind int

const (
	// BelongsTo is a to-one relation carried by a foreign key on this entity.
	BelongsTo RelationKind = iota
	// HasMany is a to-many relation carried by a foreign key on the target.
	HasMany
	// ManyToMany is a to-many relation carried by a junction entity.
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongsTo"
	case HasMany:
		return "hasMany"
	case ManyToMany:
		return "manyToMany"
	}
	return fmt.Sprintf("relationKind(%d)", int(k))
}

// RelationDef declares a named relation from one entity to another.
//
// For BelongsTo, ForeignKey names the field on this entity holding the target
// primary key; Required mirrors that field's non-nullability. For HasMany,
// ForeignKey names the field on the target entity pointing back here. For
// ManyToMany, Through names the junction entity and ThroughSourceKey /
// ThroughTargetKey its two foreign-key fields.
type RelationDef struct {
	Name       string
	Kind       RelationKind
	Target     string
	ForeignKey string
	Required   bool
	// RestrictDelete marks an optional BelongsTo relation whose target must
	// not be deleted while rows still reference it (e.g. Category.parent).
	// Required relations always restrict.
	RestrictDelete bool

	Through          string
	ThroughSourceKey string
	ThroughTargetKey string
}

// ToMany reports whether the relation resolves to an ordered list.
func (r *RelationDef) ToMany() bool {
	return r.Kind == HasMany || r.Kind == ManyToMany
}

// EntityDef describes one entity: its fields, unique constraints, and
// relations. The primary key is always the "id" field.
type EntityDef struct {
	Name      string
	Fields    []FieldDef
	Relations []RelationDef
	// CompoundUniques lists multi-field unique constraints, each as an ordered
	// field-name tuple.
	CompoundUniques [][]string
	// RowChecks are cross-field invariants enforced on every write.
	RowChecks []RowCheck

	fieldIndex    map[string]int
	relationIndex map[string]int
}

// PrimaryKey is the field every entity is keyed by.
const PrimaryKey = "id"

// Field looks up a field definition by name.
func (e *EntityDef) Field(name string) (*FieldDef, bool) {
	i, ok := e.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return &e.Fields[i], true
}

// Relation looks up a relation definition by name.
func (e *EntityDef) Relation(name string) (*RelationDef, bool) {
	i, ok := e.relationIndex[name]
	if !ok {
		return nil, false
	}
	return &e.Relations[i], true
}

// UniqueIndexes returns every unique constraint of the entity as field-name
/// tuples: the primary key first, then single-field uniques in declaration
// order, then compound uniques.
func (e *EntityDef) UniqueIndexes() [][]string {
	out := [][]string{{PrimaryKey}}
	for _, f := range e.Fields {
		if f.Unique && f.Name != PrimaryKey {
			out = append(out, []string{f.Name})
		}
	}
	out = append(out, e.CompoundUniques...)
	return out
}

func (e *EntityDef) buildIndexes() {
	e.fieldIndex = make(map[string]int, len(e.Fields))
	for i, f := range e.Fields {
		e.fieldIndex[f.Name] = i
	}
	e.relationIndex = make(map[string]int, len(e.Relations))
	for i, r := range e.Relations {
		e.relationIndex[r.Name] = i
	}
}

// validate checks the definition in isolation; cross-entity checks happen at
// registration time.
func (e *EntityDef) validate() error {
	if e.Name == "" {
		return errors.NewValidationError("", "entity name must not be empty")
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return errors.NewValidationError(e.Name, "field name must not be empty")
		}
		if seen[f.Name] {
			return errors.NewValidationError(e.Name+"."+f.Name, "duplicate field")
		}
		seen[f.Name] = true
		if len(f.Enum) > 0 && f.Kind != KindString {
			return errors.NewValidationError(e.Name+"."+f.Name, "enum values are only allowed on string fields")
		}
	}
	pk, ok := e.Field(PrimaryKey)
	if !ok {
		return errors.NewValidationError(e.Name, "entity must declare an \"id\" field")
	}
	if pk.Nullable {
		return errors.NewValidationError(e.Name+".id", "primary key must not be nullable")
	}
	for _, cu := range e.CompoundUniques {
		if len(cu) < 2 {
			return errors.NewValidationError(e.Name, "compound unique must name at least two fields")
		}
		for _, fn := range cu {
			if !seen[fn] {
				return errors.NewValidationError(e.Name+"."+fn, "compound unique names unknown field")
			}
		}
	}
	relSeen := make(map[string]bool, len(e.Relations))
	for i := range e.Relations {
		r := &e.Relations[i]
		if r.Name == "" {
			return errors.NewValidationError(e.Name, "relation name must not be empty")
		}
		if relSeen[r.Name] || seen[r.Name] {
			return errors.NewValidationError(e.Name+"."+r.Name, "relation name collides with another field or relation")
		}
		relSeen[r.Name] = true
		if r.Kind == BelongsTo {
			fk, ok := e.Field(r.ForeignKey)
			if !ok {
				return errors.NewValidationError(e.Name+"."+r.Name, fmt.Sprintf("foreign key %q is not a field of %s", r.ForeignKey, e.Name))
			}
			if r.Required && fk.Nullable {
				return errors.NewValidationError(e.Name+"."+r.Name, "required relation cannot use a nullable foreign key")
			}
		}
	}
	return nil
}
