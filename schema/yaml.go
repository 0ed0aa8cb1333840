/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// The YAML form mirrors the in-memory definitions closely enough that a dumped
// schema reloads into an equivalent registry. It exists for tooling
// (cmd/schemadump) and for declaring schemas outside Go code.

type yamlSchema struct {
	Entities []yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	Name            string         `yaml:"name"`
	Fields          []yamlField    `yaml:"fields"`
	Relations       []yamlRelation `yaml:"relations,omitempty"`
	CompoundUniques [][]string     `yaml:"compoundUniques,omitempty"`
}

type yamlField struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Nullable bool     `yaml:"nullable,omitempty"`
	Unique   bool     `yaml:"unique,omitempty"`
	Enum     []string `yaml:"enum,omitempty"`
	Default  any      `yaml:"default,omitempty"`
}

type yamlRelation struct {
	Name             string `yaml:"name"`
	Kind             string `yaml:"kind"`
	Target           string `yaml:"target"`
	ForeignKey       string `yaml:"foreignKey,omitempty"`
	Required         bool   `yaml:"required,omitempty"`
	RestrictDelete   bool   `yaml:"restrictDelete,omitempty"`
	Through          string `yaml:"through,omitempty"`
	ThroughSourceKey string `yaml:"throughSourceKey,omitempty"`
	ThroughTargetKey string `yaml:"throughTargetKey,omitempty"`
}

// MarshalYAML renders the registry in registration order.
func (r *Registry) MarshalYAML() ([]byte, error) {
	doc := yamlSchema{}
	for _, ent := range r.Entities() {
		ye := yamlEntity{Name: ent.Name, CompoundUniques: ent.CompoundUniques}
		for _, f := range ent.Fields {
			ye.Fields = append(ye.Fields, yamlField{
				Name:     f.Name,
				Kind:     f.Kind.String(),
				Nullable: f.Nullable,
				Unique:   f.Unique,
				Enum:     f.Enum,
				Default:  f.Default,
			})
		}
		for _, rel := range ent.Relations {
			ye.Relations = append(ye.Relations, yamlRelation{
				Name:             rel.Name,
				Kind:             rel.Kind.String(),
				Target:           rel.Target,
				ForeignKey:       rel.ForeignKey,
				Required:         rel.Required,
				RestrictDelete:   rel.RestrictDelete,
				Through:          rel.Through,
				ThroughSourceKey: rel.ThroughSourceKey,
				ThroughTargetKey: rel.ThroughTargetKey,
			})
		}
		doc.Entities = append(doc.Entities, ye)
	}
	return yaml.Marshal(doc)
}

// LoadYAML parses a schema document, registers every entity, and finalizes
// the resulting registry.
func LoadYAML(data []byte) (*Registry, error) {
	var doc yamlSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	reg := NewRegistry()
	for _, ye := range doc.Entities {
		ent := &EntityDef{Name: ye.Name, CompoundUniques: ye.CompoundUniques}
		for _, f := range ye.Fields {
			kind, ok := KindFromString(f.Kind)
			if !ok {
				return nil, fmt.Errorf("entity %s field %s: unknown kind %q", ye.Name, f.Name, f.Kind)
			}
			ent.Fields = append(ent.Fields, FieldDef{
				Name:     f.Name,
				Kind:     kind,
				Nullable: f.Nullable,
				Unique:   f.Unique,
				Enum:     f.Enum,
				Default:  f.Default,
			})
		}
		for _, rel := range ye.Relations {
			var kind RelationKind
			switch rel.Kind {
			case "belongsTo":
				kind = BelongsTo
			case "hasMany":
				kind = HasMany
			case "manyToMany":
				kind = ManyToMany
			default:
				return nil, fmt.Errorf("entity %s relation %s: unknown kind %q", ye.Name, rel.Name, rel.Kind)
			}
			ent.Relations = append(ent.Relations, RelationDef{
				Name:             rel.Name,
				Kind:             kind,
				Target:           rel.Target,
				ForeignKey:       rel.ForeignKey,
				Required:         rel.Required,
				RestrictDelete:   rel.RestrictDelete,
				Through:          rel.Through,
				ThroughSourceKey: rel.ThroughSourceKey,
				ThroughTargetKey: rel.ThroughTargetKey,
			})
		}
		if err := reg.Register(ent); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}
