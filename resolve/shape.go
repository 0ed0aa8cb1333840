/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package resolve

import (
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Shape is the requested read shape for one entity level: which scalar fields
// to return, which relations to resolve (each with its own sub-shape), and
// which to-many relations to count. Select and Omit are mutually exclusive.
type Shape struct {
	Select map[string]bool
	Omit   map[string]bool

	Relations map[string]*RelationShape

	// Counts requests a _count entry per named to-many relation; a non-nil
	// filter counts only matching rows. A map entry with a nil value counts
	// the whole related set.
	Counts map[string]*predicate.Where
}

// RelationShape shapes one resolved relation: the nested Shape plus filter,
// order, and pagination applied to the related set. Pagination fields are
// meaningful for to-many relations only.
type RelationShape struct {
	Shape    *Shape
	Where    *predicate.Where
	OrderBy  []storage.Order
	Cursor   *storage.UniqueKey
	Take     *int
	Skip     int
	Distinct []string
}

// Page bundles ordering and pagination for a row list. Cursor selects the row
// whose unique key matches, pagination resumes past it; the order should
// include a unique tiebreaker, and the engine appends primary key ascending
// in any case.
type Page struct {
	OrderBy  []storage.Order
	Cursor   *storage.UniqueKey
	Take     *int
	Skip     int
	Distinct []string
}

// Validate checks the shape tree against the entity definition and the depth
// bound. It confirms select/omit exclusivity, that every named field and
// relation exists, that Counts name to-many relations, and builds every
// nested predicate so malformed filters fail before any storage access.
func (s *Shape) Validate(reg *schema.Registry, ent *schema.EntityDef, maxDepth int) error {
	return s.validate(reg, ent, ent.Name, maxDepth)
}

func (s *Shape) validate(reg *schema.Registry, ent *schema.EntityDef, path string, depth int) error {
	if s == nil {
		return nil
	}
	if depth < 0 {
		return qerrors.NewValidationError(path, "shape exceeds the maximum traversal depth")
	}
	if len(s.Select) > 0 && len(s.Omit) > 0 {
		return qerrors.NewValidationError(path, "select and omit are mutually exclusive")
	}
	for f := range s.Select {
		if _, ok := ent.Field(f); !ok {
			if _, isRel := ent.Relation(f); !isRel {
				return qerrors.NewValidationError(path+"."+f, "select names unknown field")
			}
		}
	}
	for f := range s.Omit {
		if _, ok := ent.Field(f); !ok {
			return qerrors.NewValidationError(path+"."+f, "omit names unknown field")
		}
	}
	for name, rs := range s.Relations {
		rel, ok := ent.Relation(name)
		if !ok {
			return qerrors.NewValidationError(path+"."+name, "unknown relation")
		}
		target, err := reg.Entity(rel.Target)
		if err != nil {
			return err
		}
		if rs == nil {
			continue
		}
		if !rel.ToMany() && (rs.Cursor != nil || rs.Take != nil || rs.Skip != 0 || len(rs.Distinct) > 0) {
			return qerrors.NewValidationError(path+"."+name, "pagination applies to to-many relations only")
		}
		if rs.Take != nil && *rs.Take < 0 {
			return qerrors.NewValidationError(path+"."+name, "take must not be negative")
		}
		if rs.Where != nil {
			if _, err := predicate.Build(reg, target, rs.Where); err != nil {
				return err
			}
		}
		for _, d := range rs.Distinct {
			if _, ok := target.Field(d); !ok {
				return qerrors.NewValidationError(path+"."+name+"."+d, "distinct names unknown field")
			}
		}
		if err := rs.Shape.validate(reg, target, path+"."+name, depth-1); err != nil {
			return err
		}
	}
	for name, where := range s.Counts {
		rel, ok := ent.Relation(name)
		if !ok {
			return qerrors.NewValidationError(path+"._count."+name, "unknown relation")
		}
		if !rel.ToMany() {
			return qerrors.NewValidationError(path+"._count."+name, "_count applies to to-many relations only")
		}
		if where != nil {
			target, err := reg.Entity(rel.Target)
			if err != nil {
				return err
			}
			if _, err := predicate.Build(reg, target, where); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyPage sorts rows, applies distinct, then cursor, skip, and take, in
// that order. The input slice is not reused.
func ApplyPage(ent *schema.EntityDef, rows []storage.Row, p Page) ([]storage.Row, error) {
	if p.Take != nil && *p.Take < 0 {
		return nil, qerrors.NewValidationError(ent.Name, "take must not be negative")
	}
	out := make([]storage.Row, len(rows))
	copy(out, rows)
	if err := storage.SortRows(ent, out, p.OrderBy); err != nil {
		return nil, err
	}
	if len(p.Distinct) > 0 {
		seen := make(map[string]bool, len(out))
		kept := out[:0]
		for _, row := range out {
			values := make([]any, len(p.Distinct))
			for i, f := range p.Distinct {
				values[i] = row[f]
			}
			ks, valid := storage.KeyString(values)
			if !valid {
				// Null components: distinct treats each null tuple as unique.
				kept = append(kept, row)
				continue
			}
			if seen[ks] {
				continue
			}
			seen[ks] = true
			kept = append(kept, row)
		}
		out = kept
	}
	if p.Cursor != nil {
		ks, valid := storage.KeyString(p.Cursor.Values)
		if !valid {
			return nil, qerrors.NewValidationError(ent.Name, "cursor key must not contain nulls")
		}
		pos := -1
		for i, row := range out {
			values := make([]any, len(p.Cursor.Fields))
			for j, f := range p.Cursor.Fields {
				values[j] = row[f]
			}
			rks, rvalid := storage.KeyString(values)
			if rvalid && rks == ks {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, nil
		}
		out = out[pos+1:]
	}
	if p.Skip > 0 {
		if p.Skip >= len(out) {
			return nil, nil
		}
		out = out[p.Skip:]
	}
	if p.Take != nil && *p.Take < len(out) {
		out = out[:*p.Take]
	}
	return out, nil
}
