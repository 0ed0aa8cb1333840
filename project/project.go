/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package project shapes resolved rows into the caller-requested field
// subset: select or omit on scalars, resolved relation sub-results under
// their relation names, and _count maps where requested.
package project

import (
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/resolve"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Rows projects each row through the shape. Rows that went through the
// relation resolver carry their resolved sub-results; the projector trims
// scalars and recurses into the sub-results.
func Rows(reg *schema.Registry, ent *schema.EntityDef, rows []storage.Row, shape *resolve.Shape) ([]storage.Row, error) {
	out := make([]storage.Row, len(rows))
	for i, row := range rows {
		projected, err := Row(reg, ent, row, shape)
		if err != nil {
			return nil, err
		}
		out[i] = projected
	}
	return out, nil
}

// Row projects a single row. A nil shape returns all scalar fields.
func Row(reg *schema.Registry, ent *schema.EntityDef, row storage.Row, shape *resolve.Shape) (storage.Row, error) {
	if shape != nil && len(shape.Select) > 0 && len(shape.Omit) > 0 {
		return nil, qerrors.NewValidationError(ent.Name, "select and omit are mutually exclusive")
	}
	out := make(storage.Row)
	for _, fd := range ent.Fields {
		if shape != nil {
			if len(shape.Select) > 0 && !shape.Select[fd.Name] {
				continue
			}
			if shape.Omit[fd.Name] {
				continue
			}
		}
		if v, ok := row[fd.Name]; ok {
			out[fd.Name] = v
		}
	}
	if shape == nil {
		return out, nil
	}
	for name, rs := range shape.Relations {
		if len(shape.Select) > 0 && !shape.Select[name] {
			continue
		}
		rel, ok := ent.Relation(name)
		if !ok {
			return nil, qerrors.NewValidationError(ent.Name+"."+name, "unknown relation")
		}
		target, err := reg.Entity(rel.Target)
		if err != nil {
			return nil, err
		}
		var sub *resolve.Shape
		if rs != nil {
			sub = rs.Shape
		}
		switch resolved := row[name].(type) {
		case nil:
			out[name] = nil
		case storage.Row:
			projected, err := Row(reg, target, resolved, sub)
			if err != nil {
				return nil, err
			}
			out[name] = projected
		case []storage.Row:
			projected, err := Rows(reg, target, resolved, sub)
			if err != nil {
				return nil, err
			}
			out[name] = projected
		default:
			out[name] = nil
		}
	}
	if len(shape.Counts) > 0 {
		if counts, ok := row[resolve.CountField].(map[string]int64); ok {
			kept := make(map[string]int64, len(shape.Counts))
			for name := range shape.Counts {
				kept[name] = counts[name]
			}
			out[resolve.CountField] = kept
		}
	}
	return out, nil
}
