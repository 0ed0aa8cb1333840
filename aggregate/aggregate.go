/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package aggregate computes count/min/max/sum/avg over filtered row sets,
// optionally grouped, with a post-aggregation having filter evaluated by the
// predicate engine over the aggregated output.
package aggregate

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Synthetic output field names are "_count._all", "_count.<field>",
// "_min.<field>", "_max.<field>", "_sum.<field>", "_avg.<field>".
const (
	CountAllField = "_count._all"
	countPrefix   = "_count."
	minPrefix     = "_min."
	maxPrefix     = "_max."
	sumPrefix     = "_sum."
	avgPrefix     = "_avg."
)

// Query describes one aggregation: the optional grouping fields, the
// requested aggregates, and the post-aggregation filter and ordering.
type Query struct {
	GroupBy []string

	CountAll bool
	// Count requests per-field non-null counts, distinct from CountAll.
	Count []string
	Min   []string
	Max   []string
	Sum   []string
	Avg   []string

	// Having filters the aggregated output rows; it requires a non-empty
	// GroupBy and references grouped fields and synthetic aggregate names.
	Having *predicate.Where

	OrderBy []storage.Order
	Take    *int
	Skip    int
}

// Run aggregates rows. Without GroupBy the result is a single row; with
// GroupBy, one row per distinct group, ordered deterministically (requested
// terms, then group key ascending).
func Run(ent *schema.EntityDef, rows []storage.Row, q Query) ([]storage.Row, error) {
	outDef, err := buildOutputDef(ent, q)
	if err != nil {
		return nil, err
	}
	if q.Having != nil && len(q.GroupBy) == 0 {
		return nil, qerrors.NewValidationError(ent.Name, "having requires a non-empty groupBy")
	}
	for _, term := range q.OrderBy {
		if _, ok := outDef.Field(term.Field); !ok {
			return nil, qerrors.NewValidationError(ent.Name+"."+term.Field, "order references a field that is neither grouped nor aggregated")
		}
		if !strings.HasPrefix(term.Field, "_") && len(q.GroupBy) == 0 {
			return nil, qerrors.NewValidationError(ent.Name+"."+term.Field, "ordering by a non-aggregated field requires groupBy")
		}
	}
	if q.Take != nil && *q.Take < 0 {
		return nil, qerrors.NewValidationError(ent.Name, "take must not be negative")
	}

	var havingPred *predicate.Predicate
	if q.Having != nil {
		havingPred, err = predicate.Build(nil, outDef, q.Having)
		if err != nil {
			return nil, err
		}
	}

	groups := make(map[string][]storage.Row)
	var order []string
	if len(q.GroupBy) == 0 {
		groups[""] = rows
		order = []string{""}
	} else {
		for _, row := range rows {
			key := groupKey(row, q.GroupBy)
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], row)
		}
	}

	out := make([]storage.Row, 0, len(groups))
	for _, key := range order {
		members := groups[key]
		result, err := aggregateGroup(ent, members, q)
		if err != nil {
			return nil, err
		}
		for _, f := range q.GroupBy {
			var gv any
			if len(members) > 0 {
				gv = members[0][f]
			}
			result[f] = gv
		}
		result[schema.PrimaryKey] = key
		if havingPred != nil {
			ok, err := havingPred.Eval(context.Background(), result, nil)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, result)
	}

	if err := storage.SortRows(outDef, out, q.OrderBy); err != nil {
		return nil, err
	}
	if q.Skip > 0 {
		if q.Skip >= len(out) {
			out = nil
		} else {
			out = out[q.Skip:]
		}
	}
	if q.Take != nil && *q.Take < len(out) {
		out = out[:*q.Take]
	}
	for _, row := range out {
		delete(row, schema.PrimaryKey)
	}
	return out, nil
}

// buildOutputDef constructs the synthetic entity describing the aggregated
// output: grouped fields keep their kinds, synthetic aggregate fields get
// kinds derived from the aggregate and source field. The having predicate and
// output ordering are validated against this definition.
func buildOutputDef(ent *schema.EntityDef, q Query) (*schema.EntityDef, error) {
	out := &schema.EntityDef{Name: ent.Name + "Aggregate"}
	out.Fields = append(out.Fields, schema.FieldDef{Name: schema.PrimaryKey, Kind: schema.KindString})
	for _, f := range q.GroupBy {
		fd, ok := ent.Field(f)
		if !ok {
			return nil, qerrors.NewValidationError(ent.Name+"."+f, "groupBy names unknown field")
		}
		out.Fields = append(out.Fields, schema.FieldDef{Name: f, Kind: fd.Kind, Nullable: fd.Nullable})
	}
	if q.CountAll {
		out.Fields = append(out.Fields, schema.FieldDef{Name: CountAllField, Kind: schema.KindInt})
	}
	for _, f := range q.Count {
		if _, ok := ent.Field(f); !ok {
			return nil, qerrors.NewValidationError(ent.Name+"."+f, "count names unknown field")
		}
		out.Fields = append(out.Fields, schema.FieldDef{Name: countPrefix + f, Kind: schema.KindInt})
	}
	for _, f := range q.Min {
		fd, err := orderedField(ent, f, "min")
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, schema.FieldDef{Name: minPrefix + f, Kind: fd.Kind, Nullable: true})
	}
	for _, f := range q.Max {
		fd, err := orderedField(ent, f, "max")
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, schema.FieldDef{Name: maxPrefix + f, Kind: fd.Kind, Nullable: true})
	}
	for _, f := range q.Sum {
		fd, err := numericField(ent, f, "sum")
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, schema.FieldDef{Name: sumPrefix + f, Kind: fd.Kind, Nullable: true})
	}
	for _, f := range q.Avg {
		if _, err := numericField(ent, f, "avg"); err != nil {
			return nil, err
		}
		// Averages are always decimal, including over int fields.
		out.Fields = append(out.Fields, schema.FieldDef{Name: avgPrefix + f, Kind: schema.KindDecimal, Nullable: true})
	}
	reg := schema.NewRegistry()
	if err := reg.Register(out); err != nil {
		return nil, err
	}
	return out, nil
}

func orderedField(ent *schema.EntityDef, name, agg string) (*schema.FieldDef, error) {
	fd, ok := ent.Field(name)
	if !ok {
		return nil, qerrors.NewValidationError(ent.Name+"."+name, agg+" names unknown field")
	}
	if !fd.Kind.Ordered() {
		return nil, qerrors.NewValidationError(ent.Name+"."+name, agg+" requires an ordered field kind")
	}
	return fd, nil
}

func numericField(ent *schema.EntityDef, name, agg string) (*schema.FieldDef, error) {
	fd, ok := ent.Field(name)
	if !ok {
		return nil, qerrors.NewValidationError(ent.Name+"."+name, agg+" names unknown field")
	}
	if fd.Kind != schema.KindInt && fd.Kind != schema.KindDecimal {
		return nil, qerrors.NewValidationError(ent.Name+"."+name, agg+" requires a numeric field kind")
	}
	return fd, nil
}

// aggregateGroup computes the requested aggregates over one group's members.
// Sum and avg use exact decimal arithmetic for decimal fields; avg divides
// sum by count in decimal space for int fields as well.
func aggregateGroup(ent *schema.EntityDef, members []storage.Row, q Query) (storage.Row, error) {
	result := make(storage.Row)
	if q.CountAll {
		result[CountAllField] = int64(len(members))
	}
	for _, f := range q.Count {
		var n int64
		for _, row := range members {
			if row[f] != nil {
				n++
			}
		}
		result[countPrefix+f] = n
	}
	for _, f := range q.Min {
		v, err := extreme(ent, members, f, true)
		if err != nil {
			return nil, err
		}
		result[minPrefix+f] = v
	}
	for _, f := range q.Max {
		v, err := extreme(ent, members, f, false)
		if err != nil {
			return nil, err
		}
		result[maxPrefix+f] = v
	}
	for _, f := range q.Sum {
		sum, _, err := sumField(ent, members, f)
		if err != nil {
			return nil, err
		}
		result[sumPrefix+f] = sum
	}
	for _, f := range q.Avg {
		sum, n, err := sumField(ent, members, f)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			result[avgPrefix+f] = nil
			continue
		}
		var total decimal.Decimal
		switch tv := sum.(type) {
		case decimal.Decimal:
			total = tv
		case int64:
			total = decimal.NewFromInt(tv)
		}
		result[avgPrefix+f] = total.Div(decimal.NewFromInt(n))
	}
	return result, nil
}

func extreme(ent *schema.EntityDef, members []storage.Row, field string, min bool) (any, error) {
	fd, _ := ent.Field(field)
	var best any
	for _, row := range members {
		v := row[field]
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		c, err := storage.Compare(fd.Kind, v, best)
		if err != nil {
			return nil, err
		}
		if (min && c < 0) || (!min && c > 0) {
			best = v
		}
	}
	return best, nil
}

// sumField returns the sum of non-null values and how many there were. The
// sum is nil when no values contribute, int64 for int fields, and
// decimal.Decimal for decimal fields.
func sumField(ent *schema.EntityDef, members []storage.Row, field string) (any, int64, error) {
	fd, _ := ent.Field(field)
	var n int64
	if fd.Kind == schema.KindInt {
		var sum int64
		for _, row := range members {
			if v, ok := row[field].(int64); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return nil, 0, nil
		}
		return sum, n, nil
	}
	sum := decimal.Zero
	for _, row := range members {
		if v, ok := row[field].(decimal.Decimal); ok {
			sum = sum.Add(v)
			n++
		}
	}
	if n == 0 {
		return nil, 0, nil
	}
	return sum, n, nil
}

// groupKey renders the grouped field values as a canonical map key; nulls are
// distinguishable from any real value.
func groupKey(row storage.Row, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if row[f] == nil {
			parts[i] = "\x00null"
			continue
		}
		ks, _ := storage.KeyString([]any{row[f]})
		parts[i] = ks
	}
	return strings.Join(parts, "\x1f")
}
