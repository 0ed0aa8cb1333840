/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suparena/querycore/document"
	"github.com/suparena/querycore/schema"
)

// NormalizeValue coerces a caller-supplied value into the canonical Go form
// for the field's kind: string, int64, bool, decimal.Decimal, time.Time,
// document.Value, or []string. Integers widen to int64; decimals accept ints
// and numeric strings. A nil input passes through untouched.
func NormalizeValue(fd *schema.FieldDef, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch fd.Kind {
	case schema.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("value must be a string, got %T", raw)
		}
		return s, nil
	case schema.KindInt:
		switch tv := raw.(type) {
		case int:
			return int64(tv), nil
		case int32:
			return int64(tv), nil
		case int64:
			return tv, nil
		}
		return nil, fmt.Errorf("value must be an integer, got %T", raw)
	case schema.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("value must be a bool, got %T", raw)
		}
		return b, nil
	case schema.KindDecimal:
		switch tv := raw.(type) {
		case decimal.Decimal:
			return tv, nil
		case int:
			return decimal.NewFromInt(int64(tv)), nil
		case int64:
			return decimal.NewFromInt(tv), nil
		case string:
			d, err := decimal.NewFromString(tv)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal value %q", tv)
			}
			return d, nil
		}
		return nil, fmt.Errorf("value must be a decimal, got %T", raw)
	case schema.KindTime:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, fmt.Errorf("value must be a time, got %T", raw)
		}
		return t, nil
	case schema.KindJson:
		dv, ok := raw.(document.Value)
		if !ok {
			return nil, fmt.Errorf("value must be a document value, got %T", raw)
		}
		return dv, nil
	case schema.KindStringList:
		l, ok := raw.([]string)
		if !ok {
			return nil, fmt.Errorf("value must be a string list, got %T", raw)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unsupported field kind %s", fd.Kind)
}

// Compare orders two non-nil values of the given kind. It returns -1, 0, or 1,
// or an error when either value is not the canonical Go form for the kind.
// Nulls are not comparable here; callers order them explicitly.
func Compare(kind schema.FieldKind, a, b any) (int, error) {
	switch kind {
	case schema.KindString:
		av, aok := a.(string)
		bv, bok := b.(string)
		if !aok || !bok {
			return 0, typeMismatch(kind, a, b)
		}
		return strings.Compare(av, bv), nil
	case schema.KindInt:
		av, aok := a.(int64)
		bv, bok := b.(int64)
		if !aok || !bok {
			return 0, typeMismatch(kind, a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case schema.KindDecimal:
		av, aok := a.(decimal.Decimal)
		bv, bok := b.(decimal.Decimal)
		if !aok || !bok {
			return 0, typeMismatch(kind, a, b)
		}
		return av.Cmp(bv), nil
	case schema.KindTime:
		av, aok := a.(time.Time)
		bv, bok := b.(time.Time)
		if !aok || !bok {
			return 0, typeMismatch(kind, a, b)
		}
		switch {
		case av.Before(bv):
			return -1, nil
		case av.After(bv):
			return 1, nil
		}
		return 0, nil
	case schema.KindBool:
		av, aok := a.(bool)
		bv, bok := b.(bool)
		if !aok || !bok {
			return 0, typeMismatch(kind, a, b)
		}
		switch {
		case !av && bv:
			return -1, nil
		case av && !bv:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("values of kind %s are not ordered", kind)
}

// Equal reports value equality for any field kind, treating two nils as equal.
func Equal(kind schema.FieldKind, a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	switch kind {
	case schema.KindJson:
		av, aok := a.(document.Value)
		bv, bok := b.(document.Value)
		if !aok || !bok {
			return false, typeMismatch(kind, a, b)
		}
		return av.Equal(bv), nil
	case schema.KindStringList:
		av, aok := a.([]string)
		bv, bok := b.([]string)
		if !aok || !bok {
			return false, typeMismatch(kind, a, b)
		}
		if len(av) != len(bv) {
			return false, nil
		}
		for i := range av {
			if av[i] != bv[i] {
				return false, nil
			}
		}
		return true, nil
	default:
		c, err := Compare(kind, a, b)
		if err != nil {
			return false, err
		}
		return c == 0, nil
	}
}

func typeMismatch(kind schema.FieldKind, a, b any) error {
	return fmt.Errorf("cannot compare %T and %T as %s", a, b, kind)
}

// SortRows orders rows in place by the given terms, appending primary key
// ascending as a final tiebreaker so the order is total and pagination stays
// deterministic. Nulls order before non-nulls ascending.
func SortRows(def *schema.EntityDef, rows []Row, order []Order) error {
	terms := make([]Order, 0, len(order)+1)
	terms = append(terms, order...)
	terms = append(terms, Order{Field: schema.PrimaryKey})

	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, term := range terms {
			fd, ok := def.Field(term.Field)
			if !ok {
				sortErr = fmt.Errorf("order references unknown field %s.%s", def.Name, term.Field)
				return false
			}
			a, b := rows[i][term.Field], rows[j][term.Field]
			var c int
			switch {
			case a == nil && b == nil:
				c = 0
			case a == nil:
				c = -1
			case b == nil:
				c = 1
			default:
				var err error
				c, err = Compare(fd.Kind, a, b)
				if err != nil {
					sortErr = err
					return false
				}
			}
			if c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

// KeyString renders a unique-key value tuple as a canonical string, used by
// engines to key their unique indexes. A nil component yields no key: unique
// constraints do not apply to null values.
func KeyString(values []any) (string, bool) {
	parts := make([]string, len(values))
	for i, v := range values {
		switch tv := v.(type) {
		case nil:
			return "", false
		case string:
			parts[i] = tv
		case int64:
			parts[i] = fmt.Sprintf("%d", tv)
		case bool:
			parts[i] = fmt.Sprintf("%v", tv)
		case decimal.Decimal:
			parts[i] = tv.String()
		case time.Time:
			parts[i] = tv.UTC().Format(time.RFC3339Nano)
		case document.Value:
			parts[i] = tv.String()
		default:
			parts[i] = fmt.Sprintf("%v", tv)
		}
	}
	return strings.Join(parts, "\x1f"), true
}
