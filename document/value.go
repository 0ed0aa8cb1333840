/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a semi-structured document value: a recursive tagged union over
// Null/Bool/Number/String/Array/Object. Numbers are held as decimals so that
// money-like values survive a round-trip without binary floating-point drift.
//
// An explicit Null value is distinct from an absent path: Get reports absence
// through its second return, while a stored null comes back as a Value of
// KindNull with found == true.
type Value struct {
	kind Kind
	b    bool
	n    decimal.Decimal
	s    string
	a    []Value
	o    map[string]Value
}

// Null returns the explicit null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Number wraps a decimal number.
func Number(v decimal.Decimal) Value { return Value{kind: KindNumber, n: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Array wraps a list of values.
func Array(vs ...Value) Value { return Value{kind: KindArray, a: vs} }

// Object wraps a string-keyed map of values.
func Object(m map[string]Value) Value { return Value{kind: KindObject, o: m} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolValue returns the boolean payload; valid only for KindBool.
func (v Value) BoolValue() bool { return v.b }

// NumberValue returns the numeric payload; valid only for KindNumber.
func (v Value) NumberValue() decimal.Decimal { return v.n }

// StringValue returns the string payload; valid only for KindString.
func (v Value) StringValue() string { return v.s }

// ArrayValue returns the element slice; valid only for KindArray.
func (v Value) ArrayValue() []Value { return v.a }

// ObjectValue returns the member map; valid only for KindObject.
func (v Value) ObjectValue() map[string]Value { return v.o }

// Get walks the object path and returns the value found there. found is false
// when any path segment is missing or crosses a non-object; an explicit null
// stored at the path yields (Null(), true).
func (v Value) Get(path ...string) (Value, bool) {
	cur := v
	for _, seg := range path {
		if cur.kind != KindObject {
			return Value{}, false
		}
		next, ok := cur.o[seg]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Equal reports deep equality of two values. Numbers compare by value, so
// 10 and 10.00 are equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n.Equal(other.n)
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.o) != len(other.o) {
			return false
		}
		for k, mv := range v.o {
			ov, ok := other.o[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports whether an array value has an element deep-equal to elem.
// It is false for non-array values.
func (v Value) Contains(elem Value) bool {
	if v.kind != KindArray {
		return false
	}
	for _, e := range v.a {
		if e.Equal(elem) {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes arbitrary JSON into the tagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON encodes the value back to plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toRaw())
}

// FromJSON parses a JSON document into a Value.
func FromJSON(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, fmt.Errorf("failed to parse document: %w", err)
	}
	return v, nil
}

func fromRaw(raw any) (Value, error) {
	switch tv := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(tv), nil
	case json.Number:
		d, err := decimal.NewFromString(tv.String())
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", tv.String(), err)
		}
		return Number(d), nil
	case string:
		return String(tv), nil
	case []any:
		elems := make([]Value, 0, len(tv))
		for _, e := range tv {
			ev, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, ev)
		}
		return Array(elems...), nil
	case map[string]any:
		m := make(map[string]Value, len(tv))
		for k, e := range tv {
			ev, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", raw)
	}
}

func (v Value) toRaw() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return json.RawMessage(v.n.String())
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i, e := range v.a {
			out[i] = e.toRaw()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.o))
		for k, e := range v.o {
			out[k] = e.toRaw()
		}
		return out
	}
	return nil
}

// String renders a stable, human-readable form used in logs and error text.
// Object keys are emitted in sorted order.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindNumber:
		return v.n.String()
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindArray:
		parts := make([]string, len(v.a))
		for i, e := range v.a {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.o))
		for k := range v.o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q:%s", k, v.o[k].String())
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return ""
}
