/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package predicate

import (
	"context"
	"strings"

	"github.com/suparena/querycore/document"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// RelatedFetcher supplies related rows to relation quantifiers during
// evaluation. ToOne returns nil for an absent optional relation and an error
// when a required relation's parent is missing.
type RelatedFetcher interface {
	ToMany(ctx context.Context, rel *schema.RelationDef, row storage.Row) ([]storage.Row, error)
	ToOne(ctx context.Context, rel *schema.RelationDef, row storage.Row) (storage.Row, error)
}

// Eval reports whether row satisfies the predicate. fetcher may be nil when
// the predicate has no relation conditions.
func (p *Predicate) Eval(ctx context.Context, row storage.Row, fetcher RelatedFetcher) (bool, error) {
	return p.root.eval(ctx, row, fetcher)
}

type node interface {
	eval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error)
}

// andNode is conjunction; an empty andNode is vacuously true.
type andNode []node

func (n andNode) eval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error) {
	for _, child := range n {
		ok, err := child.eval(ctx, row, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// orNode is disjunction; an empty orNode is vacuously false.
type orNode []node

func (n orNode) eval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error) {
	for _, child := range n {
		ok, err := child.eval(ctx, row, f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type notNode struct {
	sub node
}

func (n notNode) eval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error) {
	ok, err := n.sub.eval(ctx, row, f)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type relNode struct {
	rel   *schema.RelationDef
	quant Quantifier
	sub   node
}

func (n *relNode) subEval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error) {
	if n.sub == nil {
		return true, nil
	}
	return n.sub.eval(ctx, row, f)
}

func (n *relNode) eval(ctx context.Context, row storage.Row, f RelatedFetcher) (bool, error) {
	switch n.quant {
	case Some, Every, None:
		related, err := f.ToMany(ctx, n.rel, row)
		if err != nil {
			return false, err
		}
		for _, rr := range related {
			ok, err := n.subEval(ctx, rr, f)
			if err != nil {
				return false, err
			}
			switch n.quant {
			case Some:
				if ok {
					return true, nil
				}
			case Every:
				if !ok {
					return false, nil
				}
			case None:
				if ok {
					return false, nil
				}
			}
		}
		// Exhausted without deciding: some => false, every/none => vacuous true.
		return n.quant != Some, nil
	case Is:
		related, err := f.ToOne(ctx, n.rel, row)
		if err != nil {
			return false, err
		}
		if related == nil {
			return false, nil
		}
		return n.subEval(ctx, related, f)
	case IsNull:
		related, err := f.ToOne(ctx, n.rel, row)
		if err != nil {
			return false, err
		}
		return related == nil, nil
	}
	return false, nil
}

type leafNode struct {
	field       *schema.FieldDef
	op          Op
	value       any
	values      []any
	path        []string
	insensitive bool
	isNull      bool
}

func (n *leafNode) eval(_ context.Context, row storage.Row, _ RelatedFetcher) (bool, error) {
	value := row[n.field.Name]

	if n.isNull {
		return value == nil, nil
	}
	if len(n.path) > 0 {
		return n.evalPath(value)
	}

	switch n.op {
	case Equals:
		return storage.Equal(n.field.Kind, value, n.value)
	case In, NotIn:
		found := false
		for _, candidate := range n.values {
			eq, err := storage.Equal(n.field.Kind, value, candidate)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		if n.op == NotIn {
			return !found, nil
		}
		return found, nil
	case Lt, Lte, Gt, Gte:
		if value == nil {
			return false, nil
		}
		c, err := storage.Compare(n.field.Kind, value, n.value)
		if err != nil {
			return false, err
		}
		switch n.op {
		case Lt:
			return c < 0, nil
		case Lte:
			return c <= 0, nil
		case Gt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case Contains, StartsWith, EndsWith:
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return n.matchString(s), nil
	case Has:
		list, _ := value.([]string)
		for _, e := range list {
			if e == n.value.(string) {
				return true, nil
			}
		}
		return false, nil
	case HasEvery, HasSome:
		list, _ := value.([]string)
		set := make(map[string]bool, len(list))
		for _, e := range list {
			set[e] = true
		}
		for _, raw := range n.values {
			if set[raw.(string)] {
				if n.op == HasSome {
					return true, nil
				}
			} else if n.op == HasEvery {
				return false, nil
			}
		}
		// hasSome of an empty operand list is false; hasEvery is vacuous true.
		return n.op == HasEvery, nil
	case IsEmpty:
		list, _ := value.([]string)
		return len(list) == 0, nil
	}
	return false, nil
}

// evalPath applies the operator to a sub-path of a document field. An absent
// path never matches; an explicit stored null matches only Equals against
// document.Null().
func (n *leafNode) evalPath(value any) (bool, error) {
	doc, ok := value.(document.Value)
	if !ok {
		return false, nil
	}
	at, found := doc.Get(n.path...)
	if !found {
		return false, nil
	}
	switch n.op {
	case Equals:
		return at.Equal(n.value.(document.Value)), nil
	case Contains, StartsWith, EndsWith:
		if at.Kind() != document.KindString {
			return false, nil
		}
		return n.matchString(at.StringValue()), nil
	case ArrayContains:
		return at.Contains(n.value.(document.Value)), nil
	}
	return false, nil
}

func (n *leafNode) matchString(s string) bool {
	operand := n.value.(string)
	if n.insensitive {
		s = strings.ToLower(s)
		operand = strings.ToLower(operand)
	}
	switch n.op {
	case Contains:
		return strings.Contains(s, operand)
	case StartsWith:
		return strings.HasPrefix(s, operand)
	case EndsWith:
		return strings.HasSuffix(s, operand)
	}
	return false
}
