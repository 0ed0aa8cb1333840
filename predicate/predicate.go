/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package predicate

import (
	"fmt"

	"github.com/suparena/querycore/document"
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Op enumerates the leaf operators.
type Op int

const (
	Equals Op = iota
	In
	NotIn
	Lt
	Lte
	Gt
	Gte
	// String operators; Insensitive switches them to case-insensitive.
	Contains
	StartsWith
	EndsWith
	// List operators for stringList fields.
	Has
	HasEvery
	HasSome
	IsEmpty
	// ArrayContains checks containment on an array-typed document sub-path.
	ArrayContains
)

var opNames = map[Op]string{
	Equals: "equals", In: "in", NotIn: "notIn",
	Lt: "lt", Lte: "lte", Gt: "gt", Gte: "gte",
	Contains: "contains", StartsWith: "startsWith", EndsWith: "endsWith",
	Has: "has", HasEvery: "hasEvery", HasSome: "hasSome", IsEmpty: "isEmpty",
	ArrayContains: "arrayContains",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// nullSentinel is the type of Null.
type nullSentinel struct{}

// Null is the "is null" sentinel: Equals with Value = Null matches rows whose
// nullable field holds no value. It is distinct from document.Null(), which
// matches an explicit JSON null stored at a document path.
var Null = nullSentinel{}

// FieldCond is one leaf condition on a scalar field. Path targets a sub-path
// of a json field; Insensitive applies to the string operators.
type FieldCond struct {
	Field       string
	Op          Op
	Value       any
	Values      []any
	Path        []string
	Insensitive bool
}

// Quantifier selects how a relation sub-predicate applies.
type Quantifier int

const (
	// Some matches when at least one related row satisfies the sub-predicate.
	Some Quantifier = iota
	// Every matches when all related rows satisfy it; vacuously true for an
	// empty related set.
	Every
	// None matches when no related row satisfies it.
	None
	// Is applies the sub-predicate to a to-one related row.
	Is
	// IsNull matches when an optional to-one relation resolves to no row.
	IsNull
)

func (q Quantifier) String() string {
	switch q {
	case Some:
		return "some"
	case Every:
		return "every"
	case None:
		return "none"
	case Is:
		return "is"
	case IsNull:
		return "isNull"
	}
	return fmt.Sprintf("quantifier(%d)", int(q))
}

// RelationCond filters through a declared relation.
type RelationCond struct {
	Relation   string
	Quantifier Quantifier
	Where      *Where
}

// Where is the composable filter tree over one entity. Conds, Relations, And,
// and Not elements combine conjunctively; Or combines its elements
// disjunctively. A nil Where and an empty And are vacuously true; a non-nil
// empty Or is vacuously false.
type Where struct {
	And []Where
	Or  []Where
	Not []Where

	Conds     []FieldCond
	Relations []RelationCond
}

// Predicate is a validated, evaluatable filter tree.
type Predicate struct {
	entity *schema.EntityDef
	root   node
}

// Entity returns the entity the predicate was built for.
func (p *Predicate) Entity() *schema.EntityDef { return p.entity }

// Build validates w against the entity definition and compiles it. Type
// mismatches between an operator and its field kind fail here with a
// ValidationError naming the offending field path; Eval never revalidates.
// Relation sub-predicates resolve their target entities through reg, which
// may be nil when w has no relation conditions.
func Build(reg *schema.Registry, ent *schema.EntityDef, w *Where) (*Predicate, error) {
	root, err := compileWhere(reg, ent, w, ent.Name)
	if err != nil {
		return nil, err
	}
	return &Predicate{entity: ent, root: root}, nil
}

func compileWhere(reg *schema.Registry, ent *schema.EntityDef, w *Where, path string) (node, error) {
	if w == nil {
		return andNode(nil), nil
	}
	var conj []node
	for i := range w.Conds {
		leaf, err := compileLeaf(ent, &w.Conds[i], path)
		if err != nil {
			return nil, err
		}
		conj = append(conj, leaf)
	}
	for i := range w.Relations {
		rn, err := compileRelation(reg, ent, &w.Relations[i], path)
		if err != nil {
			return nil, err
		}
		conj = append(conj, rn)
	}
	for i := range w.And {
		sub, err := compileWhere(reg, ent, &w.And[i], path)
		if err != nil {
			return nil, err
		}
		conj = append(conj, sub)
	}
	for i := range w.Not {
		sub, err := compileWhere(reg, ent, &w.Not[i], path)
		if err != nil {
			return nil, err
		}
		conj = append(conj, notNode{sub})
	}
	if w.Or != nil {
		var disj []node
		for i := range w.Or {
			sub, err := compileWhere(reg, ent, &w.Or[i], path)
			if err != nil {
				return nil, err
			}
			disj = append(disj, sub)
		}
		conj = append(conj, orNode(disj))
	}
	return andNode(conj), nil
}

func compileRelation(reg *schema.Registry, ent *schema.EntityDef, rc *RelationCond, path string) (node, error) {
	fieldPath := path + "." + rc.Relation
	rel, ok := ent.Relation(rc.Relation)
	if !ok {
		return nil, qerrors.NewValidationError(fieldPath, "unknown relation")
	}
	switch rc.Quantifier {
	case Some, Every, None:
		if !rel.ToMany() {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("quantifier %s requires a to-many relation", rc.Quantifier))
		}
	case Is, IsNull:
		if rel.ToMany() {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("quantifier %s requires a to-one relation", rc.Quantifier))
		}
	}
	var sub node
	if rc.Where != nil {
		if reg == nil {
			return nil, qerrors.NewValidationError(fieldPath, "relation filters require a schema registry")
		}
		target, err := reg.Entity(rel.Target)
		if err != nil {
			return nil, err
		}
		sub, err = compileWhere(reg, target, rc.Where, fieldPath+"."+rc.Quantifier.String())
		if err != nil {
			return nil, err
		}
	}
	return &relNode{rel: rel, quant: rc.Quantifier, sub: sub}, nil
}

func compileLeaf(ent *schema.EntityDef, fc *FieldCond, path string) (node, error) {
	fieldPath := path + "." + fc.Field
	fd, ok := ent.Field(fc.Field)
	if !ok {
		return nil, qerrors.NewValidationError(fieldPath, "unknown field")
	}
	leaf := &leafNode{field: fd, op: fc.Op, path: fc.Path, insensitive: fc.Insensitive}

	if len(fc.Path) > 0 && fd.Kind != schema.KindJson {
		return nil, qerrors.NewValidationError(fieldPath, "path conditions require a json field")
	}

	switch fc.Op {
	case Equals:
		if _, isNull := fc.Value.(nullSentinel); isNull {
			if !fd.Nullable {
				return nil, qerrors.NewValidationError(fieldPath, "null check on a non-nullable field")
			}
			leaf.isNull = true
			return leaf, nil
		}
		v, err := normalizeOperand(fd, fc.Value)
		if err != nil {
			return nil, qerrors.NewValidationError(fieldPath, err.Error())
		}
		leaf.value = v
	case In, NotIn:
		if fd.Kind == schema.KindJson || fd.Kind == schema.KindStringList {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s is not applicable to %s fields", fc.Op, fd.Kind))
		}
		for _, raw := range fc.Values {
			v, err := normalizeOperand(fd, raw)
			if err != nil {
				return nil, qerrors.NewValidationError(fieldPath, err.Error())
			}
			leaf.values = append(leaf.values, v)
		}
	case Lt, Lte, Gt, Gte:
		if len(fc.Path) > 0 {
			return nil, qerrors.NewValidationError(fieldPath, "ordering comparisons are not defined on document paths")
		}
		if !fd.Kind.Ordered() {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s requires an ordered field kind, got %s", fc.Op, fd.Kind))
		}
		v, err := normalizeOperand(fd, fc.Value)
		if err != nil {
			return nil, qerrors.NewValidationError(fieldPath, err.Error())
		}
		leaf.value = v
	case Contains, StartsWith, EndsWith:
		if fd.Kind == schema.KindJson {
			if len(fc.Path) == 0 {
				return nil, qerrors.NewValidationError(fieldPath, "string match on a json field requires a path")
			}
		} else if fd.Kind != schema.KindString {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s requires a string field, got %s", fc.Op, fd.Kind))
		}
		s, ok := fc.Value.(string)
		if !ok {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s operand must be a string, got %T", fc.Op, fc.Value))
		}
		leaf.value = s
	case Has:
		if fd.Kind != schema.KindStringList {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s requires a stringList field, got %s", fc.Op, fd.Kind))
		}
		s, ok := fc.Value.(string)
		if !ok {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s operand must be a string, got %T", fc.Op, fc.Value))
		}
		leaf.value = s
	case HasEvery, HasSome:
		if fd.Kind != schema.KindStringList {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s requires a stringList field, got %s", fc.Op, fd.Kind))
		}
		for _, raw := range fc.Values {
			s, ok := raw.(string)
			if !ok {
				return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s operands must be strings, got %T", fc.Op, raw))
			}
			leaf.values = append(leaf.values, s)
		}
	case IsEmpty:
		if fd.Kind != schema.KindStringList {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("%s requires a stringList field, got %s", fc.Op, fd.Kind))
		}
	case ArrayContains:
		if fd.Kind != schema.KindJson || len(fc.Path) == 0 {
			return nil, qerrors.NewValidationError(fieldPath, "arrayContains requires a json field path")
		}
		dv, ok := fc.Value.(document.Value)
		if !ok {
			return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("arrayContains operand must be a document value, got %T", fc.Value))
		}
		leaf.value = dv
	default:
		return nil, qerrors.NewValidationError(fieldPath, fmt.Sprintf("unknown operator %s", fc.Op))
	}
	return leaf, nil
}

// normalizeOperand coerces a caller-supplied operand into the canonical Go
// form for the field kind.
func normalizeOperand(fd *schema.FieldDef, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("operand must not be nil")
	}
	return storage.NormalizeValue(fd, raw)
}
