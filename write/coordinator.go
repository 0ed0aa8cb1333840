/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package write

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/resolve"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// State tracks a write call through its lifecycle. Every operation validates
// its payload first, then applies mutations inside an engine transaction, and
// ends either committed or rolled back.
type State int

const (
	Validated State = iota
	Applying
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Validated:
		return "validated"
	case Applying:
		return "applying"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CreateInput is the payload of a create. Fields holds scalar values keyed by
// field name; omitted fields take their declared defaults. Nested maps a
// to-many relation name to child creates committed atomically with the parent.
type CreateInput struct {
	Fields storage.Row
	Nested map[string][]CreateInput
}

// NumericOp selects how a FieldUpdate combines with the stored value.
type NumericOp int

const (
	OpSet NumericOp = iota
	OpIncrement
	OpDecrement
	OpMultiply
	OpDivide
)

func (o NumericOp) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpMultiply:
		return "multiply"
	case OpDivide:
		return "divide"
	}
	return fmt.Sprintf("NumericOp(%d)", int(o))
}

// FieldUpdate is one field mutation. Arithmetic ops read the stored value
// inside the transaction, so concurrent increments never lose updates.
type FieldUpdate struct {
	Op    NumericOp
	Value any
}

// UpdateInput maps field names to their mutations.
type UpdateInput map[string]FieldUpdate

// Set replaces the stored value.
func Set(v any) FieldUpdate { return FieldUpdate{Op: OpSet, Value: v} }

// Increment adds v to the stored numeric value.
func Increment(v any) FieldUpdate { return FieldUpdate{Op: OpIncrement, Value: v} }

// Decrement subtracts v from the stored numeric value.
func Decrement(v any) FieldUpdate { return FieldUpdate{Op: OpDecrement, Value: v} }

// Multiply multiplies the stored numeric value by v.
func Multiply(v any) FieldUpdate { return FieldUpdate{Op: OpMultiply, Value: v} }

// Divide divides the stored numeric value by v. Integer division truncates;
// dividing by zero fails validation.
func Divide(v any) FieldUpdate { return FieldUpdate{Op: OpDivide, Value: v} }

// Coordinator validates and applies mutations against a storage engine. All
// multi-row operations run inside a single engine transaction.
type Coordinator struct {
	reg    *schema.Registry
	engine storage.Engine
	res    *resolve.Resolver
	logger zerolog.Logger
	txOpts storage.TxOptions

	now   func() time.Time
	newID func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTxOptions sets the transaction bounds used by every one-shot operation.
func WithTxOptions(opts storage.TxOptions) Option {
	return func(c *Coordinator) { c.txOpts = opts }
}

// WithClock overrides the timestamp source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides primary-key generation. Test hook.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// New creates a Coordinator over the given registry and engine.
func New(reg *schema.Registry, engine storage.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:    reg,
		engine: engine,
		res:    resolve.New(reg),
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// composeCreate builds the full stored row for a create: normalizes supplied
// values, fills declared defaults, then enforces nullability, enum membership,
// numeric bounds, and entity row checks.
func (c *Coordinator) composeCreate(def *schema.EntityDef, fields storage.Row) (storage.Row, error) {
	row := make(storage.Row, len(def.Fields))
	for name, raw := range fields {
		fd, ok := def.Field(name)
		if !ok {
			return nil, qerrors.NewValidationError(def.Name+"."+name, "unknown field")
		}
		v, err := storage.NormalizeValue(fd, raw)
		if err != nil {
			return nil, qerrors.NewValidationError(def.Name+"."+name, err.Error())
		}
		row[name] = v
	}
	now := c.now()
	for i := range def.Fields {
		fd := &def.Fields[i]
		if _, present := row[fd.Name]; present {
			continue
		}
		switch {
		case fd.Name == schema.PrimaryKey:
			row[fd.Name] = c.newID()
		case fd.Name == "created_at" || fd.Name == "updated_at":
			if fd.Kind == schema.KindTime {
				row[fd.Name] = now
			}
		case fd.Default != nil:
			v, err := storage.NormalizeValue(fd, fd.Default)
			if err != nil {
				return nil, qerrors.NewValidationError(def.Name+"."+fd.Name, "invalid default: "+err.Error())
			}
			row[fd.Name] = v
		case fd.Nullable:
			row[fd.Name] = nil
		default:
			return nil, qerrors.NewValidationError(def.Name+"."+fd.Name, "required field missing")
		}
	}
	if err := c.checkRow(def, row); err != nil {
		return nil, err
	}
	return row, nil
}

// checkRow enforces field constraints and entity row checks on a fully
// composed row.
func (c *Coordinator) checkRow(def *schema.EntityDef, row storage.Row) error {
	for i := range def.Fields {
		fd := &def.Fields[i]
		v := row[fd.Name]
		if v == nil {
			if !fd.Nullable && fd.Name != schema.PrimaryKey {
				return qerrors.NewValidationError(def.Name+"."+fd.Name, "must not be null")
			}
			continue
		}
		if len(fd.Enum) > 0 {
			s, _ := v.(string)
			if !containsString(fd.Enum, s) {
				return qerrors.NewValidationError(def.Name+"."+fd.Name,
					fmt.Sprintf("%q is not one of (%s)", s, strings.Join(fd.Enum, ", ")))
			}
		}
		if fd.NonNegative || fd.Positive {
			if err := checkBounds(def.Name, fd, v); err != nil {
				return err
			}
		}
	}
	for _, rc := range def.RowChecks {
		if err := rc.Check(row); err != nil {
			return err
		}
	}
	return nil
}

func checkBounds(entity string, fd *schema.FieldDef, v any) error {
	var neg, zero bool
	switch tv := v.(type) {
	case int64:
		neg, zero = tv < 0, tv == 0
	case decimal.Decimal:
		neg, zero = tv.IsNegative(), tv.IsZero()
	default:
		return nil
	}
	if neg {
		return qerrors.NewValidationError(entity+"."+fd.Name, "must not be negative")
	}
	if fd.Positive && zero {
		return qerrors.NewValidationError(entity+"."+fd.Name, "must be positive")
	}
	return nil
}

// applyUpdates mutates a clone of the stored row per the update input and
// re-validates it. The caller owns persisting the result.
func (c *Coordinator) applyUpdates(def *schema.EntityDef, row storage.Row, upd UpdateInput) (storage.Row, error) {
	out := row.Clone()
	for name, fu := range upd {
		fd, ok := def.Field(name)
		if !ok {
			return nil, qerrors.NewValidationError(def.Name+"."+name, "unknown field")
		}
		if fd.Name == schema.PrimaryKey {
			return nil, qerrors.NewValidationError(def.Name+"."+name, "primary key is immutable")
		}
		if fd.Immutable {
			return nil, qerrors.NewValidationError(def.Name+"."+name, "field is immutable")
		}
		v, err := c.applyFieldUpdate(def, fd, out[name], fu)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	if fd, ok := def.Field("updated_at"); ok && fd.Kind == schema.KindTime {
		if _, explicit := upd["updated_at"]; !explicit {
			out["updated_at"] = c.now()
		}
	}
	if err := c.checkRow(def, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) applyFieldUpdate(def *schema.EntityDef, fd *schema.FieldDef, current any, fu FieldUpdate) (any, error) {
	path := def.Name + "." + fd.Name
	if fu.Op == OpSet {
		v, err := storage.NormalizeValue(fd, fu.Value)
		if err != nil {
			return nil, qerrors.NewValidationError(path, err.Error())
		}
		return v, nil
	}
	if fd.Kind != schema.KindInt && fd.Kind != schema.KindDecimal {
		return nil, qerrors.NewValidationError(path, fu.Op.String()+" requires a numeric field")
	}
	if current == nil {
		return nil, qerrors.NewValidationError(path, "cannot apply "+fu.Op.String()+" to a null value")
	}
	operand, err := storage.NormalizeValue(fd, fu.Value)
	if err != nil {
		return nil, qerrors.NewValidationError(path, err.Error())
	}
	if operand == nil {
		return nil, qerrors.NewValidationError(path, fu.Op.String()+" operand must not be null")
	}
	switch fd.Kind {
	case schema.KindInt:
		cur := current.(int64)
		op := operand.(int64)
		switch fu.Op {
		case OpIncrement:
			return cur + op, nil
		case OpDecrement:
			return cur - op, nil
		case OpMultiply:
			return cur * op, nil
		case OpDivide:
			if op == 0 {
				return nil, qerrors.NewValidationError(path, "division by zero")
			}
			return cur / op, nil
		}
	case schema.KindDecimal:
		cur := current.(decimal.Decimal)
		op := operand.(decimal.Decimal)
		switch fu.Op {
		case OpIncrement:
			return cur.Add(op), nil
		case OpDecrement:
			return cur.Sub(op), nil
		case OpMultiply:
			return cur.Mul(op), nil
		case OpDivide:
			if op.IsZero() {
				return nil, qerrors.NewValidationError(path, "division by zero")
			}
			return cur.Div(op), nil
		}
	}
	return nil, qerrors.NewValidationError(path, "unknown numeric op")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func keyLabel(key storage.UniqueKey) string {
	parts := make([]string, len(key.Values))
	for i, v := range key.Values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "/")
}
