/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package resolve fetches declared relations for a set of root rows according
// to a caller-supplied shape tree. Traversal depth is bounded by the shape
// itself; there is no implicit transitive fetching.
package resolve

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// CountField is the key resolved _count maps are attached under.
const CountField = "_count"

// Resolver resolves relation shapes against a storage read transaction.
type Resolver struct {
	reg      *schema.Registry
	logger   zerolog.Logger
	maxDepth int
	parallel int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMaxDepth caps the shape tree depth accepted by Resolve.
func WithMaxDepth(d int) Option {
	return func(r *Resolver) { r.maxDepth = d }
}

// WithParallelism bounds how many relations resolve concurrently.
func WithParallelism(n int) Option {
	return func(r *Resolver) { r.parallel = n }
}

// New creates a Resolver over the given registry.
func New(reg *schema.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		reg:      reg,
		logger:   zerolog.Nop(),
		maxDepth: 10,
		parallel: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetcher adapts a read transaction into the related-row source the predicate
// engine evaluates relation quantifiers through.
func (r *Resolver) Fetcher(tx storage.ReadTx) predicate.RelatedFetcher {
	return &fetcher{reg: r.reg, tx: tx}
}

type fetcher struct {
	reg *schema.Registry
	tx  storage.ReadTx
}

// ToMany fetches the full related set of a to-many relation, unordered.
func (f *fetcher) ToMany(ctx context.Context, rel *schema.RelationDef, row storage.Row) ([]storage.Row, error) {
	id, _ := row[schema.PrimaryKey].(string)
	switch rel.Kind {
	case schema.HasMany:
		return f.scanMatching(ctx, rel.Target, rel.ForeignKey, id)
	case schema.ManyToMany:
		links, err := f.scanMatching(ctx, rel.Through, rel.ThroughSourceKey, id)
		if err != nil {
			return nil, err
		}
		out := make([]storage.Row, 0, len(links))
		for _, link := range links {
			targetID, _ := link[rel.ThroughTargetKey].(string)
			target, err := f.tx.Get(ctx, rel.Target, storage.PrimaryKey(targetID))
			if err != nil {
				return nil, err
			}
			if target == nil {
				return nil, qerrors.NewFatalIntegrityError(rel.Through, rel.Name, targetID)
			}
			out = append(out, target)
		}
		return out, nil
	}
	return nil, qerrors.NewValidationError(rel.Name, "not a to-many relation")
}

// ToOne resolves a BelongsTo relation. An optional relation with a null
// foreign key resolves to nil; a required relation whose parent row is gone
// is a broken invariant.
func (f *fetcher) ToOne(ctx context.Context, rel *schema.RelationDef, row storage.Row) (storage.Row, error) {
	fk := row[rel.ForeignKey]
	if fk == nil {
		if rel.Required {
			id, _ := row[schema.PrimaryKey].(string)
			return nil, qerrors.NewFatalIntegrityError(rel.Target, rel.Name, id)
		}
		return nil, nil
	}
	fkText, _ := fk.(string)
	target, err := f.tx.Get(ctx, rel.Target, storage.PrimaryKey(fkText))
	if err != nil {
		return nil, err
	}
	if target == nil && rel.Required {
		id, _ := row[schema.PrimaryKey].(string)
		return nil, qerrors.NewFatalIntegrityError(rel.Target, rel.Name, id)
	}
	return target, nil
}

func (f *fetcher) scanMatching(ctx context.Context, entity, field, value string) ([]storage.Row, error) {
	it, err := f.tx.Scan(ctx, entity, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []storage.Row
	for it.Next() {
		row := it.Row()
		if fv, _ := row[field].(string); fv == value {
			out = append(out, row)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve attaches every relation and _count the shape requests to the rows
// in place. Relations resolve concurrently, each into its own result slot;
// cancellation of ctx aborts in-flight scans.
func (r *Resolver) Resolve(ctx context.Context, tx storage.ReadTx, ent *schema.EntityDef, rows []storage.Row, shape *Shape) error {
	if shape == nil || len(rows) == 0 {
		return nil
	}
	if err := shape.Validate(r.reg, ent, r.maxDepth); err != nil {
		return err
	}
	return r.resolve(ctx, tx, ent, rows, shape, r.maxDepth)
}

func (r *Resolver) resolve(ctx context.Context, tx storage.ReadTx, ent *schema.EntityDef, rows []storage.Row, shape *Shape, depth int) error {
	if shape == nil || len(rows) == 0 {
		return nil
	}

	type relTask struct {
		name    string
		rel     *schema.RelationDef
		rs      *RelationShape
		results []any
	}
	type countTask struct {
		name    string
		rel     *schema.RelationDef
		where   *predicate.Where
		results []int64
	}

	var relTasks []*relTask
	for name, rs := range shape.Relations {
		rel, _ := ent.Relation(name)
		relTasks = append(relTasks, &relTask{name: name, rel: rel, rs: rs, results: make([]any, len(rows))})
	}
	var countTasks []*countTask
	for name, where := range shape.Counts {
		rel, _ := ent.Relation(name)
		countTasks = append(countTasks, &countTask{name: name, rel: rel, where: where, results: make([]int64, len(rows))})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	f := r.Fetcher(tx)

	for _, task := range relTasks {
		task := task
		g.Go(func() error {
			for i, row := range rows {
				resolved, err := r.resolveOne(gctx, tx, f, task.rel, task.rs, row, depth)
				if err != nil {
					return err
				}
				task.results[i] = resolved
			}
			return nil
		})
	}
	for _, task := range countTasks {
		task := task
		g.Go(func() error {
			target, err := r.reg.Entity(task.rel.Target)
			if err != nil {
				return err
			}
			var pred *predicate.Predicate
			if task.where != nil {
				if pred, err = predicate.Build(r.reg, target, task.where); err != nil {
					return err
				}
			}
			for i, row := range rows {
				related, err := f.ToMany(gctx, task.rel, row)
				if err != nil {
					return err
				}
				var n int64
				for _, rr := range related {
					if pred == nil {
						n++
						continue
					}
					ok, err := pred.Eval(gctx, rr, f)
					if err != nil {
						return err
					}
					if ok {
						n++
					}
				}
				task.results[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, row := range rows {
		for _, task := range relTasks {
			row[task.name] = task.results[i]
		}
		if len(countTasks) > 0 {
			counts, _ := row[CountField].(map[string]int64)
			if counts == nil {
				counts = make(map[string]int64, len(countTasks))
			}
			for _, task := range countTasks {
				counts[task.name] = task.results[i]
			}
			row[CountField] = counts
		}
	}
	return nil
}

// resolveOne resolves a single relation of a single row, recursing into the
// nested shape.
func (r *Resolver) resolveOne(ctx context.Context, tx storage.ReadTx, f predicate.RelatedFetcher, rel *schema.RelationDef, rs *RelationShape, row storage.Row, depth int) (any, error) {
	target, err := r.reg.Entity(rel.Target)
	if err != nil {
		return nil, err
	}
	if !rel.ToMany() {
		related, err := f.ToOne(ctx, rel, row)
		if err != nil {
			return nil, err
		}
		if related == nil {
			return nil, nil
		}
		if rs != nil && rs.Where != nil {
			pred, err := predicate.Build(r.reg, target, rs.Where)
			if err != nil {
				return nil, err
			}
			ok, err := pred.Eval(ctx, related, f)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
		}
		single := []storage.Row{related}
		if rs != nil {
			if err := r.resolve(ctx, tx, target, single, rs.Shape, depth-1); err != nil {
				return nil, err
			}
		}
		return single[0], nil
	}

	related, err := f.ToMany(ctx, rel, row)
	if err != nil {
		return nil, err
	}
	if rs != nil && rs.Where != nil {
		pred, err := predicate.Build(r.reg, target, rs.Where)
		if err != nil {
			return nil, err
		}
		kept := related[:0]
		for _, rr := range related {
			ok, err := pred.Eval(ctx, rr, f)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, rr)
			}
		}
		related = kept
	}
	page := Page{}
	if rs != nil {
		page = Page{OrderBy: rs.OrderBy, Cursor: rs.Cursor, Take: rs.Take, Skip: rs.Skip, Distinct: rs.Distinct}
	}
	related, err = ApplyPage(target, related, page)
	if err != nil {
		return nil, err
	}
	if rs != nil {
		if err := r.resolve(ctx, tx, target, related, rs.Shape, depth-1); err != nil {
			return nil, err
		}
	}
	if related == nil {
		related = []storage.Row{}
	}
	return related, nil
}
