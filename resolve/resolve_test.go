/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
	"github.com/suparena/querycore/storage/memstore"
)

func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.EntityDef{
		Name: "Author",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: schema.KindString},
			{Name: "name", Kind: schema.KindString},
		},
		Relations: []schema.RelationDef{
			{Name: "posts", Kind: schema.HasMany, Target: "Post", ForeignKey: "author_id"},
		},
	}))
	require.NoError(t, reg.Register(&schema.EntityDef{
		Name: "Post",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: schema.KindString},
			{Name: "author_id", Kind: schema.KindString},
			{Name: "title", Kind: schema.KindString},
			{Name: "views", Kind: schema.KindInt},
		},
		Relations: []schema.RelationDef{
			{Name: "author", Kind: schema.BelongsTo, Target: "Author", ForeignKey: "author_id", Required: true},
			{Name: "tags", Kind: schema.ManyToMany, Target: "Tag", Through: "PostTag", ThroughSourceKey: "post_id", ThroughTargetKey: "tag_id"},
		},
	}))
	require.NoError(t, reg.Register(&schema.EntityDef{
		Name: "Tag",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: schema.KindString},
			{Name: "name", Kind: schema.KindString},
		},
	}))
	require.NoError(t, reg.Register(&schema.EntityDef{
		Name: "PostTag",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: schema.KindString},
			{Name: "post_id", Kind: schema.KindString},
			{Name: "tag_id", Kind: schema.KindString},
		},
	}))
	require.NoError(t, reg.Finalize())
	return reg
}

func seedBlog(t *testing.T, reg *schema.Registry) *memstore.Store {
	t.Helper()
	s := memstore.New(reg)
	ctx := context.Background()
	tx, err := s.Begin(ctx, storage.TxOptions{})
	require.NoError(t, err)
	rows := map[string][]storage.Row{
		"Author": {
			{"id": "au1", "name": "Mina"},
			{"id": "au2", "name": "Theo"},
		},
		"Post": {
			{"id": "p1", "author_id": "au1", "title": "First", "views": int64(10)},
			{"id": "p2", "author_id": "au1", "title": "Second", "views": int64(50)},
			{"id": "p3", "author_id": "au2", "title": "Third", "views": int64(5)},
		},
		"Tag": {
			{"id": "t1", "name": "go"},
			{"id": "t2", "name": "storage"},
		},
		"PostTag": {
			{"id": "pt1", "post_id": "p1", "tag_id": "t1"},
			{"id": "pt2", "post_id": "p1", "tag_id": "t2"},
			{"id": "pt3", "post_id": "p2", "tag_id": "t1"},
		},
	}
	for entity, ers := range rows {
		for _, row := range ers {
			require.NoError(t, tx.Insert(ctx, entity, row))
		}
	}
	require.NoError(t, tx.Commit(ctx))
	return s
}

func fetchAll(t *testing.T, s *memstore.Store, entity string) []storage.Row {
	t.Helper()
	ctx := context.Background()
	var out []storage.Row
	require.NoError(t, s.View(ctx, func(tx storage.ReadTx) error {
		it, err := tx.Scan(ctx, entity, nil)
		require.NoError(t, err)
		defer it.Close()
		for it.Next() {
			out = append(out, it.Row())
		}
		return it.Err()
	}))
	return out
}

func TestResolveHasManyAndCount(t *testing.T) {
	reg := blogRegistry(t)
	s := seedBlog(t, reg)
	r := New(reg)
	ctx := context.Background()
	ent, err := reg.Entity("Author")
	require.NoError(t, err)

	rows := fetchAll(t, s, "Author")
	shape := &Shape{
		Relations: map[string]*RelationShape{
			"posts": {OrderBy: []storage.Order{{Field: "views", Desc: true}}},
		},
		Counts: map[string]*predicate.Where{
			"posts": nil,
		},
	}
	require.NoError(t, s.View(ctx, func(tx storage.ReadTx) error {
		return r.Resolve(ctx, tx, ent, rows, shape)
	}))

	byID := map[string]storage.Row{}
	for _, row := range rows {
		byID[row["id"].(string)] = row
	}

	posts := byID["au1"]["posts"].([]storage.Row)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0]["id"], "ordered by views descending")
	assert.Equal(t, "p1", posts[1]["id"])

	counts := byID["au1"][CountField].(map[string]int64)
	assert.Equal(t, int64(len(posts)), counts["posts"])

	counts = byID["au2"][CountField].(map[string]int64)
	assert.Equal(t, int64(1), counts["posts"])
}

func TestResolveFilteredCount(t *testing.T) {
	reg := blogRegistry(t)
	s := seedBlog(t, reg)
	r := New(reg)
	ctx := context.Background()
	ent, err := reg.Entity("Author")
	require.NoError(t, err)

	rows := fetchAll(t, s, "Author")
	shape := &Shape{
		Counts: map[string]*predicate.Where{
			"posts": {Conds: []predicate.FieldCond{{Field: "views", Op: predicate.Gte, Value: 10}}},
		},
	}
	require.NoError(t, s.View(ctx, func(tx storage.ReadTx) error {
		return r.Resolve(ctx, tx, ent, rows, shape)
	}))
	for _, row := range rows {
		counts := row[CountField].(map[string]int64)
		switch row["id"] {
		case "au1":
			assert.Equal(t, int64(2), counts["posts"])
		case "au2":
			assert.Equal(t, int64(0), counts["posts"])
		}
	}
}

func TestResolveManyToManyAndNestedBelongsTo(t *testing.T) {
	reg := blogRegistry(t)
	s := seedBlog(t, reg)
	r := New(reg)
	ctx := context.Background()
	ent, err := reg.Entity("Post")
	require.NoError(t, err)

	rows := fetchAll(t, s, "Post")
	shape := &Shape{
		Relations: map[string]*RelationShape{
			"tags":   {OrderBy: []storage.Order{{Field: "name"}}},
			"author": {},
		},
	}
	require.NoError(t, s.View(ctx, func(tx storage.ReadTx) error {
		return r.Resolve(ctx, tx, ent, rows, shape)
	}))

	byID := map[string]storage.Row{}
	for _, row := range rows {
		byID[row["id"].(string)] = row
	}

	tags := byID["p1"]["tags"].([]storage.Row)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0]["name"])
	assert.Equal(t, "storage", tags[1]["name"])

	assert.Empty(t, byID["p3"]["tags"].([]storage.Row))

	author := byID["p3"]["author"].(storage.Row)
	assert.Equal(t, "Theo", author["name"])
}

func TestResolveDanglingRequiredRelation(t *testing.T) {
	reg := blogRegistry(t)
	s := seedBlog(t, reg)
	r := New(reg)
	ctx := context.Background()
	ent, err := reg.Entity("Post")
	require.NoError(t, err)

	// Seed a post whose author never existed; the engine does not chase
	// foreign keys, so the broken reference surfaces at resolve time.
	tx, err := s.Begin(ctx, storage.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, "Post", storage.Row{"id": "p9", "author_id": "ghost", "title": "Orphan", "views": int64(0)}))
	require.NoError(t, tx.Commit(ctx))

	rows := fetchAll(t, s, "Post")
	shape := &Shape{Relations: map[string]*RelationShape{"author": {}}}
	err = s.View(ctx, func(rtx storage.ReadTx) error {
		return r.Resolve(ctx, rtx, ent, rows, shape)
	})
	require.Error(t, err)
	assert.True(t, qerrors.IsFatalIntegrity(err))
}

func TestShapeValidate(t *testing.T) {
	reg := blogRegistry(t)
	ent, err := reg.Entity("Post")
	require.NoError(t, err)

	take := 1
	cases := []struct {
		name  string
		shape *Shape
		depth int
	}{
		{"select and omit together", &Shape{Select: map[string]bool{"id": true}, Omit: map[string]bool{"title": true}}, 5},
		{"unknown select field", &Shape{Select: map[string]bool{"bogus": true}}, 5},
		{"unknown relation", &Shape{Relations: map[string]*RelationShape{"comments": {}}}, 5},
		{"pagination on to-one", &Shape{Relations: map[string]*RelationShape{"author": {Take: &take}}}, 5},
		{"count on to-one", &Shape{Counts: map[string]*predicate.Where{"author": nil}}, 5},
		{"depth exceeded", &Shape{Relations: map[string]*RelationShape{"tags": {Shape: &Shape{Select: map[string]bool{"id": true}}}}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.shape.Validate(reg, ent, tc.depth)
			require.Error(t, err)
			assert.True(t, qerrors.IsValidation(err))
		})
	}

	t.Run("valid nested shape", func(t *testing.T) {
		shape := &Shape{
			Select: map[string]bool{"id": true, "title": true, "tags": true},
			Relations: map[string]*RelationShape{
				"tags": {Shape: &Shape{Select: map[string]bool{"name": true}}},
			},
		}
		require.NoError(t, shape.Validate(reg, ent, 5))
	})
}

func TestApplyPageCursorPagination(t *testing.T) {
	reg := blogRegistry(t)
	ent, err := reg.Entity("Post")
	require.NoError(t, err)

	var rows []storage.Row
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, id := range ids {
		rows = append(rows, storage.Row{"id": id, "author_id": "au", "title": "t", "views": int64(i % 3)})
	}

	take := 3
	order := []storage.Order{{Field: "views"}}
	var got []string
	var cursor *storage.UniqueKey
	for {
		page, err := ApplyPage(ent, rows, Page{OrderBy: order, Cursor: cursor, Take: &take})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			got = append(got, row["id"].(string))
		}
		last := page[len(page)-1]
		cursor = &storage.UniqueKey{Fields: []string{"id"}, Values: []any{last["id"]}}
	}

	// Every row exactly once, in a stable global order.
	require.Len(t, got, len(ids))
	seen := map[string]bool{}
	for _, id := range got {
		assert.False(t, seen[id], "row %s paged twice", id)
		seen[id] = true
	}
}

func TestApplyPageDistinctSkipTake(t *testing.T) {
	reg := blogRegistry(t)
	ent, err := reg.Entity("Post")
	require.NoError(t, err)

	rows := []storage.Row{
		{"id": "a", "views": int64(1)},
		{"id": "b", "views": int64(1)},
		{"id": "c", "views": int64(2)},
		{"id": "d", "views": int64(2)},
		{"id": "e", "views": int64(3)},
	}

	t.Run("distinct keeps first per key", func(t *testing.T) {
		out, err := ApplyPage(ent, rows, Page{Distinct: []string{"views"}})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "a", out[0]["id"])
		assert.Equal(t, "c", out[1]["id"])
		assert.Equal(t, "e", out[2]["id"])
	})
	t.Run("skip beyond the set is empty", func(t *testing.T) {
		out, err := ApplyPage(ent, rows, Page{Skip: 10})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
	t.Run("skip then take", func(t *testing.T) {
		take := 2
		out, err := ApplyPage(ent, rows, Page{Skip: 1, Take: &take})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "b", out[0]["id"])
		assert.Equal(t, "c", out[1]["id"])
	})
	t.Run("negative take rejected", func(t *testing.T) {
		take := -1
		_, err := ApplyPage(ent, rows, Page{Take: &take})
		require.Error(t, err)
		assert.True(t, qerrors.IsValidation(err))
	})
	t.Run("missing cursor row yields empty page", func(t *testing.T) {
		cursor := &storage.UniqueKey{Fields: []string{"id"}, Values: []any{"zz"}}
		out, err := ApplyPage(ent, rows, Page{Cursor: cursor})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
