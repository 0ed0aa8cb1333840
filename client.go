/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package querycore

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/suparena/querycore/config"
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/resolve"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
	"github.com/suparena/querycore/write"
)

// Client is the entry point of the query core. It binds a schema registry to
// a storage engine and hands out per-entity operation sets. A Client is safe
// for concurrent use.
type Client struct {
	reg    *schema.Registry
	engine storage.Engine
	logger zerolog.Logger
	cfg    config.Config

	res   *resolve.Resolver
	coord *write.Coordinator
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithConfig replaces the default tunables.
func WithConfig(cfg config.Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// New creates a Client over a finalized registry and a storage engine.
func New(reg *schema.Registry, engine storage.Engine, opts ...Option) *Client {
	c := &Client{
		reg:    reg,
		engine: engine,
		logger: zerolog.Nop(),
		cfg:    config.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.res = resolve.New(reg,
		resolve.WithLogger(c.logger),
		resolve.WithMaxDepth(c.cfg.MaxTraversalDepth),
	)
	c.coord = write.New(reg, engine,
		write.WithLogger(c.logger),
		write.WithTxOptions(c.txOptions()),
	)
	return c
}

func (c *Client) txOptions() storage.TxOptions {
	return storage.TxOptions{MaxWait: c.cfg.TxMaxWait, Timeout: c.cfg.TxTimeout}
}

// Schema returns the registry the client was built over.
func (c *Client) Schema() *schema.Registry { return c.reg }

// Entity returns the operation set for one entity. The name is validated on
// first use rather than here, matching how callers chain calls.
func (c *Client) Entity(name string) *EntitySet {
	return &EntitySet{client: c, entity: name}
}

// Transaction runs fn with an EntitySet view whose writes all stage on one
// engine transaction. The group commits when fn returns nil and rolls back
// otherwise; reads through the view observe the group's own staged writes.
func (c *Client) Transaction(ctx context.Context, fn func(*TxClient) error) error {
	return c.coord.InTx(ctx, func(ops *write.Ops) error {
		return fn(&TxClient{client: c, ops: ops})
	})
}

// TxClient is a Client view bound to one open transaction.
type TxClient struct {
	client *Client
	ops    *write.Ops
}

// Entity returns the transaction-bound operation set for one entity.
func (t *TxClient) Entity(name string) *EntitySet {
	return &EntitySet{client: t.client, entity: name, ops: t.ops}
}

// readView runs fn against the right read surface: the open transaction when
// inside a group, a fresh engine snapshot otherwise.
func (s *EntitySet) readView(ctx context.Context, fn func(storage.ReadTx) error) error {
	if s.ops != nil {
		return fn(s.ops.Tx())
	}
	return s.client.engine.View(ctx, fn)
}

// notFound builds the error for the OrThrow variants.
func notFound(entity string, key storage.UniqueKey) error {
	return qerrors.NewNotFoundError(entity, keyText(key))
}
