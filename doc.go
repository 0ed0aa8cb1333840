/*
Package querycore is a storage-agnostic query and command layer over a fixed
entity schema. It gives callers a uniform, Prisma-style surface for filtered
reads, relation traversal, aggregation, and validated writes, while the
actual persistence sits behind a small storage.Engine interface.

The layer splits into focused packages:
  - schema: entity, field, and relation metadata plus registry validation
  - predicate: filter trees compiled against the schema and evaluated per row
  - resolve: relation traversal, shaping, ordering, and cursor pagination
  - aggregate: grouped counts, extremes, sums, and decimal-exact averages
  - write: validated creates, updates, upserts, and deletes in transactions
  - project: field selection and omission on result rows
  - storage: the engine boundary, with in-memory and DynamoDB backends

Basic Usage:

	reg := commerce.MustNew()
	engine := memstore.New(reg)
	client := querycore.New(reg, engine)

	products := client.Entity(commerce.Product)
	rows, err := products.FindMany(ctx, querycore.FindQuery{
	    Where: &predicate.Where{Conds: []predicate.FieldCond{
	        {Field: "name", Op: predicate.Contains, Value: "shoe"},
	    }},
	})

Writes go through the same client and return the stored row:

	row, err := products.Create(ctx, write.CreateInput{Fields: storage.Row{
	    "name":        "Trail Runner",
	    "category_id": categoryID,
	}}, nil)

Multi-entity write groups commit atomically through Client.Transaction.
*/
package querycore
