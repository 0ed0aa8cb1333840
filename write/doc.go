/*
Package write validates and applies mutations: create, update, upsert, and
delete, in singular and batch form, each inside one engine transaction.

Creates fill declared defaults (generated ids, timestamps, enum defaults) and
enforce nullability, enum membership, numeric bounds, and entity row checks
before anything is staged. Updates support arithmetic ops evaluated against
the stored value inside the transaction. Deletes are refused while required or
restrict-marked relations still reference the row.

Client.Transaction-style grouping is available through Coordinator.InTx, which
binds every operation to one shared transaction.
*/
package write
