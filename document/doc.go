// Package document is an immutable JSON document model used for schemaless
// fields. Numbers are decimals end to end, so values survive storage and
// comparison without float drift.
package document
