/*
Package predicate compiles filter trees against the schema and evaluates them
per row.

A Where combines field conditions, relation conditions, and the And/Or/Not
connectives. Build validates every leaf against the entity definition (field
existence, operator/kind compatibility, operand types) so malformed filters
fail before any storage access. Eval then decides rows one at a time, pulling
related rows through a RelatedFetcher only when a relation condition needs
them.
*/
package predicate
