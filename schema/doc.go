/*
Package schema holds the entity metadata the query core runs over: field
definitions with kinds and constraints, relations with their cardinality and
keys, and unique indexes.

Definitions register into a Registry, which validates each entity on Register
and the cross-entity shape (relation targets, foreign keys, junction tables)
on Finalize. A finalized registry is immutable and safe for concurrent reads.

Registries round-trip through YAML for tooling; see MarshalYAML and LoadYAML.
*/
package schema
