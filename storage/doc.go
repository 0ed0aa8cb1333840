// Package storage defines the engine boundary: rows of canonical values, point
// lookups by unique key, key-ordered scans, and atomic write transactions.
// Everything above this package is engine-agnostic; memstore and ddb implement
// the contract.
package storage
