// Package ddb implements the storage engine on AWS DynamoDB with a
// single-table layout: one partition per entity, data rows and unique-pointer
// items separated by sort-key prefix. Write transactions buffer locally and
// commit as one TransactWriteItems call, with conditional puts enforcing
// unique constraints first-committer-wins.
package ddb
