// Package records stores entities of every kind in their per-kind SQLite
// tables. Rows keep the shared Base columns, a few denormalized filter
// columns and the full JSON payload.
package records
