// Package outbox persists the change queue: one entry per local mutation,
// written in the same transaction as the entity row and kept until the
// server has acknowledged it.
//
// Entries whose retry_count reached the caller's maxRetries are "poisoned":
// they are skipped by ListUnsynced but stay in the table for diagnostics
// until explicitly purged.
package outbox
