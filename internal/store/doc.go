// ABOUTME: Package documentation for the conversation state store.
// ABOUTME: Explains the persistence model and the Repository contract.

// Package store persists conversation state.
//
// # Overview
//
// The Repository interface is the persistence boundary for the rest of
// the system. Two implementations ship with the module:
//
//   - SQLiteStore writes each session as a single row with the event log,
//     last checkpoint, and metadata stored as JSON columns. Timestamps are
//     stored as fixed-width UTC strings so ordering comparisons in SQL
//     match ordering in Go.
//   - MemoryStore keeps sessions in a map and is used by tests and
//     ephemeral deployments.
//
// # Mutation model
//
// Event appends and checkpoint overwrites are read-modify-write
// operations executed atomically (a transaction in SQLite, the store
// lock in memory), so derived metadata counters stay consistent with the
// event log regardless of how many goroutines log events against the
// same session.
//
// Lookups that miss return ErrNotFound; creating a session whose ID is
// already present returns ErrDuplicateSession.
package store
