// Package store provides the gateway's command and session journal using SQLite.
//
// # Architecture
//
// JournalStore is the only interface. SQLiteStore implements it on
// modernc.org/sqlite (pure Go, no cgo).
//
// # Data Models
//
//   - CommandRecord: one device command invocation with its outcome, error
//     text, whether the device session was reset, and duration
//   - SessionEvent: one device session transition (connected, login_failed,
//     reset, disconnect_failed)
//
// # SQLite Configuration
//
// File databases run in WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Default: ~/.local/share/roborock/gateway.db
//   - Testing: :memory: (in-memory database, single connection)
//
// # Queries
//
// List methods return newest first. Limit defaults to 50 and is capped at
// 500. Empty filter fields match everything. An empty result is an empty
// slice, never nil.
//
// All methods accept context.Context for cancellation support.
package store
