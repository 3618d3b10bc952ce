// Package store keeps an audit ledger of conversations in SQLite.
//
// # Data Models
//
//   - Conversation: one task run with its owner key, outcome and final answer
//   - Utterance: one emitted turn, in round order
//
// The ledger is write-mostly. Nothing read from it is ever fed back into a running
// conversation; every task starts with fresh history.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil) in tests.
//
// # Recording
//
// Recorder implements the engine's MessageObserver and LifecycleObserver and writes
// every start, delivery and finish. Write failures are logged, never returned.
package store
