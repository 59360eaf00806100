// Package storage defines the persistence contract for users,
// conversations, messages, tasks and artifacts, along with the sentinel
// errors shared by its adapters.
//
// Two adapters implement Store: memory (process-local, for tests and
// single-node development) and postgres (pgx/v5 with embedded migrations).
package storage
