// Package storage provides the key-value persistence layer used by the
// notification engine and the engagement planner.
//
// Values are opaque byte blobs (callers store JSON). Every record is read and
// written independently so a corrupt record never invalidates the others.
//
// Drivers:
//   - "file":   snapshot + append-only journal, periodically compacted
//   - "sqlite": single kv table (modernc.org/sqlite, no cgo)
//   - "redis":  one key per record under a configurable prefix
//   - "memory": process-local map, for tests and dry runs
package storage
