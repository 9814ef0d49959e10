// Package storage provides a minimal persistence layer used by the broker.
//
// It currently supports:
//   - Queue depth samples appended by the stats flusher
//   - Retention pruning driven by the maintenance service
//
// Drivers: "none" (disabled), "file" (JSONL journal), and "sqlite" behind
// the sqlite build tag.
package storage
